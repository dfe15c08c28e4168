package policy

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/intervention-gateway/internal/domain"
	"go.uber.org/zap"
)

type RuleRepository interface {
	GetAllRules(ctx context.Context) ([]domain.Rule, error)
}

// RuleSet - In-memory кэш правил, сгруппированных по фазам. Шлюз на горячем пути
// работает только с памятью; Postgres и файлы читаются в Refresh().
type RuleSet struct {
	mu     sync.RWMutex
	phases map[domain.Phase][]domain.Rule

	repo     RuleRepository // может быть nil - тогда только файлы
	rulesDir string
	rdb      *redis.Client
	logger   *zap.Logger
}

func NewRuleSet(repo RuleRepository, rulesDir string, rdb *redis.Client, logger *zap.Logger) *RuleSet {
	return &RuleSet{
		phases:   make(map[domain.Phase][]domain.Rule),
		repo:     repo,
		rulesDir: rulesDir,
		rdb:      rdb,
		logger:   logger.Named("ruleset"),
	}
}

// Evaluate возвращает кандидатов всех сработавших правил фазы в порядке загрузки.
func (s *RuleSet) Evaluate(_ context.Context, tx *domain.Transaction, phase domain.Phase) ([]domain.Candidate, error) {
	s.mu.RLock()
	rules := s.phases[phase]
	s.mu.RUnlock()

	var out []domain.Candidate
	for i := range rules {
		r := &rules[i]
		if !matches(r, tx) {
			continue
		}
		c := r.Candidate
		if c.Log != "" {
			c.Log = fmt.Sprintf("[id %q] %s", r.ID, c.Log)
		}
		out = append(out, c)
	}
	return out, nil
}

func matches(r *domain.Rule, tx *domain.Transaction) bool {
	if r.Method != "" && !strings.EqualFold(r.Method, tx.Method) {
		return false
	}
	if r.URIPrefix != "" && !strings.HasPrefix(tx.URI, r.URIPrefix) {
		return false
	}
	if r.Header != "" {
		headers := tx.RequestHeaders
		if r.Phase >= domain.PhaseResponseHeaders {
			headers = tx.ResponseHeaders
		}
		if headers.Get(r.Header) == "" {
			return false
		}
	}
	if r.BodyContains != "" {
		body := tx.RequestBody
		if r.Phase >= domain.PhaseResponseHeaders {
			body = tx.ResponseBody
		}
		if !bytes.Contains(body, []byte(r.BodyContains)) {
			return false
		}
	}
	return true
}

// Replace атомарно подменяет весь набор правил.
func (s *RuleSet) Replace(rules []domain.Rule) int {
	next := make(map[domain.Phase][]domain.Rule)
	n := 0
	for _, r := range rules {
		if r.Disabled {
			continue
		}
		if err := r.Validate(); err != nil {
			s.logger.Warn("rule skipped", zap.Error(err))
			continue
		}
		next[r.Phase] = append(next[r.Phase], r)
		n++
	}

	s.mu.Lock()
	s.phases = next
	s.mu.Unlock()
	return n
}

// Refresh перечитывает файлы правил и таблицу waf_rules. Файлы идут первыми.
func (s *RuleSet) Refresh(ctx context.Context) error {
	var all []domain.Rule

	if s.rulesDir != "" {
		fileRules, err := LoadDir(s.rulesDir, s.logger)
		if err != nil {
			return err
		}
		all = append(all, fileRules...)
	}

	if s.repo != nil {
		dbRules, err := s.repo.GetAllRules(ctx)
		if err != nil {
			return fmt.Errorf("load rules from db: %w", err)
		}
		all = append(all, dbRules...)
	}

	n := s.Replace(all)
	s.logger.Info("rule cache refreshed", zap.Int("count", n))
	return nil
}

// Count - количество активных правил (для health и тестов).
func (s *RuleSet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rules := range s.phases {
		n += len(rules)
	}
	return n
}
