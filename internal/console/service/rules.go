package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xela07ax/intervention-gateway/internal/domain"
	"github.com/xela07ax/intervention-gateway/internal/infra"
	"go.uber.org/zap"
)

// ErrInvalidRule - правило не прошло валидацию (для 400 в хендлере).
var ErrInvalidRule = errors.New("invalid rule")

// RuleRepository описывает требования сервиса к хранилищу правил
type RuleRepository interface {
	GetRuleByID(ctx context.Context, id string) (*domain.Rule, error)
	GetAllRules(ctx context.Context) ([]domain.Rule, error)
	CreateRule(ctx context.Context, r *domain.Rule) error
	UpdateRule(ctx context.Context, r *domain.Rule) error
	DeleteRule(ctx context.Context, id string) error
}

type RuleService struct {
	repo     RuleRepository
	notifier Notifier
	logger   *zap.Logger
}

func NewRuleService(repo RuleRepository, notifier Notifier, logger *zap.Logger) *RuleService {
	return &RuleService{
		repo:     repo,
		notifier: notifier,
		logger:   logger.Named("rule-service"),
	}
}

func (s *RuleService) GetByID(ctx context.Context, id string) (*domain.Rule, error) {
	return s.repo.GetRuleByID(ctx, id)
}

// GetAll возвращает все правила из БД. Пустой список - [], а не null.
func (s *RuleService) GetAll(ctx context.Context) ([]domain.Rule, error) {
	rules, err := s.repo.GetAllRules(ctx)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []domain.Rule{}
	}
	return rules, nil
}

// Create сохраняет правило и уведомляет шлюзы об обновлении
func (s *RuleService) Create(ctx context.Context, r *domain.Rule) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if err := s.repo.CreateRule(ctx, r); err != nil {
		return err
	}
	return s.notifyUpdate(ctx, "create", r.ID)
}

// Update обновляет правило и инициирует перечитывание кэша на шлюзах
func (s *RuleService) Update(ctx context.Context, r *domain.Rule) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if err := s.repo.UpdateRule(ctx, r); err != nil {
		return err
	}
	return s.notifyUpdate(ctx, "update", r.ID)
}

func (s *RuleService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteRule(ctx, id); err != nil {
		return err
	}
	return s.notifyUpdate(ctx, "delete", id)
}

// notifyUpdate отправляет широковещательный сигнал.
// Сигнал простой "refresh": шлюз сам перечитает файлы и всю таблицу.
func (s *RuleService) notifyUpdate(ctx context.Context, op, id string) error {
	if err := s.notifier.Notify(ctx, infra.RedisChanRulesUpdate, "refresh"); err != nil {
		// изменение уже в БД, шлюзы подхватят его при следующем Refresh
		s.logger.Warn("rules update signal failed", zap.String("op", op), zap.String("rule_id", id), zap.Error(err))
		return fmt.Errorf("rule saved but signal not delivered: %w", err)
	}
	s.logger.Info("rule changed", zap.String("op", op), zap.String("rule_id", id))
	return nil
}
