package postgres

/*
Файл rule_repo.go - долговременное хранение правил. Шлюз читает их целиком
в память (policy.RuleSet) при старте и по сигналу обновления, консоль - правит.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xela07ax/intervention-gateway/internal/domain"
)

// ErrNotFound - общий для консоли признак "нет такой записи".
var ErrNotFound = domain.ErrNotFound

type RuleRepo struct {
	db *sql.DB
}

func NewRuleRepo(db *sql.DB) *RuleRepo {
	return &RuleRepo{db: db}
}

const ruleColumns = "id, phase, method, uri_prefix, header, body_contains, action, status, url, log, pause_ms, disabled, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(s rowScanner) (domain.Rule, error) {
	var (
		r      domain.Rule
		phase  string
		action string
	)
	err := s.Scan(&r.ID, &phase, &r.Method, &r.URIPrefix, &r.Header, &r.BodyContains,
		&action, &r.Status, &r.URL, &r.Log, &r.PauseMs, &r.Disabled, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	if r.Phase, err = domain.ParsePhase(phase); err != nil {
		return r, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if r.Action, err = domain.ParseAction(action); err != nil {
		return r, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return r, nil
}

// GetAllRules - "холодная загрузка" всего набора правил.
func (r *RuleRepo) GetAllRules(ctx context.Context) ([]domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM waf_rules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rule)
	}
	return results, rows.Err()
}

func (r *RuleRepo) GetRuleByID(ctx context.Context, id string) (*domain.Rule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM waf_rules WHERE id = $1`, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Возвращаем nil для 404 в хендлере
		}
		return nil, err
	}
	return &rule, nil
}

func (r *RuleRepo) CreateRule(ctx context.Context, rule *domain.Rule) error {
	query := `
		INSERT INTO waf_rules (id, phase, method, uri_prefix, header, body_contains, action, status, url, log, pause_ms, disabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Phase.String(), rule.Method, rule.URIPrefix, rule.Header, rule.BodyContains,
		rule.Action.String(), rule.Status, rule.URL, rule.Log, rule.PauseMs, rule.Disabled)
	if err != nil {
		return fmt.Errorf("postgres: failed to create rule: %w", err)
	}
	return nil
}

func (r *RuleRepo) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	query := `
		UPDATE waf_rules
		SET phase = $1, method = $2, uri_prefix = $3, header = $4, body_contains = $5,
		    action = $6, status = $7, url = $8, log = $9, pause_ms = $10, disabled = $11, updated_at = NOW()
		WHERE id = $12`

	res, err := r.db.ExecContext(ctx, query,
		rule.Phase.String(), rule.Method, rule.URIPrefix, rule.Header, rule.BodyContains,
		rule.Action.String(), rule.Status, rule.URL, rule.Log, rule.PauseMs, rule.Disabled, rule.ID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrNotFound)
	}
	return nil
}

func (r *RuleRepo) DeleteRule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM waf_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}
