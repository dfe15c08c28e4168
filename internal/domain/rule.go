package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound - запрошенной записи нет в хранилище.
var ErrNotFound = errors.New("not found")

// Rule - простое правило-источник кандидатов. Это не язык SecRule: условия
// намеренно примитивны (фаза, метод, префикс URI, заголовок, подстрока тела).
type Rule struct {
	ID    string `json:"id" yaml:"id"`
	Phase Phase  `json:"phase" yaml:"phase"`

	// Условия (пустое - не проверяется)
	Method       string `json:"method,omitempty" yaml:"method,omitempty"`
	URIPrefix    string `json:"uri_prefix,omitempty" yaml:"uri_prefix,omitempty"`
	Header       string `json:"header,omitempty" yaml:"header,omitempty"`
	BodyContains string `json:"body_contains,omitempty" yaml:"body_contains,omitempty"`

	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	// Что предлагает правило при срабатывании
	Candidate `yaml:",inline"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Validate проверяет правило перед сохранением в БД или загрузкой из файла.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule: id is required")
	}
	if r.Phase == PhaseLogging {
		return fmt.Errorf("rule %s: logging phase cannot intervene", r.ID)
	}
	if r.Action == ActionRedirect && r.URL == "" {
		return fmt.Errorf("rule %s: redirect requires url", r.ID)
	}
	if r.PauseMs < 0 {
		return fmt.Errorf("rule %s: pause_ms must be non-negative", r.ID)
	}
	return nil
}
