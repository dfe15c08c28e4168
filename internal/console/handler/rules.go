package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/intervention-gateway/internal/console/service"
	"github.com/xela07ax/intervention-gateway/internal/domain"
	"go.uber.org/zap"
)

// RuleService Описываем, что нам нужно от сервиса
type RuleService interface {
	GetByID(ctx context.Context, id string) (*domain.Rule, error)
	GetAll(ctx context.Context) ([]domain.Rule, error)
	Create(ctx context.Context, r *domain.Rule) error
	Update(ctx context.Context, r *domain.Rule) error
	Delete(ctx context.Context, id string) error
}

type RuleHandler struct {
	service RuleService
	logger  *zap.Logger
}

func NewRuleHandler(s RuleService, logger *zap.Logger) *RuleHandler {
	return &RuleHandler{service: s, logger: logger.Named("rules-api")}
}

// Get возвращает правило по ID.
// GET /v1/rules/{id}
func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rule, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to retrieve rule", zap.String("rule_id", id), zap.Error(err))
		http.Error(w, "Failed to retrieve rule", http.StatusInternalServerError)
		return
	}

	// Если правило не найдено (nil), возвращаем 404
	if rule == nil {
		http.Error(w, "Rule not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// List возвращает все правила из БД (файловые правила шлюза здесь не видны)
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.GetAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list rules", zap.Error(err))
		http.Error(w, "Failed to fetch rules", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// Create POST /v1/rules
func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Create(r.Context(), &rule); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// Update PUT /v1/rules/{id}. ID берётся из пути, не из тела.
func (h *RuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	rule.ID = chi.URLParam(r, "id")

	if err := h.service.Update(r.Context(), &rule); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete удаляет правило и инициирует перечитывание кэша на шлюзах
func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError разделяет типы ошибок (400, 404, 500)
func (h *RuleHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRule):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Rule not found", http.StatusNotFound)
	default:
		h.logger.Error("rule operation failed", zap.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}
