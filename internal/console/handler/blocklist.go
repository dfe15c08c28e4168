package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/intervention-gateway/internal/console/service"
	"github.com/xela07ax/intervention-gateway/internal/infra/auth"
	"go.uber.org/zap"
)

type BlocklistService interface {
	Block(ctx context.Context, addr string) error
	Unblock(ctx context.Context, addr string) error
}

type BlocklistHandler struct {
	service BlocklistService
	logger  *zap.Logger
}

func NewBlocklistHandler(s BlocklistService, logger *zap.Logger) *BlocklistHandler {
	return &BlocklistHandler{service: s, logger: logger.Named("blocklist-api")}
}

// Block POST /v1/blocklist/{ip}/block - мгновенная блокировка клиента на всех шлюзах
func (h *BlocklistHandler) Block(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, h.service.Block)
}

// Unblock POST /v1/blocklist/{ip}/unblock
func (h *BlocklistHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, h.service.Unblock)
}

func (h *BlocklistHandler) update(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	ip := chi.URLParam(r, "ip")

	// Ждем и БД, и сигнала: оператор должен знать, что блокировка сохранена
	if err := op(r.Context(), ip); err != nil {
		if errors.Is(err, service.ErrInvalidAddr) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("blocklist update failed",
			zap.String("client", ip),
			zap.String("operator", auth.UserID(r.Context())),
			zap.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
