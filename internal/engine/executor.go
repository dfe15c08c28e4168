package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/xela07ax/intervention-gateway/internal/domain"
	"go.uber.org/zap"
)

// ActionExecutor реализует итоговое решение на транспорте.
// handled=true означает, что ответ клиенту уже записан и обычный поток прерван.
type ActionExecutor interface {
	Execute(ctx context.Context, w http.ResponseWriter, r *http.Request, iv domain.Intervention) (handled bool)
}

// HTTPExecutor - исполнитель по умолчанию для HTTP-шлюза.
type HTTPExecutor struct {
	logger *zap.Logger
	// sleep подменяется в тестах
	sleep func(ctx context.Context, d time.Duration) error
}

func NewHTTPExecutor(logger *zap.Logger) *HTTPExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPExecutor{
		logger: logger.Named("executor"),
		sleep:  sleepCtx,
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, w http.ResponseWriter, r *http.Request, iv domain.Intervention) bool {
	if msg, ok := iv.Log(); ok {
		e.logger.Info("intervention",
			zap.String("action", iv.Action().String()),
			zap.Int("status", iv.Status()),
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.String("log", msg))
	}

	switch iv.Action() {
	case domain.ActionAbort:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(iv.Status())
		_, _ = w.Write([]byte(http.StatusText(iv.Status()) + "\n"))
		return true

	case domain.ActionRedirect:
		url, _ := iv.URL()
		w.Header().Set("Location", url)
		w.WriteHeader(iv.Status())
		return true
	}

	// continue: пауза перед возобновлением, клиент ушёл - не ждём
	if d := iv.Pause(); d > 0 {
		if err := e.sleep(ctx, d); err != nil {
			e.logger.Debug("pause interrupted", zap.Error(err))
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
