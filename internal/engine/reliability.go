package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/intervention-gateway/internal/connectors"
	"github.com/xela07ax/intervention-gateway/internal/domain"
	"golang.org/x/time/rate"
)

// ReliabilityConfig - параметры защиты внешнего оценщика.
type ReliabilityConfig struct {
	Name        string
	RPS         float64
	Burst       int
	Attempts    uint
	CallTimeout time.Duration

	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration // Время, через которое CB попробует "закрыться"
}

// ReliableEvaluator оборачивает сетевой оценщик: rate limit, circuit breaker, retries.
type ReliableEvaluator struct {
	next     Evaluator
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
	timeout  time.Duration
}

func NewReliableEvaluator(next Evaluator, cfg ReliabilityConfig, metrics *Metrics) *ReliableEvaluator {
	if cfg.Name == "" {
		cfg.Name = "detector"
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Second
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд - открываемся
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(float64(gobreaker.StateClosed))

	return &ReliableEvaluator{
		next:     next,
		cb:       cb,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		attempts: cfg.Attempts,
		timeout:  cfg.CallTimeout,
	}
}

func (w *ReliableEvaluator) Evaluate(ctx context.Context, tx *domain.Transaction, phase domain.Phase) ([]domain.Candidate, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	var out []domain.Candidate

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если детектор вернул ThrottleError (считал Retry-After заголовок)
				// ждать дольше таймаута вызова на пути запроса нельзя
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return min(tErr.RetryAfter, w.timeout)
				}

				// В остальных случаях (сетевой лаг, 500-ка) - стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()

			var callErr error
			out, callErr = w.next.Evaluate(tCtx, tx, phase)
			if callErr != nil && !w.retryable(callErr) {
				return retry.Unrecoverable(callErr)
			}
			return callErr
		})

		return nil, retryErr
	})

	if err != nil {
		return nil, err
	}
	return out, nil
}

// retryable: отказ детектора и троттлинг дольше таймаута вызова не повторяем.
func (w *ReliableEvaluator) retryable(err error) bool {
	if errors.Is(err, connectors.ErrDetectorRejected) {
		return false
	}
	var tErr *connectors.ThrottleError
	if errors.As(err, &tErr) && tErr.RetryAfter > w.timeout {
		return false
	}
	return true
}

// State - текущее состояние предохранителя (для health и тестов).
func (w *ReliableEvaluator) State() gobreaker.State { return w.cb.State() }
