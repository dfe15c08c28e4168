package engine

/*
Файл core.go - ядро инспекции транзакции.

Core владеет оценщиками (правила, блоклист, внешний детектор) и менеджером записей.
На каждую транзакцию создаётся Inspection: ровно одна запись вмешательства,
в которую последовательно вливаются кандидаты всех фаз. После каждой фазы (кроме logging)
вызывающий проверяет, стало ли решение disruptive, и отдаёт снимок исполнителю.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/intervention-gateway/internal/audit"
	"github.com/xela07ax/intervention-gateway/internal/domain"
	"github.com/xela07ax/intervention-gateway/internal/intervention"
	"go.uber.org/zap"
)

// Evaluator - источник кандидатов для фазы транзакции.
type Evaluator interface {
	Evaluate(ctx context.Context, tx *domain.Transaction, phase domain.Phase) ([]domain.Candidate, error)
}

// EvaluatorFunc позволяет использовать функцию как Evaluator.
type EvaluatorFunc func(ctx context.Context, tx *domain.Transaction, phase domain.Phase) ([]domain.Candidate, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, tx *domain.Transaction, phase domain.Phase) ([]domain.Candidate, error) {
	return f(ctx, tx, phase)
}

// FailClosedStatus - статус abort, если оценщик упал в режиме fail_closed.
const FailClosedStatus = 503

type registered struct {
	name string
	ev   Evaluator
}

type Core struct {
	mgr        *intervention.Manager
	evaluators []registered
	auditor    audit.Auditor
	metrics    *Metrics
	logger     *zap.Logger
	failClosed bool
}

func NewCore(mgr *intervention.Manager, auditor audit.Auditor, metrics *Metrics, logger *zap.Logger, failClosed bool) *Core {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.TrackLiveRecords(mgr.Live)
	return &Core{
		mgr:        mgr,
		auditor:    auditor,
		metrics:    metrics,
		logger:     logger.Named("core"),
		failClosed: failClosed,
	}
}

// Register добавляет оценщика. Порядок регистрации = порядок слияния кандидатов.
// Вызывать до начала обслуживания трафика.
func (c *Core) Register(name string, ev Evaluator) {
	c.evaluators = append(c.evaluators, registered{name: name, ev: ev})
}

// Begin открывает инспекцию: создаёт чистую запись для транзакции.
func (c *Core) Begin(tx *domain.Transaction) (*Inspection, error) {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	h, err := c.mgr.Create()
	if err != nil {
		c.metrics.ErrorTotal.WithLabelValues("allocation").Inc()
		return nil, fmt.Errorf("begin transaction %s: %w", tx.ID, err)
	}
	c.metrics.TotalTransactions.Inc()
	return &Inspection{
		core:      c,
		tx:        tx,
		handle:    h,
		start:     time.Now(),
		decidedAt: domain.PhaseLogging,
	}, nil
}

// Inspection - состояние одной транзакции. Не потокобезопасна: фазы идут последовательно.
type Inspection struct {
	core   *Core
	tx     *domain.Transaction
	handle *intervention.Handle

	start     time.Time
	decidedAt domain.Phase // фаза, на которой решение стало disruptive
	decided   bool
	errs      []error
	finalized bool // снимок отдан исполнителю, запись больше не меняется
	closed    bool
}

func (in *Inspection) Transaction() *domain.Transaction { return in.tx }

// Current - текущее эффективное решение без запечатывания записи.
func (in *Inspection) Current() domain.Intervention { return in.handle.Snapshot() }

// Process прогоняет оценщиков фазы и вливает их кандидатов в запись.
// Возвращает true, если решение стало disruptive: обработку пора прерывать.
// После abort остальные оценщики и следующие фазы пропускаются. Logging выполняется,
// пока решение не исполнено (Finalize), и только накапливает лог.
func (in *Inspection) Process(ctx context.Context, phase domain.Phase) (bool, error) {
	c := in.core
	if in.closed {
		return false, fmt.Errorf("process %s: %w", phase, intervention.ErrInvalidState)
	}
	// Решение уже исполнено: как и при прерывании транзакции, logging не запускается
	if in.finalized && phase == domain.PhaseLogging {
		return false, nil
	}
	if in.handle.Action() == domain.ActionAbort && phase != domain.PhaseLogging {
		return true, nil
	}

	start := time.Now()
	defer func() {
		c.metrics.PhaseDuration.WithLabelValues(phase.String()).Observe(time.Since(start).Seconds())
	}()

	var phaseErrs []error
	for _, r := range c.evaluators {
		if err := ctx.Err(); err != nil {
			phaseErrs = append(phaseErrs, err)
			break
		}

		candidates, err := r.ev.Evaluate(ctx, in.tx, phase)
		if err != nil {
			c.metrics.ErrorTotal.WithLabelValues("evaluator").Inc()
			c.logger.Error("evaluator failed",
				zap.String("evaluator", r.name),
				zap.String("phase", phase.String()),
				zap.String("tx_id", in.tx.ID),
				zap.Error(err))
			phaseErrs = append(phaseErrs, fmt.Errorf("%s: %w", r.name, err))

			if c.failClosed {
				candidates = append(candidates, domain.Candidate{
					Action: domain.ActionAbort,
					Status: FailClosedStatus,
					Log:    fmt.Sprintf("evaluator %s failed", r.name),
				})
			}
		}

		for _, cand := range candidates {
			if phase == domain.PhaseLogging {
				// ответ уже отдан: от кандидата остаются только лог и пауза
				cand = domain.Candidate{Log: cand.Log, PauseMs: cand.PauseMs}
			}
			if err := in.merge(r.name, cand); err != nil {
				phaseErrs = append(phaseErrs, err)
			}
		}

		if in.handle.Action() == domain.ActionAbort && phase != domain.PhaseLogging {
			break
		}
	}
	in.errs = append(in.errs, phaseErrs...)

	disruptive := in.handle.Action().Disruptive()
	if disruptive && !in.decided && phase != domain.PhaseLogging {
		in.decided = true
		in.decidedAt = phase
	}
	if phase == domain.PhaseLogging {
		return false, errors.Join(phaseErrs...)
	}
	return disruptive, errors.Join(phaseErrs...)
}

// Finalize запечатывает запись и отдаёт снимок исполнителю.
func (in *Inspection) Finalize() (domain.Intervention, error) {
	iv, err := in.core.mgr.Finalize(in.handle)
	if err == nil {
		in.finalized = true
	}
	return iv, err
}

// merge вливает кандидата. Если не хватило памяти, решение важнее лога:
// кандидат вливается повторно без лога, а если и это не вышло, disruptive кандидат
// в режиме fail_closed заменяется на abort 503 без лога.
func (in *Inspection) merge(evaluator string, cand domain.Candidate) error {
	c := in.core
	_, err := c.mgr.Merge(in.handle, cand)
	if err == nil {
		return nil
	}
	c.metrics.ErrorTotal.WithLabelValues("merge").Inc()
	if !errors.Is(err, intervention.ErrAllocationFailed) {
		c.logger.Warn("candidate dropped",
			zap.String("evaluator", evaluator),
			zap.String("tx_id", in.tx.ID),
			zap.Error(err))
		return err
	}

	if cand.Log != "" {
		bare := cand
		bare.Log = ""
		if _, retryErr := c.mgr.Merge(in.handle, bare); retryErr == nil {
			c.logger.Warn("candidate log dropped",
				zap.String("evaluator", evaluator),
				zap.String("tx_id", in.tx.ID),
				zap.String("action", cand.Action.String()),
				zap.Error(err))
			return err
		}
	}

	if c.failClosed && cand.Action.Disruptive() {
		if _, fcErr := c.mgr.Merge(in.handle, domain.Candidate{Action: domain.ActionAbort, Status: FailClosedStatus}); fcErr != nil {
			c.logger.Error("fail-closed abort not merged", zap.String("tx_id", in.tx.ID), zap.Error(fcErr))
			return errors.Join(err, fcErr)
		}
	}
	c.logger.Warn("candidate dropped",
		zap.String("evaluator", evaluator),
		zap.String("tx_id", in.tx.ID),
		zap.Bool("fail_closed", c.failClosed),
		zap.Error(err))
	return err
}

// Close пишет итог в аудит и освобождает запись. Идемпотентен.
func (in *Inspection) Close() {
	if in == nil || in.closed {
		return
	}
	in.closed = true
	c := in.core

	iv := in.handle.Snapshot()
	phase := in.decidedAt
	c.metrics.Interventions.WithLabelValues(iv.Action().String(), phase.String()).Inc()

	_, hasLog := iv.Log()
	if c.auditor != nil && (iv.Disruptive() || hasLog || len(in.errs) > 0) {
		c.auditor.Log(in.event(iv, phase))
	}

	c.mgr.Release(in.handle)
}

func (in *Inspection) event(iv domain.Intervention, phase domain.Phase) audit.Event {
	url, _ := iv.URL()
	logMsg, _ := iv.Log()
	ev := audit.Event{
		ID:            uuid.New().String(),
		TransactionID: in.tx.ID,
		ClientAddr:    in.tx.ClientAddr,
		Method:        in.tx.Method,
		URI:           in.tx.URI,
		Phase:         phase.String(),
		Action:        iv.Action().String(),
		Status:        iv.Status(),
		URL:           url,
		Log:           logMsg,
		PauseMs:       iv.PauseMs(),
		Timestamp:     in.start,
		DurationMs:    time.Since(in.start).Milliseconds(),
	}
	if err := errors.Join(in.errs...); err != nil {
		ev.Error = err.Error()
	}
	return ev
}
