package audit

/*
Файл trail.go - журнал вмешательств (Audit Trail).

- Non-blocking Logging: события из Hot Path кладутся в буферизированный канал,
  задержки БД не влияют на время ответа.
- Batching: пачки по 100 событий или по таймеру.
- Drain Pattern: Stop закрывает канал и ждёт финальный flush, события не теряются при рестарте.
*/

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const batchSize = 100

// Storage определяет, куда физически сохраняются события
type Storage interface {
	WriteBatch(ctx context.Context, events []Event) error
}

type Auditor interface {
	Log(event Event)
}

type Trail struct {
	ch            chan Event
	repo          Storage
	logger        *zap.Logger
	flushInterval time.Duration
	wg            sync.WaitGroup

	// mu: Log держит RLock на время отправки, Stop берёт Lock перед close(ch)
	mu     sync.RWMutex
	closed bool
	// OnFill вызывается с текущей заполненностью буфера (для метрики backpressure)
	onFill func(n int)
}

func NewTrail(repo Storage, bufferSize int, flushInterval time.Duration, logger *zap.Logger) *Trail {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Trail{
		ch:            make(chan Event, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "audit")),
		flushInterval: flushInterval,
		onFill:        func(int) {},
	}
}

// OnFill регистрирует наблюдателя заполненности буфера. Вызывать до Start.
func (t *Trail) OnFill(fn func(n int)) {
	if fn != nil {
		t.onFill = fn
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход и ждёт, пока воркер всё допишет.
func (t *Trail) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

func (t *Trail) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении не блокируем транзакцию, а пишем в лог
	select {
	case t.ch <- event:
		t.onFill(len(t.ch))
	default:
		t.logger.Error("audit_buffer_overflow",
			zap.String("transaction_id", event.TransactionID),
			zap.String("action", event.Action),
			zap.String("log", event.Log),
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Event, 0, batchSize)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст к этому моменту может быть уже закрыт
			if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
				t.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
			}
			batch = batch[:0]
		}
		t.onFill(len(t.ch))
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): остатки уже вычитаны, финальный flush и выход
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
