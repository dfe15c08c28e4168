package intervention

/*
Файл manager.go - Lifecycle Manager записей вмешательства.

Одна запись принадлежит ровно одной транзакции:
  Create (чистая запись) -> Merge* (только пока запись у движка) -> Finalize (снимок исполнителю) -> Release.

Память строк url/log учитывается через Allocator: каждая строка резервируется при появлении
и возвращается ровно один раз - при замене или в Release. Release тотален и идемпотентен.
*/

import (
	"fmt"
	"sync/atomic"

	"github.com/xela07ax/intervention-gateway/internal/domain"
	"go.uber.org/zap"
)

// recordSize - условный "вес" самой записи в бюджете.
const recordSize = 64

type handleState int32

const (
	stateOpen handleState = iota
	stateFinalized
	stateReleased
)

// Options - ограничения и дефолты слияния.
type Options struct {
	MaxLogBytes int // 0 - без ограничения на запись
	MaxURLBytes int

	DefaultAbortStatus    int
	DefaultRedirectStatus int
}

func DefaultOptions() Options {
	return Options{
		MaxLogBytes:           64 * 1024,
		MaxURLBytes:           8 * 1024,
		DefaultAbortStatus:    domain.DefaultAbortStatus,
		DefaultRedirectStatus: domain.DefaultRedirectStatus,
	}
}

// Handle - владеющая ссылка на запись одной транзакции. Не потокобезопасен:
// правила одной транзакции сливаются последовательно.
type Handle struct {
	rec   record
	state handleState
	mgr   *Manager
}

type Manager struct {
	alloc  Allocator
	opts   Options
	logger *zap.Logger

	live     atomic.Int64
	released atomic.Int64
}

func NewManager(alloc Allocator, opts Options, logger *zap.Logger) *Manager {
	if alloc == nil {
		alloc = NewBudget(0)
	}
	if !validStatus(opts.DefaultAbortStatus) {
		opts.DefaultAbortStatus = domain.DefaultAbortStatus
	}
	if !validStatus(opts.DefaultRedirectStatus) {
		opts.DefaultRedirectStatus = domain.DefaultRedirectStatus
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		alloc:  alloc,
		opts:   opts,
		logger: logger.Named("intervention"),
	}
}

// Create выдаёт чистую запись: allow, 200, без url/log, пауза 0.
func (m *Manager) Create() (*Handle, error) {
	if err := m.alloc.Reserve(recordSize); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	m.live.Add(1)
	return &Handle{rec: cleanRecord(), mgr: m}, nil
}

// Merge вливает кандидата в эффективную запись. Операция атомарна:
// при ошибке запись остаётся ровно такой, какой была до вызова.
func (m *Manager) Merge(h *Handle, c domain.Candidate) (*Handle, error) {
	if h == nil {
		return nil, fmt.Errorf("merge into nil record: %w", ErrInvalidState)
	}
	if h.state != stateOpen {
		return h, fmt.Errorf("merge into %s record: %w", h.state, ErrInvalidState)
	}

	next := fold(h.rec, c, m.opts)

	urlChanged := next.hasURL != h.rec.hasURL || next.url != h.rec.url
	logChanged := next.hasLog != h.rec.hasLog || next.log != h.rec.log

	if urlChanged && m.opts.MaxURLBytes > 0 && next.ownedURL() > m.opts.MaxURLBytes {
		return h, fmt.Errorf("redirect url of %d bytes exceeds %d: %w", next.ownedURL(), m.opts.MaxURLBytes, ErrAllocationFailed)
	}
	if logChanged && m.opts.MaxLogBytes > 0 && next.ownedLog() > m.opts.MaxLogBytes {
		return h, fmt.Errorf("log of %d bytes exceeds %d: %w", next.ownedLog(), m.opts.MaxLogBytes, ErrAllocationFailed)
	}

	// Сначала резервируем всё новое, и только потом трогаем запись.
	if urlChanged {
		if err := m.alloc.Reserve(next.ownedURL()); err != nil {
			return h, fmt.Errorf("reserve url: %w", err)
		}
	}
	if logChanged {
		if err := m.alloc.Reserve(next.ownedLog()); err != nil {
			if urlChanged {
				m.alloc.Release(next.ownedURL())
			}
			return h, fmt.Errorf("reserve log: %w", err)
		}
	}

	if urlChanged {
		m.alloc.Release(h.rec.ownedURL())
	}
	if logChanged {
		m.alloc.Release(h.rec.ownedLog())
	}
	h.rec = next
	return h, nil
}

// Finalize запечатывает запись и отдаёт неизменяемый снимок исполнителю.
// Повторный вызов возвращает тот же снимок.
func (m *Manager) Finalize(h *Handle) (domain.Intervention, error) {
	if h == nil || h.state == stateReleased {
		return domain.CleanIntervention(), fmt.Errorf("finalize: %w", ErrInvalidState)
	}
	h.state = stateFinalized
	return h.rec.snapshot(), nil
}

// Release освобождает url и log (каждую независимо), затем саму запись.
// nil и уже освобождённая запись - безопасный no-op.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}
	if h.state == stateReleased {
		m.logger.Debug("release of already released record ignored")
		return
	}
	if h.rec.hasURL {
		m.alloc.Release(h.rec.ownedURL())
	}
	if h.rec.hasLog {
		m.alloc.Release(h.rec.ownedLog())
	}
	m.alloc.Release(recordSize)

	h.rec = cleanRecord()
	h.state = stateReleased
	m.live.Add(-1)
	m.released.Add(1)
}

// Live - сколько записей создано и ещё не освобождено. Для метрик и поиска утечек.
func (m *Manager) Live() int64 { return m.live.Load() }

// Released - сколько записей освобождено за всё время.
func (m *Manager) Released() int64 { return m.released.Load() }

// Аксессоры только на чтение. На освобождённой записи и nil возвращают значения чистой записи.

func (h *Handle) Action() domain.Action {
	if h == nil {
		return domain.ActionAllow
	}
	return h.rec.action
}

func (h *Handle) Status() int {
	if h == nil {
		return domain.StatusClean
	}
	return h.rec.status
}

func (h *Handle) URL() (string, bool) {
	if h == nil {
		return "", false
	}
	return h.rec.url, h.rec.hasURL
}

func (h *Handle) Log() (string, bool) {
	if h == nil {
		return "", false
	}
	return h.rec.log, h.rec.hasLog
}

func (h *Handle) PauseMs() int64 {
	if h == nil {
		return 0
	}
	return h.rec.pauseMs
}

// Snapshot - копия текущего состояния без запечатывания.
func (h *Handle) Snapshot() domain.Intervention {
	if h == nil {
		return domain.CleanIntervention()
	}
	return h.rec.snapshot()
}

func (h *Handle) Released() bool { return h == nil || h.state == stateReleased }

func (s handleState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateFinalized:
		return "finalized"
	case stateReleased:
		return "released"
	default:
		return "unknown"
	}
}
