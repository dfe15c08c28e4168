package intervention

import (
	"fmt"
	"sync/atomic"
)

// Allocator учитывает память, которой владеют записи вмешательства (url, log и сама запись).
// Reserve может отказать - это и есть "allocation failed" на границе ядра.
type Allocator interface {
	Reserve(n int) error
	Release(n int)
}

// Budget - общий потокобезопасный лимит байт на все живые записи шлюза.
// limit <= 0 означает "без лимита", но учёт всё равно ведётся: по нему ловим утечки и двойное освобождение.
type Budget struct {
	limit     int64
	used      atomic.Int64
	underflow atomic.Int64
}

func NewBudget(limit int64) *Budget {
	return &Budget{limit: limit}
}

func (b *Budget) Reserve(n int) error {
	if n <= 0 {
		return nil
	}
	for {
		cur := b.used.Load()
		next := cur + int64(n)
		if b.limit > 0 && next > b.limit {
			return fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrAllocationFailed, n, cur, b.limit)
		}
		if b.used.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Release возвращает байты в бюджет. Возврат сверх занятого не уводит счётчик в минус,
// а фиксируется в Underflows() как нарушение (double free).
func (b *Budget) Release(n int) {
	if n <= 0 {
		return
	}
	for {
		cur := b.used.Load()
		next := cur - int64(n)
		if next < 0 {
			if b.used.CompareAndSwap(cur, 0) {
				b.underflow.Add(1)
				return
			}
			continue
		}
		if b.used.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Used - сколько байт сейчас занято живыми записями.
func (b *Budget) Used() int64 { return b.used.Load() }

// Underflows - сколько раз освобождали больше, чем было занято.
func (b *Budget) Underflows() int64 { return b.underflow.Load() }

func (b *Budget) Limit() int64 { return b.limit }
