package connectors

import (
	"errors"
	"fmt"
	"time"
)

// ErrDetectorUnavailable - детектор ответил 5xx или не ответил вовсе.
var ErrDetectorUnavailable = errors.New("detector unavailable")

// ErrDetectorRejected - детектор отверг запрос (4xx кроме 429). Повтор не поможет.
var ErrDetectorRejected = errors.New("detector rejected request")

type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
