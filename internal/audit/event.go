package audit

import "time"

// Event - запись аудита об итоговом вмешательстве по транзакции.
type Event struct {
	ID            string `json:"id"`             // UUID события
	TransactionID string `json:"transaction_id"` // Сквозной ID транзакции (X-Transaction-ID)
	ClientAddr    string `json:"client_addr"`
	Method        string `json:"method"`
	URI           string `json:"uri"`

	// Решение
	Phase   string `json:"phase"`  // на какой фазе решение стало итоговым
	Action  string `json:"action"` // allow, redirect, abort
	Status  int    `json:"status"`
	URL     string `json:"url,omitempty"`
	Log     string `json:"log,omitempty"`
	PauseMs int64  `json:"pause_ms"`

	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"` // Время обработки
	Error      string    `json:"error,omitempty"`
}

// Filter - параметры выборки для консоли. Пустые поля не фильтруют.
type Filter struct {
	ClientAddr string
	Action     string
	Limit      int
}
