package intervention

import "errors"

var (
	// ErrAllocationFailed - не удалось зарезервировать память под запись или её строки.
	// Состояние вызывающего при этом не меняется.
	ErrAllocationFailed = errors.New("intervention: allocation failed")

	// ErrInvalidState - операция над записью, которая уже отдана исполнителю или освобождена.
	ErrInvalidState = errors.New("intervention: invalid state")
)
