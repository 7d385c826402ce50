package domain

import (
	"errors"
	"fmt"
)

// ErrCycleInProgress возвращается, если проверка уже выполняется.
var ErrCycleInProgress = errors.New("проверка уже выполняется")

// ValidationError: запись без обязательного поля идентичности.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("некорректная запись: поле %s=%q", e.Field, e.Value)
	}
	return fmt.Sprintf("некорректная запись: нет поля %s", e.Field)
}

// FetchErrorKind классифицирует ошибку загрузки.
type FetchErrorKind string

const (
	FetchTimeout    FetchErrorKind = "timeout"
	FetchConnection FetchErrorKind = "connection"
	FetchHTTPStatus FetchErrorKind = "http_status"
)

// FetchError: ошибка загрузки страницы оферт.
type FetchError struct {
	Kind   FetchErrorKind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTPStatus {
		return fmt.Sprintf("fetch: http status %d", e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch: %s", e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient сообщает, имеет ли смысл повторить загрузку.
func (e *FetchError) Transient() bool {
	switch e.Kind {
	case FetchTimeout, FetchConnection:
		return true
	case FetchHTTPStatus:
		return e.Status == 0 || e.Status == 408 || e.Status == 429 || e.Status >= 500
	}
	return false
}

// DiffWarningEmptyFetch: выдача пустая, удалять ничего нельзя.
const DiffWarningEmptyFetch = "empty_fetch"

// DiffWarning: подозрительная, но не повреждённая выдача.
type DiffWarning struct {
	Reason string
}

func (e *DiffWarning) Error() string {
	return "diff: подозрительная выдача: " + e.Reason
}

// StorageError: сбой сохранения состояния.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// CompositionError: сбой персонализации письма.
type CompositionError struct {
	Err error
}

func (e *CompositionError) Error() string {
	return "composer: " + e.Err.Error()
}

func (e *CompositionError) Unwrap() error { return e.Err }

// DeliveryError: сбой доставки одного уведомления.
type DeliveryError struct {
	Key       string
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("доставка %s получателю %s: %v", e.Key, e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
