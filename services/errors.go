package services

import "fmt"

// ErrorKind classifies a domain error so handlers can map it to an HTTP status
// without inspecting message text.
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindNotFound
	KindConflict
	KindPrecondition
	KindPersistence
)

// DomainError is the error type returned by every orchestrator operation.
// Validation/not-found/conflict/precondition errors are synchronous rejections
// with no state change; persistence errors are retryable.
type DomainError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *DomainError) Unwrap() error { return e.Err }

func NewValidationError(format string, args ...interface{}) *DomainError {
	return &DomainError{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(format string, args ...interface{}) *DomainError {
	return &DomainError{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func NewConflictError(format string, args ...interface{}) *DomainError {
	return &DomainError{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func NewPreconditionError(format string, args ...interface{}) *DomainError {
	return &DomainError{Kind: KindPrecondition, Msg: fmt.Sprintf(format, args...)}
}

func NewPersistenceError(msg string, err error) *DomainError {
	return &DomainError{Kind: KindPersistence, Msg: msg, Err: err}
}

// KindOf reports the classification of err, or (0, false) for non-domain errors.
func KindOf(err error) (ErrorKind, bool) {
	de, ok := err.(*DomainError)
	if !ok {
		return 0, false
	}
	return de.Kind, true
}
