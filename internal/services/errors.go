package services

import (
	"errors"
	"fmt"

	"github.com/ruralpay/agentledger/internal/store"
)

// ErrorKind classifies every failure an operation can return.
type ErrorKind string

const (
	KindNotFound              ErrorKind = "NOT_FOUND"
	KindInsufficientBalance   ErrorKind = "INSUFFICIENT_BALANCE"
	KindForbidden             ErrorKind = "FORBIDDEN"
	KindInvalidState          ErrorKind = "INVALID_STATE"
	KindInvalidAmount         ErrorKind = "INVALID_AMOUNT"
	KindForbiddenCounterparty ErrorKind = "FORBIDDEN_COUNTERPARTY"
	KindInvalidInput          ErrorKind = "INVALID_INPUT"
	KindOperationFailed       ErrorKind = "OPERATION_FAILED"
)

// LedgerError is the typed failure returned by every service operation.
// Business kinds are safe to show to callers; OperationFailed means the
// operation was rolled back and may be retried.
type LedgerError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *LedgerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// Is matches any LedgerError of the same kind, so
// errors.Is(err, ErrInsufficientBalance) works regardless of the message.
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound              = &LedgerError{Kind: KindNotFound, Message: "not found"}
	ErrInsufficientBalance   = &LedgerError{Kind: KindInsufficientBalance, Message: "insufficient balance"}
	ErrForbidden             = &LedgerError{Kind: KindForbidden, Message: "forbidden"}
	ErrInvalidState          = &LedgerError{Kind: KindInvalidState, Message: "invalid state"}
	ErrInvalidAmount         = &LedgerError{Kind: KindInvalidAmount, Message: "invalid amount"}
	ErrForbiddenCounterparty = &LedgerError{Kind: KindForbiddenCounterparty, Message: "forbidden counterparty"}
	ErrInvalidInput          = &LedgerError{Kind: KindInvalidInput, Message: "invalid input"}
	ErrOperationFailed       = &LedgerError{Kind: KindOperationFailed, Message: "operation failed"}
)

func newError(kind ErrorKind, format string, args ...any) *LedgerError {
	return &LedgerError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func operationFailed(message string, err error) *LedgerError {
	return &LedgerError{Kind: KindOperationFailed, Message: message, Err: err}
}

// KindOf returns the kind of err, or OperationFailed for untyped errors.
func KindOf(err error) ErrorKind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindOperationFailed
}

// asLedgerError passes typed errors through and wraps everything else.
func asLedgerError(message string, err error) error {
	if err == nil {
		return nil
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return err
	}
	return operationFailed(message, err)
}

// notFoundOr maps store.ErrNotFound to a NotFound error with message and
// anything else to OperationFailed.
func notFoundOr(err error, message string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &LedgerError{Kind: KindNotFound, Message: message, Err: err}
	}
	return operationFailed(message, err)
}
