// Package errors defines the application error taxonomy shared by the
// repository, service and handler layers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies an AppError. Handlers map codes to transport statuses.
type ErrorCode string

const (
	ErrCodeValidation            ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidTransition     ErrorCode = "INVALID_TRANSITION"
	ErrCodeInsufficientFunds     ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeNotFound              ErrorCode = "NOT_FOUND"
	ErrCodeStorageConflict       ErrorCode = "STORAGE_CONFLICT"
	ErrCodeDownstreamUnavailable ErrorCode = "DOWNSTREAM_UNAVAILABLE"
	ErrCodeForbidden             ErrorCode = "FORBIDDEN"
	ErrCodeUnauthorized          ErrorCode = "UNAUTHORIZED"
	ErrCodeInternal              ErrorCode = "INTERNAL"
)

// AppError is the error type returned across package boundaries.
type AppError struct {
	Code    ErrorCode
	Message string
	Field   string
	Err     error
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with the given code.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf creates an AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. Wrapping an
// AppError keeps the original code so that a NotFound raised deep in a
// transaction is not flattened into an internal error.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return &AppError{Code: code, Message: message, Err: err}
}

// NotFound reports an unknown resource id.
func NotFound(resource, id string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %s not found", resource, id)}
}

// InvalidInput reports a validation failure on a single field.
func InvalidInput(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Field: field, Message: message}
}

// InvalidTransition reports a violated state precondition.
func InvalidTransition(format string, args ...any) *AppError {
	return Newf(ErrCodeInvalidTransition, format, args...)
}

// InsufficientFunds reports a debit that exceeds the available balance.
func InsufficientFunds(format string, args ...any) *AppError {
	return Newf(ErrCodeInsufficientFunds, format, args...)
}

// StorageConflict reports a lost serialization race.
func StorageConflict(err error) *AppError {
	return &AppError{Code: ErrCodeStorageConflict, Message: "concurrent update conflict", Err: err}
}

// DownstreamUnavailable reports an unreachable collaborator.
func DownstreamUnavailable(collaborator string, err error) *AppError {
	return &AppError{Code: ErrCodeDownstreamUnavailable, Message: collaborator + " unavailable", Err: err}
}

// Forbidden reports an actor acting outside its role.
func Forbidden(message string) *AppError {
	return &AppError{Code: ErrCodeForbidden, Message: message}
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
