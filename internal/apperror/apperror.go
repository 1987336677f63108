// Package apperror defines the error taxonomy shared by the identity engine,
// the stores and the HTTP layer.
//
// Every domain error is an *AppError wrapping one of the sentinels below, so
// callers branch with errors.Is and handlers read the human message with
// errors.As. The sentinel decides the HTTP status; the Message is what the
// client sees.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("Validation Error")
	ErrConflict      = errors.New("conflict")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrTimeout       = errors.New("timeout")
	ErrUnavailable   = errors.New("unavailable")
	ErrExhausted     = errors.New("resource exhausted")
	ErrMisconfigured = errors.New("misconfigured")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying driver/library error, never shown to clients
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause, so errors.Is matches
// apperror.ErrTimeout as well as context.DeadlineExceeded.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// FieldConflict reports a uniqueness violation on one identity namespace
// ("username", "email" or "credential").
func FieldConflict(field string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s already exists", field),
		Field:   field,
	}
}

// AuthFailed is the single answer to a failed credential check. It never says
// whether the account exists.
func AuthFailed() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: "wrong email and/or password",
	}
}

func Timeout(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrTimeout,
		Message: fmt.Sprintf("%s timed out", op),
		Cause:   cause,
	}
}

func Unavailable(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: fmt.Sprintf("%s unavailable", op),
		Cause:   cause,
	}
}

func Exhausted(resource string, limit int) *AppError {
	return &AppError{
		Err:     ErrExhausted,
		Message: fmt.Sprintf("%s exhausted after %d attempts", resource, limit),
	}
}

func Misconfigured(field, message string) *AppError {
	return &AppError{
		Err:     ErrMisconfigured,
		Message: message,
		Field:   field,
	}
}

// ConflictField returns the namespace of a conflict error, or "" when err is
// not a conflict.
func ConflictField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && errors.Is(appErr.Err, ErrConflict) {
		return appErr.Field
	}
	return ""
}
