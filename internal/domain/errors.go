package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	ErrConflict     ErrorCode = "CONFLICT"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
)

// Error is the single failure type crossing the engine boundary. Adapters
// switch on Code; Retryable tells callers whether retrying the same call
// can ever succeed without an intervening state change.
type Error struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`

	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func Unauthorized(message string) *Error {
	return &Error{Code: ErrUnauthorized, Message: message}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Code: ErrForbidden, Message: fmt.Sprintf(format, args...)}
}

func NotFound(kind, id string) *Error {
	e := &Error{Code: ErrNotFound, Message: fmt.Sprintf("%s %s not found", kind, id)}
	return e.WithDetail(kind+"_id", id)
}

func InvalidInput(format string, args ...any) *Error {
	return &Error{Code: ErrInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Code: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

func Internal(cause error) *Error {
	return &Error{Code: ErrInternal, Message: cause.Error(), Retryable: true, cause: cause}
}

func Internalf(format string, args ...any) *Error {
	return Internal(fmt.Errorf(format, args...))
}

// AsError extracts the *Error from any error chain; unknown errors are
// wrapped as INTERNAL_ERROR so the closed taxonomy holds at every boundary.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return Internal(err)
}

func CodeOf(err error) ErrorCode {
	if de := AsError(err); de != nil {
		return de.Code
	}
	return ""
}

func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
