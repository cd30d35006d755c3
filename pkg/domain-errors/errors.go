// Package domainerrors carries caller-facing error codes.
//
// Adapters return wrapped infrastructure errors (see pkg/platform/sentinel);
// services translate them into coded errors here so the transport layer can
// map them to status codes without knowing which adapter failed.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of caller-facing failure.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeNotFound           Code = "not_found"
	CodeUnauthorized       Code = "unauthorized"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
	CodePersistenceFailure Code = "persistence_failure"
	CodeAdapterUnreachable Code = "adapter_unreachable"
	CodeSearchUnavailable  Code = "search_unavailable"
)

// Error is a coded error with a message safe to show to callers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may resubmit unchanged. Persistence and
// reachability failures happen before any side effect, so a retry is safe.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodePersistenceFailure, CodeAdapterUnreachable, CodeSearchUnavailable, CodeTimeout:
		return true
	default:
		return false
	}
}

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// As extracts the first coded error in the chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether any coded error in the chain carries code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// Is is an alias of HasCode kept for call sites that read better with it.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// IsRetryable reports whether err is a coded error that is safe to retry.
func IsRetryable(err error) bool {
	de, ok := As(err)
	return ok && de.Retryable()
}

// ToHTTPStatus maps a code to its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodePersistenceFailure, CodeAdapterUnreachable, CodeSearchUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
