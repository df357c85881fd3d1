// Package apperr defines the error kinds shared across the daemon's
// subsystems and their mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for logging and HTTP response mapping.
type Kind string

const (
	KindValidation      Kind = "ValidationError"
	KindNotFound        Kind = "NotFound"
	KindConflict        Kind = "Conflict"
	KindPoolSaturated   Kind = "PoolSaturated"
	KindInstanceGone    Kind = "InstanceGone"
	KindDeadlineExceeded Kind = "DeadlineExceeded"
	KindIO              Kind = "IOError"
	KindInternal        Kind = "Internal"
)

// Error is the typed error carried across package boundaries. Context
// holds small structured fields for logging (e.g. {"task_id": "..."}).
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithContext returns a copy of e with the given context fields merged in.
func (e *Error) WithContext(ctx map[string]any) *Error {
	merged := make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &Error{Kind: e.Kind, Message: e.Message, Context: merged, cause: e.cause}
}

// KindOf extracts the Kind from err, defaulting to KindInternal if err
// is not (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind onto its corresponding HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPoolSaturated:
		return http.StatusServiceUnavailable
	case KindInstanceGone:
		return http.StatusGone
	case KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case KindIO, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
