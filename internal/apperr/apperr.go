// Package apperr defines the error-kind taxonomy used at every boundary of
// the issue execution engine: adapters, engine operations, and stream
// consumers all return one of these kinds instead of panicking.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and HTTP status mapping.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not-found"
	KindForbidden       Kind = "forbidden"
	KindBusy            Kind = "busy"
	KindEngineUnavail   Kind = "engine-unavailable"
	KindEngineTimeout   Kind = "engine-timeout"
	KindSessionError    Kind = "session-error"
	KindSpawnFailed     Kind = "spawn-failed"
	KindStreamError     Kind = "stream-error"
	KindLogicalFailure  Kind = "logical-failure"
	KindInternal        Kind = "internal"
)

// Error is a typed, user-safe error carrying a Kind and an optional
// wrapped cause. Message is always safe to show to a caller; Cause
// (if present) is logged with context but never serialized to the client.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind, carrying cause for logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts an *Error from err, returning nil if err is not one.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// HTTPStatus maps a Kind to the status code the external HTTP collaborator
// should use in its response envelope.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindBusy:
		return http.StatusConflict
	case KindEngineUnavail, KindEngineTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the uniform HTTP response shape described by the spec's
// external-interfaces section: every response is either a success
// envelope carrying data or a failure envelope carrying a message.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK wraps a successful payload in the response envelope.
func OK(data any) Envelope {
	return Envelope{Success: true, Data: data}
}

// Fail wraps an error in the response envelope. If err is not an *Error,
// it is reported as an internal error with a generic message.
func Fail(err error) (Envelope, int) {
	e := As(err)
	if e == nil {
		return Envelope{Success: false, Error: "internal error"}, http.StatusInternalServerError
	}
	return Envelope{Success: false, Error: e.Message}, HTTPStatus(e.Kind)
}
