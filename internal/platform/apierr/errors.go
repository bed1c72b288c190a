// Package apierr defines the error taxonomy shared by every EASM service and
// its translation to HTTP status codes at the REST boundary.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a taxonomy bucket from spec §7.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindForbidden          Kind = "forbidden"
	KindConflict           Kind = "conflict"
	KindPreconditionFailed Kind = "precondition_failed"
	KindToolUnavailable    Kind = "tool_unavailable"
	KindToolFailure        Kind = "tool_failure"
	KindTimeout            Kind = "timeout"
	KindSSRFBlocked        Kind = "ssrf_blocked"
	KindTransientBackend   Kind = "transient_backend"
	KindInternal           Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindValidation:         http.StatusBadRequest,
	KindNotFound:           http.StatusNotFound,
	KindForbidden:          http.StatusForbidden,
	KindConflict:           http.StatusConflict,
	KindPreconditionFailed: http.StatusUnprocessableEntity,
	KindToolUnavailable:    http.StatusServiceUnavailable,
	KindToolFailure:        http.StatusBadGateway,
	KindTimeout:            http.StatusGatewayTimeout,
	KindSSRFBlocked:        http.StatusBadRequest,
	KindTransientBackend:   http.StatusServiceUnavailable,
	KindInternal:           http.StatusInternalServerError,
}

// Error is the typed, wrapped error every domain/service layer returns.
// It is errors.Is/errors.As friendly: callers compare against Kind sentinels
// via Is, or unwrap to reach the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, apierr.New(KindNotFound, "")) style comparisons by Kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// HTTPStatus returns the HTTP status code for err, defaulting to 500 for
// errors outside the taxonomy.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if status, ok := statusByKind[e.Kind]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// KindOf extracts the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(entity, id string) *Error {
	return New(KindNotFound, fmt.Sprintf("%s %q not found", entity, id))
}

func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

func Conflict(message string) *Error {
	return New(KindConflict, message)
}

func PreconditionFailed(message string) *Error {
	return New(KindPreconditionFailed, message)
}

func ToolUnavailable(tool string, cause error) *Error {
	return Wrap(KindToolUnavailable, fmt.Sprintf("tool %q unavailable", tool), cause)
}

func ToolFailure(tool string, cause error) *Error {
	return Wrap(KindToolFailure, fmt.Sprintf("tool %q failed", tool), cause)
}

func Timeout(operation string) *Error {
	return New(KindTimeout, fmt.Sprintf("%s timed out", operation))
}

func SSRFBlocked(reason string) *Error {
	return New(KindSSRFBlocked, fmt.Sprintf("URL blocked for security: %s", reason))
}

func TransientBackend(cause error) *Error {
	return Wrap(KindTransientBackend, "transient backend error", cause)
}

func Internal(cause error) *Error {
	return Wrap(KindInternal, "internal error", cause)
}
