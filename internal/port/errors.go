package port

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the property pipeline.
type ErrorKind string

// Error kinds.
const (
	KindNotFound           ErrorKind = "not_found"
	KindPreconditionFailed ErrorKind = "precondition_failed"
	KindValidation         ErrorKind = "validation_error"
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	KindConfiguration      ErrorKind = "configuration_error"
	KindInternal           ErrorKind = "internal"
)

// Error carries a kind, a human-readable reason and an optional cause.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel errors used across ports.
var (
	ErrNotFound           = &Error{Kind: KindNotFound, Reason: "not found"}
	ErrPreconditionFailed = &Error{Kind: KindPreconditionFailed, Reason: "precondition failed"}
	ErrValidation         = &Error{Kind: KindValidation, Reason: "validation failed"}
	ErrBackendUnavailable = &Error{Kind: KindBackendUnavailable, Reason: "backend unavailable"}
	ErrConfiguration      = &Error{Kind: KindConfiguration, Reason: "invalid configuration"}
)

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Reason: fmt.Sprintf(format, args...)}
}

// PreconditionFailed builds a KindPreconditionFailed error.
func PreconditionFailed(format string, args ...any) error {
	return &Error{Kind: KindPreconditionFailed, Reason: fmt.Sprintf(format, args...)}
}

// Validation builds a KindValidation error.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Reason: fmt.Sprintf(format, args...)}
}

// Configuration builds a KindConfiguration error.
func Configuration(format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Reason: fmt.Sprintf(format, args...)}
}

// Unavailable wraps err as a KindBackendUnavailable error for the named backend.
func Unavailable(backend string, err error) error {
	return &Error{Kind: KindBackendUnavailable, Reason: backend + " unreachable", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns a human-readable reason for err.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}
