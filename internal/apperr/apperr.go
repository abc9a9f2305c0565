// Package apperr defines the error taxonomy returned by the armory core.
//
// Services return *Error values carrying a Kind and a short reason code.
// Callers match on kind with errors.Is against the Kind sentinels:
//
//	if errors.Is(err, apperr.Conflict) { ... }
//
// Validation, Conflict, Unauthorized and NotFound errors are never retried by
// the core; the caller decides.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

// Error kinds.
const (
	Validation          Kind = "validation"
	Conflict            Kind = "conflict"
	Unauthorized        Kind = "unauthorized"
	NotFound            Kind = "not_found"
	AllocationExhausted Kind = "allocation_exhausted"
	Internal            Kind = "internal"
)

// Error implements error so a Kind can be used as an errors.Is target.
func (k Kind) Error() string { return string(k) }

// Error is a classified error with a human-readable reason.
type Error struct {
	Kind   Kind
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

// Is matches the error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Validationf returns a Validation error.
func Validationf(format string, args ...any) *Error {
	return New(Validation, fmt.Sprintf(format, args...))
}

// Conflictf returns a Conflict error.
func Conflictf(format string, args ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, args...))
}

// NotFoundf returns a NotFound error.
func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

// Internalf wraps an unexpected failure.
func Internalf(err error, format string, args ...any) *Error {
	return Wrap(Internal, fmt.Sprintf(format, args...), err)
}

// KindOf returns the kind of err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// ReasonOf returns the reason of a classified error, or a generic reason.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return "internal error"
}
