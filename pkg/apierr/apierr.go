// Package apierr defines the typed error used across every component so
// the HTTP layer, the lifecycle manager and the storage layer can all agree
// on what kind of failure occurred without parsing error strings.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for status-code mapping and errors.Is checks.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindInvalid      Kind = "invalid"
	KindLeaseHeld    Kind = "lease_held"
	KindUnauthorized Kind = "unauthorized"
	KindInternal     Kind = "internal"
	KindUnavailable  Kind = "unavailable"
)

// Error is the single error type returned by every package in this repo
// that can fail in a way callers need to distinguish.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, apierr.NotFound) match any *Error of that Kind,
// regardless of Message/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values for errors.Is comparisons; Message/Cause are ignored by Is.
var (
	NotFound     = &Error{Kind: KindNotFound}
	Conflict     = &Error{Kind: KindConflict}
	Invalid      = &Error{Kind: KindInvalid}
	LeaseHeld    = &Error{Kind: KindLeaseHeld}
	Unauthorized = &Error{Kind: KindUnauthorized}
	Internal     = &Error{Kind: KindInternal}
	Unavailable  = &Error{Kind: KindUnavailable}
)

// NotFoundf builds a not-found error naming the missing resource.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a conflict error, e.g. a version mismatch or duplicate name.
func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Invalidf builds a validation error for malformed input.
func Invalidf(format string, args ...any) error {
	return &Error{Kind: KindInvalid, Message: fmt.Sprintf(format, args...)}
}

// LeaseHeldf builds an error for a mutation blocked by someone else's lease.
func LeaseHeldf(format string, args ...any) error {
	return &Error{Kind: KindLeaseHeld, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a Kind and message, preserving the
// original error for inspection via errors.Unwrap.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Internalf builds an internal error wrapping an unexpected failure.
func Internalf(cause error, format string, args ...any) error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to KindInternal for errors
// that were never tagged.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
