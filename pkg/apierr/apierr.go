// Package apierr defines the error kinds shared across the core
// components, replacing exception-driven control flow with explicit,
// typed results.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is one of the library-wide error categories.
type Kind string

const (
	NotFound          Kind = "not_found"
	InvalidState      Kind = "invalid_state"
	Transport         Kind = "transport"
	Timeout           Kind = "timeout"
	ResourceExhausted Kind = "resource_exhausted"
	Config            Kind = "config"
	Fatal             Kind = "fatal"
)

// Error wraps a Kind and an optional underlying cause.
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

// New creates an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
