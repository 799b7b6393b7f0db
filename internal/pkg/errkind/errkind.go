// Package errkind defines the typed error surface of the summarization
// pipeline. Callers branch on Kind, never on error strings.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is the stable error classification surfaced to API callers.
type Kind string

const (
	Validation          Kind = "Validation"
	InsufficientCredits Kind = "InsufficientCredits"
	Overloaded          Kind = "Overloaded"
	ProviderError       Kind = "ProviderError"
	CircuitOpen         Kind = "CircuitOpen"
	Cancelled           Kind = "Cancelled"
	Timeout             Kind = "Timeout"
	Internal            Kind = "Internal"
)

// Error carries a Kind plus an optional wrapped cause and detail map.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Details   map[string]interface{}
	cause     error
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

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// WithRetryable marks the error as retryable by the caller.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithDetail adds a single detail entry.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the Kind from err, defaulting to Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsRetryable reports whether the caller may retry. Only ProviderError with
// the retryable hint and Overloaded qualify.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case Overloaded:
		return true
	case ProviderError:
		return e.Retryable
	}
	return false
}
