// Package mcperrors carries the error kinds as a typed error rather
// than string matching, preferring wrapped, structured errors over
// sentinel strings.
package mcperrors

import (
	"errors"
	"fmt"
)

// Kind discriminates the caller-facing error categories.
type Kind string

const (
	ValidationError    Kind = "ValidationError"
	NotFound           Kind = "NotFound"
	Conflict           Kind = "Conflict"
	TransportImmutable Kind = "TransportImmutable"
	ConnectionError    Kind = "ConnectionError"
	PoolExhausted      Kind = "PoolExhausted"
	Timeout            Kind = "Timeout"
	Cancelled          Kind = "Cancelled"
	ToolError          Kind = "ToolError"
	Internal           Kind = "Internal"
)

// Error is the typed error carried through the core. Code is the
// JSON-RPC-shaped numeric code the engine should attach to a failed
// Execution, when applicable (0 if none).
type Error struct {
	Kind    Kind
	Message string
	Code    int
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, code int, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Wrap builds an *Error of the given kind around an existing cause.
func Wrap(kind Kind, code int, cause error, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

// OfKind extracts the Kind from err, or Internal if err does not carry one.
func OfKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err (or a wrapped cause) is of the given Kind.
func Is(err error, kind Kind) bool {
	return OfKind(err) == kind
}
