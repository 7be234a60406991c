// Package errors provides structured error handling for docsift.
//
// The engine uses a fixed, closed taxonomy of error codes. Every failure
// that crosses the trust boundary is one of these codes; anything else is
// coerced to CodeConflict with the original message preserved.
package errors

import (
	"errors"
	"fmt"
)

// Error codes form the complete caller-visible failure taxonomy.
const (
	CodeInvalidParameter = "invalid_parameter"
	CodeNotFound         = "not_found"
	CodeInvalidPath      = "invalid_path"
	CodeOutOfScope       = "out_of_scope"
	CodeNeedsNarrowScope = "needs_narrow_scope"
	CodeForbidden        = "forbidden"
	CodeInvalidScope     = "invalid_scope"
	CodeConflict         = "conflict"
)

// Error is the structured error type for docsift.
// It carries a taxonomy code, a human-readable message, and optional
// key-value details for diagnostics.
type Error struct {
	// Code is one of the taxonomy codes above.
	Code string

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code, enabling errors.Is with sentinel values.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error from an existing error, preserving it as the cause.
// Returns nil if err is nil.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: err.Error(), Cause: err}
}

// Coerce maps any error into the taxonomy. Errors that already carry a
// taxonomy code pass through unchanged; everything else becomes
// CodeConflict with the original message preserved for diagnostics.
func Coerce(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Code: CodeConflict, Message: err.Error(), Cause: err}
}

// CodeOf extracts the taxonomy code from an error.
// Returns CodeConflict for non-taxonomy errors and "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeConflict
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// Payload is the wire representation of a caller-visible failure.
type Payload struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// ToPayload converts any error into its structured wire form.
func ToPayload(err error) Payload {
	se := Coerce(err)
	if se == nil {
		return Payload{}
	}
	return Payload{Code: se.Code, Message: se.Message, Details: se.Details}
}
