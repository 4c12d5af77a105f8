// Package errors provides structured error handling for resttap with error
// categorization, contextual details, and cause preservation.
//
// Errors carry a Type that maps directly onto the engine's failure handling:
// configuration errors abort the run before any stream executes, transient
// errors are retried and eventually fail a single stream, HTTP and data errors
// fail the current stream immediately, and extraction errors are logged and
// skipped.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error, used to decide retry and
// propagation behavior.
type ErrorType string

const (
	// ErrorTypeConfig represents configuration errors (malformed JSONPath,
	// missing required field). Fatal at load time.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeTransient represents retryable failures: network errors,
	// timeouts, HTTP 429 and 5xx responses.
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeHTTP represents non-retryable HTTP failures (4xx other
	// than 429). Fails the current stream.
	ErrorTypeHTTP ErrorType = "http"
	// ErrorTypeData represents malformed response bodies. Fails the
	// current stream.
	ErrorTypeData ErrorType = "data"
	// ErrorTypeExtraction represents a malformed individual record.
	// Logged and skipped, never fails the stream.
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeAuthentication represents authentication errors
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeCancelled represents an honored external stop signal
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypeInternal represents internal engine errors
	ErrorTypeInternal ErrorType = "internal"
)

// Error represents a structured error with a category, contextual details,
// and an optional underlying cause.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
}

// Error implements the error interface, returning a formatted error message
// that includes the error type, message, and cause (if present).
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error, enabling compatibility with errors.Is
// and errors.As for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. Can be chained.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context, preserving the
// original error as the cause. Returns nil if the input error is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// IsRetryable returns true if the error is retryable based on its type.
// Only transient errors (network failures, timeouts, 429/5xx) are retried.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == ErrorTypeTransient
}

// IsType checks if the error is of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the error's type, or ErrorTypeInternal for errors that are
// not structured.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}
