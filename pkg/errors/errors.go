// Package errors defines the error taxonomy shared by the authentication core.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrInvalidInput is returned for malformed state payloads, cookies, or
	// session tokens. Not retryable.
	ErrInvalidInput = "invalid_input"

	// ErrUnauthorized is returned for missing, expired, or failed-validation
	// credentials. Callers treat the request as anonymous, not as a failure.
	ErrUnauthorized = "unauthorized"

	// ErrTokenExpired is returned when a cached access token has expired and
	// the refresh exchange could not replace it.
	ErrTokenExpired = "token_expired"

	// ErrTokenAcquisition is returned when the identity provider or the
	// network failed during a token exchange.
	ErrTokenAcquisition = "token_acquisition"

	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = "not_found"

	// ErrInternal is returned for unclassified internal errors.
	ErrInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidInputError creates a new invalid input error
func NewInvalidInputError(message string, cause error) *Error {
	return NewError(ErrInvalidInput, message, cause)
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string, cause error) *Error {
	return NewError(ErrUnauthorized, message, cause)
}

// NewTokenExpiredError creates a new token expired error
func NewTokenExpiredError(message string, cause error) *Error {
	return NewError(ErrTokenExpired, message, cause)
}

// NewTokenAcquisitionError creates a new token acquisition error
func NewTokenAcquisitionError(message string, cause error) *Error {
	return NewError(ErrTokenAcquisition, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrNotFound, message, cause)
}

// IsType reports whether err is (or wraps) an *Error of the given type.
func IsType(err error, errorType string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsInvalidInput reports whether err is an invalid input error.
func IsInvalidInput(err error) bool {
	return IsType(err, ErrInvalidInput)
}

// IsUnauthorized reports whether err is an unauthorized error.
func IsUnauthorized(err error) bool {
	return IsType(err, ErrUnauthorized)
}

// IsTokenExpired reports whether err is a token expired error.
func IsTokenExpired(err error) bool {
	return IsType(err, ErrTokenExpired)
}

// IsNotFound reports whether err is a not found error.
func IsNotFound(err error) bool {
	return IsType(err, ErrNotFound)
}
