// Package core holds the error taxonomy shared by the Sherpa boundaries.
package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass categorizes boundary failures.
type ErrorClass string

const (
	// ErrBoundaryUnavailable covers network and auth failures calling an
	// external service.
	ErrBoundaryUnavailable ErrorClass = "boundary_unavailable"
	// ErrMalformedResponse covers schema violations in a boundary response.
	ErrMalformedResponse ErrorClass = "malformed_response"
	// ErrDevice covers audio hardware failures.
	ErrDevice ErrorClass = "device_error"
	// ErrTimeout covers a stage exceeding its wall-clock budget.
	ErrTimeout ErrorClass = "timeout"
)

// Error is a classified boundary error.
type Error struct {
	Class   ErrorClass
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewBoundaryUnavailable wraps a network or auth failure.
func NewBoundaryUnavailable(message string, cause error) *Error {
	return &Error{Class: ErrBoundaryUnavailable, Message: message, Cause: cause}
}

// NewMalformedResponse wraps a schema violation.
func NewMalformedResponse(message string, cause error) *Error {
	return &Error{Class: ErrMalformedResponse, Message: message, Cause: cause}
}

// NewDeviceError wraps an audio hardware failure.
func NewDeviceError(message string, cause error) *Error {
	return &Error{Class: ErrDevice, Message: message, Cause: cause}
}

// NewTimeout marks a stage budget violation.
func NewTimeout(message string) *Error {
	return &Error{Class: ErrTimeout, Message: message}
}

// ClassOf returns the class of a boundary error, or "" for unclassified errors.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsRecoverable reports whether an observation-cycle error should be skipped
// rather than escalated: the cycle is dropped and sampling continues.
func IsRecoverable(err error) bool {
	switch ClassOf(err) {
	case ErrBoundaryUnavailable, ErrMalformedResponse:
		return true
	}
	return false
}

// IsCancelled reports whether an error is a cooperative cancellation.
// Cancellation is the expected outcome of shutdown and stage timeouts and is
// never treated as a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
