// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnsupported  = errors.New("unsupported")
	ErrInconsistent = errors.New("inconsistent input")
	ErrInternal     = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "expectedPackages[0]._id")
	Resource string // For not found/conflict (e.g., "expectation")
	Op       string // Operation that failed (e.g., "docker.spinUp")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  fmt.Sprintf("%s %s: %s", resource, id, reason),
		Resource: resource,
	}
}

// Unsupported reports a contract violation: a request reached a component
// that cannot handle it (an expectation type a worker does not support,
// an unknown message type). Callers must not swallow it.
func Unsupported(op, what string) error {
	return &Error{
		Sentinel: ErrUnsupported,
		Message:  fmt.Sprintf("%s: unsupported %s", op, what),
		Op:       op,
	}
}

// Inconsistent reports a desired-state snapshot that lacks a required collection.
func Inconsistent(collection string) error {
	return &Error{
		Sentinel: ErrInconsistent,
		Message:  fmt.Sprintf("desired state is missing %s", collection),
		Field:    collection,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
