// Package domain defines the core business entities and errors.
package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrEmptyTitle is returned when a task title is empty or whitespace only.
	ErrEmptyTitle = errors.New("title cannot be empty")

	// ErrTitleTooLong is returned when a task title exceeds MaxTitleLength.
	ErrTitleTooLong = errors.New("title is too long")

	// ErrEmptyOwner is returned when a task has no owner.
	ErrEmptyOwner = errors.New("task owner cannot be empty")

	// ErrInvalidTaskStatus is returned when a task status is not one of the known values.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidTransition is returned when a status change is not allowed
	// by the task state machine.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrUnauthorized is returned when an operation is not permitted.
	ErrUnauthorized = errors.New("unauthorized operation")
)

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError creates a ValidationError for field. err is the sentinel
// the error should match with errors.Is; it defaults to ErrValidation.
func NewValidationError(field, message string, err error) *ValidationError {
	if err == nil {
		err = ErrValidation
	}
	return &ValidationError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Unwrap returns the wrapped sentinel. ValidationError always matches
// ErrValidation in addition to its specific sentinel.
func (e *ValidationError) Unwrap() []error {
	if errors.Is(e.Err, ErrValidation) {
		return []error{e.Err}
	}
	return []error{e.Err, ErrValidation}
}

// IsValidationError reports whether err is (or wraps) a validation failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}
