package service

import (
	"errors"
	"fmt"
)

// Common service errors - sentinel errors used across service implementations.
// These errors represent common conditions that callers may want to check for with errors.Is().
//
// Error handling principles:
// 1. Service methods return sentinel errors for expected error conditions
// 2. Unexpected errors are wrapped in ServiceError
// 3. Callers use errors.Is/errors.As to check for specific error conditions
// 4. The API layer maps service errors to appropriate HTTP status codes
var (
	// ErrTaskNotFound indicates the requested task does not exist.
	// API layer should map this to HTTP 404 Not Found.
	ErrTaskNotFound = errors.New("task not found")

	// ErrForbidden indicates the principal may not perform the action: the
	// task belongs to someone else or the action is admin-only.
	// API layer should map this to HTTP 403 Forbidden.
	ErrForbidden = errors.New("operation not permitted")

	// ErrUnauthenticated indicates the request carries no usable principal.
	// API layer should map this to HTTP 401 Unauthorized.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrEnqueueFailed indicates the task could not be handed to the queue.
	// The task record is removed again so it never sits in PENDING unqueued.
	ErrEnqueueFailed = errors.New("failed to queue task for processing")
)

// ServiceError wraps an unexpected failure with the service and operation
// it happened in.
type ServiceError struct {
	Service string
	Op      string
	Err     error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s service %s operation failed", e.Service, e.Op)
	}
	return fmt.Sprintf("%s service %s operation failed: %v", e.Service, e.Op, e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
func NewServiceError(service, op string, err error) *ServiceError {
	return &ServiceError{
		Service: service,
		Op:      op,
		Err:     err,
	}
}

func taskError(op Action, err error) error {
	return NewServiceError("task", string(op), err)
}
