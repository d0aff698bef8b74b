package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/tasktrack/internal/api/shared"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/service"
	"github.com/phrazzld/tasktrack/internal/service/auth"
	"github.com/phrazzld/tasktrack/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var validationErrs validator.ValidationErrors

	switch {
	// Authentication errors
	case errors.Is(err, service.ErrUnauthenticated),
		errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	// Authorization errors
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden

	// Not found errors
	case errors.Is(err, service.ErrTaskNotFound),
		store.IsNotFoundError(err):
		return http.StatusNotFound

	// Bad request errors
	case domain.IsValidationError(err),
		errors.As(err, &validationErrs),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var validationErr *domain.ValidationError
	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, service.ErrUnauthenticated), errors.Is(err, domain.ErrUnauthorized):
		return "Authentication required"

	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"

	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"

	case errors.Is(err, service.ErrForbidden):
		return "You do not have access to this task"

	case errors.Is(err, service.ErrTaskNotFound), store.IsNotFoundError(err):
		return "Task not found"

	// field errors are written by this codebase and safe to echo
	case errors.As(err, &validationErr):
		return capitalize(validationErr.Error())

	case errors.As(err, &validationErrs):
		return SanitizeValidationError(err)

	case errors.Is(err, service.ErrEnqueueFailed):
		return "Task could not be queued for processing"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		fe := validationErrs[0]
		return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
	}

	// Fall back to a generic validation error message
	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the status and safe message for err and logs the
// redacted details. A non-empty message overrides the derived one.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
