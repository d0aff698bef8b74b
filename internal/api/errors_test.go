package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/service"
	"github.com/phrazzld/tasktrack/internal/service/auth"
	"github.com/phrazzld/tasktrack/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "unauthenticated",
			err:         service.ErrUnauthenticated,
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "Authentication required",
		},
		{
			name:        "expired token",
			err:         fmt.Errorf("validate: %w", auth.ErrExpiredToken),
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "Token expired",
		},
		{
			name:        "forbidden",
			err:         service.ErrForbidden,
			wantStatus:  http.StatusForbidden,
			wantMessage: "You do not have access to this task",
		},
		{
			name:        "service not found",
			err:         fmt.Errorf("%w: %d", service.ErrTaskNotFound, 7),
			wantStatus:  http.StatusNotFound,
			wantMessage: "Task not found",
		},
		{
			name:        "store not found",
			err:         store.ErrTaskNotFound,
			wantStatus:  http.StatusNotFound,
			wantMessage: "Task not found",
		},
		{
			name:        "field validation",
			err:         domain.NewValidationError("title", "cannot be empty", domain.ErrEmptyTitle),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Title cannot be empty",
		},
		{
			name:        "enqueue failure",
			err:         service.NewServiceError("task", "create", service.ErrEnqueueFailed),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "Task could not be queued for processing",
		},
		{
			name:        "unexpected error",
			err:         errors.New("pq: connection refused to postgres://admin:hunter2@db"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "An unexpected error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, MapErrorToStatusCode(tt.err))
			assert.Equal(t, tt.wantMessage, GetSafeErrorMessage(tt.err))
		})
	}
}

func TestGetSafeErrorMessage_Nil(t *testing.T) {
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
}

func TestSanitizeValidationError(t *testing.T) {
	type payload struct {
		Title string `validate:"required"`
	}

	err := validator.New().Struct(payload{})
	require.Error(t, err)

	assert.Equal(t, http.StatusBadRequest, MapErrorToStatusCode(err))
	assert.Equal(t, "Invalid Title: required field", SanitizeValidationError(err))
	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("other")))
}
