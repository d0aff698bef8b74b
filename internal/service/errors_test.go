package service

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{ErrTaskNotFound, ErrForbidden, ErrUnauthenticated, ErrEnqueueFailed}
	for i, a := range sentinels {
		for j, b := range sentinels {
			assert.Equal(t, i == j, errors.Is(a, b), "%v vs %v", a, b)
		}
	}
}

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name     string
		service  string
		op       string
		err      error
		expected string
	}{
		{
			name:     "with underlying error",
			service:  "task",
			op:       "create",
			err:      errors.New("database connection failed"),
			expected: "task service create operation failed: database connection failed",
		},
		{
			name:     "without underlying error",
			service:  "task",
			op:       "delete",
			err:      nil,
			expected: "task service delete operation failed",
		},
		{
			name:     "with sentinel error",
			service:  "task",
			op:       "create",
			err:      ErrEnqueueFailed,
			expected: "task service create operation failed: failed to queue task for processing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewServiceError(tt.service, tt.op, tt.err)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	err := taskError(ActionCreate, ErrEnqueueFailed)

	assert.True(t, errors.Is(err, ErrEnqueueFailed))

	var serviceErr *ServiceError
	assert.True(t, errors.As(err, &serviceErr))
	assert.Equal(t, "task", serviceErr.Service)
	assert.Equal(t, "create", serviceErr.Op)
}

func TestAuthorize(t *testing.T) {
	user := domain.Principal{UserID: uuid.New()}
	admin := domain.Principal{UserID: uuid.New(), IsAdmin: true}

	tests := []struct {
		name      string
		principal domain.Principal
		action    Action
		wantErr   error
	}{
		{name: "user creates", principal: user, action: ActionCreate},
		{name: "user reads stats", principal: user, action: ActionStats},
		{name: "user admin list", principal: user, action: ActionAdminList, wantErr: ErrForbidden},
		{name: "user admin summary", principal: user, action: ActionAdminSummary, wantErr: ErrForbidden},
		{name: "admin admin list", principal: admin, action: ActionAdminList},
		{name: "admin admin summary", principal: admin, action: ActionAdminSummary},
		{name: "anonymous", principal: domain.Principal{}, action: ActionRead, wantErr: ErrUnauthenticated},
		{name: "anonymous admin flag", principal: domain.Principal{IsAdmin: true}, action: ActionAdminList, wantErr: ErrUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.principal, tt.action)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
