package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasktrack/internal/domain"
)

// TaskStore defines the interface for task data persistence.
// It is the single source of truth for task state.
// Version: 1.0
type TaskStore interface {
	// Create saves a new PENDING task owned by owner and returns it with its
	// assigned ID. Returns validation errors from domain.NewTask.
	Create(ctx context.Context, owner uuid.UUID, title, description string) (*domain.Task, error)

	// Get retrieves a task by ID.
	// Returns ErrTaskNotFound if the task does not exist.
	Get(ctx context.Context, id int64) (*domain.Task, error)

	// Update applies a partial update to a task and returns the updated record.
	// Preconditions in the update are checked atomically with the write.
	// Returns ErrTaskNotFound if the task does not exist and ErrConflict if a
	// precondition or the state machine rejects the change.
	Update(ctx context.Context, id int64, update TaskUpdate) (*domain.Task, error)

	// Delete removes a task permanently.
	// Returns ErrTaskNotFound if the task does not exist.
	Delete(ctx context.Context, id int64) error

	// List returns the tasks matching filter in the requested order.
	// Returns an empty slice if nothing matches.
	List(ctx context.Context, filter ListFilter) ([]*domain.Task, error)

	// Count returns the number of tasks matching filter, ignoring limit and offset.
	Count(ctx context.Context, filter ListFilter) (int, error)

	// CountByStatus groups tasks by status. A nil owner counts every task.
	CountByStatus(ctx context.Context, owner *uuid.UUID) (map[domain.TaskStatus]int, error)

	// DeleteTerminalBefore deletes COMPLETED and FAILED tasks created before
	// cutoff in one bulk operation and returns the deleted IDs.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]int64, error)
}

// TaskUpdate is a partial update of the system-managed task fields.
// Nil fields are left unchanged. Title, description and owner are immutable
// and therefore not part of the update.
type TaskUpdate struct {
	Status          *domain.TaskStatus
	Result          *string
	ClearResult     bool
	ExecutionHandle *string
	Attempts        *int

	// ExpectStatus, when non-empty, requires the current status to be one of these.
	ExpectStatus []domain.TaskStatus
	// ExpectHandle, when non-nil, requires the current execution handle to equal it.
	ExpectHandle *string
}

// Apply checks the update's preconditions against current and returns the
// updated copy. It never mutates current. now becomes the new UpdatedAt.
func (u TaskUpdate) Apply(current *domain.Task, now time.Time) (*domain.Task, error) {
	if len(u.ExpectStatus) > 0 && !containsStatus(u.ExpectStatus, current.Status) {
		return nil, fmt.Errorf("%w: task %d is %s", ErrConflict, current.ID, current.Status)
	}

	if u.ExpectHandle != nil {
		if current.ExecutionHandle == nil || *current.ExecutionHandle != *u.ExpectHandle {
			return nil, fmt.Errorf("%w: task %d execution handle mismatch", ErrConflict, current.ID)
		}
	}

	next := current.Clone()

	if u.Status != nil {
		if !domain.CanTransition(current.Status, *u.Status) {
			return nil, fmt.Errorf("%w: %w: %s -> %s", ErrConflict, domain.ErrInvalidTransition, current.Status, *u.Status)
		}
		next.Status = *u.Status
	}

	if u.ClearResult {
		next.Result = nil
	}
	if u.Result != nil {
		r := domain.TruncateResult(*u.Result)
		next.Result = &r
	}
	if u.ExecutionHandle != nil {
		h := *u.ExecutionHandle
		next.ExecutionHandle = &h
	}
	if u.Attempts != nil {
		next.Attempts = *u.Attempts
	}

	next.UpdatedAt = now

	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEntity, err)
	}

	return next, nil
}

func containsStatus(statuses []domain.TaskStatus, s domain.TaskStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// OrderField names a sortable task column.
type OrderField string

// Sortable columns.
const (
	OrderByCreatedAt OrderField = "created_at"
	OrderByUpdatedAt OrderField = "updated_at"
	OrderByStatus    OrderField = "status"
)

// Ordering is a sort column plus direction.
type Ordering struct {
	Field      OrderField
	Descending bool
}

// DefaultOrdering lists newest tasks first.
var DefaultOrdering = Ordering{Field: OrderByCreatedAt, Descending: true}

// ParseOrdering parses "created_at", "-updated_at" and similar values.
// An empty string yields DefaultOrdering.
func ParseOrdering(s string) (Ordering, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultOrdering, nil
	}

	o := Ordering{}
	if strings.HasPrefix(s, "-") {
		o.Descending = true
		s = s[1:]
	}

	switch OrderField(s) {
	case OrderByCreatedAt, OrderByUpdatedAt, OrderByStatus:
		o.Field = OrderField(s)
	default:
		return Ordering{}, domain.NewValidationError("ordering", "must be one of created_at, updated_at, status", domain.ErrValidation)
	}

	return o, nil
}

// String renders the ordering in the same form ParseOrdering accepts.
func (o Ordering) String() string {
	if o.Descending {
		return "-" + string(o.Field)
	}
	return string(o.Field)
}

// ListFilter selects tasks for List and Count. Zero values mean "no filter".
type ListFilter struct {
	Owner         *uuid.UUID
	Status        *domain.TaskStatus
	CreatedAfter  *time.Time // inclusive
	CreatedBefore *time.Time // inclusive
	Search        string     // case-insensitive substring of title or description
	Order         Ordering
	Limit         int
	Offset        int
}

// Matches reports whether t satisfies every predicate of the filter.
// Ordering and pagination are not considered.
func (f ListFilter) Matches(t *domain.Task) bool {
	if f.Owner != nil && t.Owner != *f.Owner {
		return false
	}
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.CreatedAfter != nil && t.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && t.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(t.Title), needle) &&
			!strings.Contains(strings.ToLower(t.Description), needle) {
			return false
		}
	}
	return true
}
