package service

import (
	"time"

	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/store"
	"github.com/phrazzld/tasktrack/internal/task"
)

// Action names an operation of the task API.
type Action string

// Task API actions.
const (
	ActionCreate       Action = "create"
	ActionRead         Action = "read"
	ActionList         Action = "list"
	ActionDelete       Action = "delete"
	ActionStats        Action = "stats"
	ActionAdminList    Action = "admin_list"
	ActionAdminSummary Action = "admin_summary"
)

// AdminOnly reports whether only admins may perform the action.
func (a Action) AdminOnly() bool {
	return a == ActionAdminList || a == ActionAdminSummary
}

// Authorize checks that principal may perform action at all. Per-task
// ownership is checked separately once the task is loaded.
func Authorize(principal domain.Principal, action Action) error {
	if err := principal.Validate(); err != nil {
		return ErrUnauthenticated
	}
	if action.AdminOnly() && !principal.IsAdmin {
		return ErrForbidden
	}
	return nil
}

// CreatedMessage is returned with every newly created task.
const CreatedMessage = "Task created and processing started"

// Default and maximum page sizes for list operations.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// CreateTaskRequest carries the user-supplied fields of a new task.
type CreateTaskRequest struct {
	Title       string
	Description string
}

// CreateTaskResponse is the created task plus a confirmation message.
type CreateTaskResponse struct {
	Task    *domain.Task
	Message string
}

// GetTaskResponse reports whether the task was served from cache.
type GetTaskResponse struct {
	Task   *domain.Task
	Cached bool
}

// ListTasksRequest filters the caller's task list. Admins see every task.
type ListTasksRequest struct {
	Status        *domain.TaskStatus
	Search        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Order         store.Ordering
	Limit         int
	Offset        int
}

// ListTasksResponse is one page of tasks.
type ListTasksResponse struct {
	Tasks []*domain.Task
}

// DeleteTaskResponse confirms a deletion.
type DeleteTaskResponse struct {
	ID      int64
	Message string
}

// AdminListRequest filters the admin task listing.
type AdminListRequest struct {
	Status *domain.TaskStatus
	Limit  int
	Offset int
}

// AdminListResponse is one page of tasks plus the total matching count.
type AdminListResponse struct {
	Count int
	Tasks []*domain.Task
}

// StatsResponse counts the caller's tasks by status.
type StatsResponse struct {
	Stats []task.StatusCount
	Total int
}
