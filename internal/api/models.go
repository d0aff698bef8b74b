package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/task"
)

// CreateTaskRequest defines the payload for POST /api/tasks.
// Blank titles are rejected by the service, which reports the field.
type CreateTaskRequest struct {
	Title       string `json:"title"       validate:"max=255"`
	Description string `json:"description"`
}

// TaskResponse is the full representation of a task.
type TaskResponse struct {
	ID          int64             `json:"id"`
	Owner       uuid.UUID         `json:"owner"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Status      domain.TaskStatus `json:"status"`
	Result      *string           `json:"result"`
	Attempts    int               `json:"attempts"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// TaskListItem is the lightweight representation used by list endpoints.
type TaskListItem struct {
	ID        int64             `json:"id"`
	Title     string            `json:"title"`
	Status    domain.TaskStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// CreateTaskResponse is returned by POST /api/tasks.
type CreateTaskResponse struct {
	Task    TaskResponse `json:"task"`
	Message string       `json:"message"`
}

// GetTaskResponse is returned by GET /api/tasks/{id}.
type GetTaskResponse struct {
	Task   TaskResponse `json:"task"`
	Cached bool         `json:"cached"`
}

// ListTasksResponse is returned by GET /api/tasks.
type ListTasksResponse struct {
	Tasks []TaskListItem `json:"tasks"`
}

// DeleteTaskResponse is returned by DELETE /api/tasks/{id}.
type DeleteTaskResponse struct {
	Message string `json:"message"`
}

// AdminListResponse is returned by GET /api/tasks/admin. Tasks are fully
// serialized, results included.
type AdminListResponse struct {
	Count int            `json:"count"`
	Tasks []TaskResponse `json:"tasks"`
}

// StatsResponse is returned by GET /api/tasks/stats.
type StatsResponse struct {
	Stats []task.StatusCount `json:"stats"`
	Total int                `json:"total"`
}

// SummaryResponse is returned by GET /api/tasks/summary.
type SummaryResponse struct {
	Stats       []task.StatusCount `json:"stats"`
	Total       int                `json:"total"`
	GeneratedAt time.Time          `json:"generated_at"`
}

func taskToResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Owner:       t.Owner,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Result:      t.Result,
		Attempts:    t.Attempts,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func tasksToResponses(tasks []*domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToResponse(t))
	}
	return out
}

func tasksToListItems(tasks []*domain.Task) []TaskListItem {
	items := make([]TaskListItem, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, TaskListItem{
			ID:        t.ID,
			Title:     t.Title,
			Status:    t.Status,
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
		})
	}
	return items
}
