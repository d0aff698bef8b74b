package domain

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
)

// MaxTitleLength and MaxResultLength mirror the column widths of the tasks table.
const (
	MaxTitleLength  = 255
	MaxResultLength = 255
)

// AllTaskStatuses lists every status in lifecycle order.
var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusProcessing,
	TaskStatusCompleted,
	TaskStatusFailed,
}

// IsValid reports whether s is a known status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions may happen from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// ParseTaskStatus converts a case-insensitive string into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	status := TaskStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", NewValidationError("status", "must be one of PENDING, PROCESSING, COMPLETED, FAILED", ErrInvalidTaskStatus)
	}
	return status, nil
}

// CanTransition reports whether the state machine allows moving from one
// status to another. PROCESSING -> PROCESSING is the retry re-dispatch.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusPending:
		return to == TaskStatusProcessing
	case TaskStatusProcessing:
		return to == TaskStatusProcessing || to == TaskStatusCompleted || to == TaskStatusFailed
	default:
		return false
	}
}

// Task is a unit of user-submitted asynchronous work.
type Task struct {
	ID              int64      `json:"id"`
	Owner           uuid.UUID  `json:"owner"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Status          TaskStatus `json:"status"`
	Result          *string    `json:"result"`
	ExecutionHandle *string    `json:"execution_handle"`
	Attempts        int        `json:"attempts"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NewTask builds a PENDING task for owner. The ID is assigned by the store.
// Returns a validation error if the title is blank or too long.
func NewTask(owner uuid.UUID, title, description string) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		Owner:       owner,
		Title:       title,
		Description: description,
		Status:      TaskStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// ValidateTitle rejects empty, whitespace-only and over-long titles.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return NewValidationError("title", "cannot be empty", ErrEmptyTitle)
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return NewValidationError("title", "must be at most 255 characters", ErrTitleTooLong)
	}
	return nil
}

// Validate checks the invariants every stored task must satisfy.
func (t *Task) Validate() error {
	if t.Owner == uuid.Nil {
		return NewValidationError("owner", "cannot be empty", ErrEmptyOwner)
	}

	if err := ValidateTitle(t.Title); err != nil {
		return err
	}

	if !t.Status.IsValid() {
		return NewValidationError("status", "is not a known task status", ErrInvalidTaskStatus)
	}

	// result is set iff the task reached a terminal state
	if t.Status.IsTerminal() != (t.Result != nil) {
		return NewValidationError("result", "must be set exactly when the task is terminal", ErrValidation)
	}

	return nil
}

// IsTerminal reports whether the task is COMPLETED or FAILED.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// CacheKey returns the key under which snapshots of the task are cached.
func (t *Task) CacheKey() string {
	return CacheKey(t.ID)
}

// CacheKey returns the cache key for the task with the given id.
func CacheKey(id int64) string {
	return "task:" + strconv.FormatInt(id, 10)
}

// IsOwnedBy reports whether principal owns the task.
func (t *Task) IsOwnedBy(owner uuid.UUID) bool {
	return t.Owner == owner
}

// Clone returns a deep copy so callers never share pointer fields.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	if t.ExecutionHandle != nil {
		h := *t.ExecutionHandle
		c.ExecutionHandle = &h
	}
	return &c
}

// TruncateResult clips msg to MaxResultLength runes.
func TruncateResult(msg string) string {
	if utf8.RuneCountInString(msg) <= MaxResultLength {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:MaxResultLength])
}
