package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/tasktrack/internal/cache"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/platform/logger"
	"github.com/phrazzld/tasktrack/internal/queue"
	"github.com/phrazzld/tasktrack/internal/redact"
	"github.com/phrazzld/tasktrack/internal/store"
	"github.com/phrazzld/tasktrack/internal/task"
)

// TaskService provides the operations behind the task API. Every method
// takes the authenticated principal; ownership is enforced here.
type TaskService interface {
	// CreateTask validates the title, stores a PENDING task owned by the
	// principal and queues it for execution.
	CreateTask(ctx context.Context, principal domain.Principal, req CreateTaskRequest) (*CreateTaskResponse, error)

	// GetTask returns the task through the read-through cache.
	GetTask(ctx context.Context, principal domain.Principal, id int64) (*GetTaskResponse, error)

	// ListTasks lists the principal's tasks, or every task for an admin.
	ListTasks(ctx context.Context, principal domain.Principal, req ListTasksRequest) (*ListTasksResponse, error)

	// DeleteTask removes the task and its cache entry.
	DeleteTask(ctx context.Context, principal domain.Principal, id int64) (*DeleteTaskResponse, error)

	// Stats counts the principal's tasks by status.
	Stats(ctx context.Context, principal domain.Principal) (*StatsResponse, error)

	// AdminListTasks lists every task with the total count. Admin only.
	AdminListTasks(ctx context.Context, principal domain.Principal, req AdminListRequest) (*AdminListResponse, error)

	// AdminSummary summarizes every task by status. Admin only.
	AdminSummary(ctx context.Context, principal domain.Principal) (*task.Summary, error)
}

// TaskServiceConfig holds the tunables of the task service.
type TaskServiceConfig struct {
	// CacheTTL is how long task snapshots are cached. Defaults to cache.DefaultTTL.
	CacheTTL time.Duration
}

type taskServiceImpl struct {
	store      store.TaskStore
	cache      cache.Cache
	queue      queue.Queue
	aggregator *task.Aggregator
	cacheTTL   time.Duration
	logger     *slog.Logger
}

var _ TaskService = (*taskServiceImpl)(nil)

// NewTaskService creates a TaskService.
// It returns an error if any of the required dependencies are nil.
func NewTaskService(
	taskStore store.TaskStore,
	taskCache cache.Cache,
	taskQueue queue.Queue,
	config TaskServiceConfig,
	logger *slog.Logger,
) (TaskService, error) {
	if taskStore == nil {
		return nil, domain.NewValidationError("taskStore", "cannot be nil", domain.ErrValidation)
	}
	if taskQueue == nil {
		return nil, domain.NewValidationError("taskQueue", "cannot be nil", domain.ErrValidation)
	}
	if taskCache == nil {
		taskCache = cache.Noop{}
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = cache.DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &taskServiceImpl{
		store:      taskStore,
		cache:      taskCache,
		queue:      taskQueue,
		aggregator: task.NewAggregator(taskStore, logger),
		cacheTTL:   config.CacheTTL,
		logger:     logger.With(slog.String("component", "task_service")),
	}, nil
}

// CreateTask implements TaskService.
func (s *taskServiceImpl) CreateTask(
	ctx context.Context,
	principal domain.Principal,
	req CreateTaskRequest,
) (*CreateTaskResponse, error) {
	if err := Authorize(principal, ActionCreate); err != nil {
		return nil, err
	}
	log := logger.FromContextOrDefault(ctx, s.logger)

	// reject before anything is stored or queued
	if err := domain.ValidateTitle(req.Title); err != nil {
		return nil, err
	}

	created, err := s.store.Create(ctx, principal.UserID, req.Title, req.Description)
	if err != nil {
		if domain.IsValidationError(err) {
			return nil, err
		}
		log.Error("failed to create task", slog.String("error", redact.Error(err)))
		return nil, taskError(ActionCreate, err)
	}

	if err := s.queue.Enqueue(ctx, created.ID, 0); err != nil {
		log.Error("failed to enqueue task, removing it",
			slog.Int64("task_id", created.ID),
			slog.String("error", redact.Error(err)))

		if delErr := s.store.Delete(ctx, created.ID); delErr != nil && !store.IsNotFoundError(delErr) {
			log.Error("failed to remove unqueued task",
				slog.Int64("task_id", created.ID),
				slog.String("error", redact.Error(delErr)))
		}
		return nil, taskError(ActionCreate, fmt.Errorf("%w: %w", ErrEnqueueFailed, err))
	}

	log.Info("task created",
		slog.Int64("task_id", created.ID),
		slog.String("owner", principal.UserID.String()))

	return &CreateTaskResponse{Task: created, Message: CreatedMessage}, nil
}

// GetTask implements TaskService.
func (s *taskServiceImpl) GetTask(ctx context.Context, principal domain.Principal, id int64) (*GetTaskResponse, error) {
	if err := Authorize(principal, ActionRead); err != nil {
		return nil, err
	}

	t, cached, err := cache.ReadThrough(ctx, s.cache, id, s.cacheTTL, s.store.Get)
	if err != nil {
		return nil, s.mapStoreError(ctx, ActionRead, id, err)
	}

	// owner is immutable, so a cached snapshot is as good as the record here
	if !principal.CanAccess(t) {
		return nil, ErrForbidden
	}

	return &GetTaskResponse{Task: t, Cached: cached}, nil
}

// ListTasks implements TaskService.
func (s *taskServiceImpl) ListTasks(
	ctx context.Context,
	principal domain.Principal,
	req ListTasksRequest,
) (*ListTasksResponse, error) {
	if err := Authorize(principal, ActionList); err != nil {
		return nil, err
	}

	if req.CreatedAfter != nil && req.CreatedBefore != nil && req.CreatedAfter.After(*req.CreatedBefore) {
		return nil, domain.NewValidationError("start_date", "must not be after end_date", domain.ErrValidation)
	}

	filter := store.ListFilter{
		Status:        req.Status,
		CreatedAfter:  req.CreatedAfter,
		CreatedBefore: req.CreatedBefore,
		Search:        req.Search,
		Order:         req.Order,
		Limit:         clampLimit(req.Limit),
		Offset:        max(req.Offset, 0),
	}
	if !principal.IsAdmin {
		owner := principal.UserID
		filter.Owner = &owner
	}

	tasks, err := s.store.List(ctx, filter)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list tasks",
			slog.String("error", redact.Error(err)))
		return nil, taskError(ActionList, err)
	}

	return &ListTasksResponse{Tasks: tasks}, nil
}

// DeleteTask implements TaskService.
func (s *taskServiceImpl) DeleteTask(
	ctx context.Context,
	principal domain.Principal,
	id int64,
) (*DeleteTaskResponse, error) {
	if err := Authorize(principal, ActionDelete); err != nil {
		return nil, err
	}

	// ownership is checked against the store, never a cached snapshot of a
	// task that may already be gone
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.mapStoreError(ctx, ActionDelete, id, err)
	}
	if !principal.CanAccess(t) {
		return nil, ErrForbidden
	}

	err = s.store.Delete(ctx, id)
	cache.InvalidateQuietly(ctx, s.cache, id)
	if err != nil {
		return nil, s.mapStoreError(ctx, ActionDelete, id, err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("task deleted",
		slog.Int64("task_id", id),
		slog.String("by", principal.UserID.String()),
		slog.Bool("admin", principal.IsAdmin))

	return &DeleteTaskResponse{
		ID:      id,
		Message: fmt.Sprintf("Task %d deleted successfully", id),
	}, nil
}

// Stats implements TaskService.
func (s *taskServiceImpl) Stats(ctx context.Context, principal domain.Principal) (*StatsResponse, error) {
	if err := Authorize(principal, ActionStats); err != nil {
		return nil, err
	}

	owner := principal.UserID
	summary, err := s.aggregator.Summarize(ctx, &owner)
	if err != nil {
		return nil, taskError(ActionStats, err)
	}

	return &StatsResponse{Stats: summary.Rows(), Total: summary.Total}, nil
}

// AdminListTasks implements TaskService.
func (s *taskServiceImpl) AdminListTasks(
	ctx context.Context,
	principal domain.Principal,
	req AdminListRequest,
) (*AdminListResponse, error) {
	if err := Authorize(principal, ActionAdminList); err != nil {
		return nil, err
	}

	filter := store.ListFilter{
		Status: req.Status,
		Order:  store.DefaultOrdering,
		Limit:  clampLimit(req.Limit),
		Offset: max(req.Offset, 0),
	}

	count, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, taskError(ActionAdminList, err)
	}
	tasks, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, taskError(ActionAdminList, err)
	}

	return &AdminListResponse{Count: count, Tasks: tasks}, nil
}

// AdminSummary implements TaskService.
func (s *taskServiceImpl) AdminSummary(ctx context.Context, principal domain.Principal) (*task.Summary, error) {
	if err := Authorize(principal, ActionAdminSummary); err != nil {
		return nil, err
	}

	summary, err := s.aggregator.Summarize(ctx, nil)
	if err != nil {
		return nil, taskError(ActionAdminSummary, err)
	}
	return &summary, nil
}

func (s *taskServiceImpl) mapStoreError(ctx context.Context, op Action, id int64, err error) error {
	if store.IsNotFoundError(err) {
		return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}

	logger.FromContextOrDefault(ctx, s.logger).Error("task store operation failed",
		slog.String("operation", string(op)),
		slog.Int64("task_id", id),
		slog.String("error", redact.Error(err)))

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return taskError(op, err)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
