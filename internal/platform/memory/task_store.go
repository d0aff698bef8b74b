// Package memory provides in-process implementations of the store interfaces.
// They back the server when no database is configured and serve as fast
// fakes in unit tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/platform/logger"
	"github.com/phrazzld/tasktrack/internal/store"
)

// TaskStore is a mutex-guarded map implementation of store.TaskStore.
// Returned tasks are copies; callers never share memory with the store.
type TaskStore struct {
	mu     sync.RWMutex
	tasks  map[int64]*domain.Task
	nextID int64
	now    func() time.Time
}

// Compile-time check to ensure TaskStore implements store.TaskStore
var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates an empty in-memory task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[int64]*domain.Task),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the store's time source. Used by tests that need
// deterministic timestamps.
func (s *TaskStore) WithClock(now func() time.Time) *TaskStore {
	s.now = now
	return s
}

// Create implements store.TaskStore.
func (s *TaskStore) Create(ctx context.Context, owner uuid.UUID, title, description string) (*domain.Task, error) {
	task, err := domain.NewTask(owner, title, description)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.now()
	task.ID = s.nextID
	task.CreatedAt = now
	task.UpdatedAt = now
	s.tasks[task.ID] = task

	logger.FromContext(ctx).Debug("task created",
		"task_id", task.ID,
		"owner", owner)

	return task.Clone(), nil
}

// Get implements store.TaskStore.
func (s *TaskStore) Get(ctx context.Context, id int64) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return task.Clone(), nil
}

// Update implements store.TaskStore. The precondition check and the write
// happen under the same lock.
func (s *TaskStore) Update(ctx context.Context, id int64, update store.TaskUpdate) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	next, err := update.Apply(current, s.now())
	if err != nil {
		logger.FromContext(ctx).Debug("task update rejected",
			"task_id", id,
			"status", current.Status,
			"error", err)
		return nil, err
	}

	s.tasks[id] = next
	return next.Clone(), nil
}

// Delete implements store.TaskStore.
func (s *TaskStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return store.ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}

// List implements store.TaskStore.
func (s *TaskStore) List(ctx context.Context, filter store.ListFilter) ([]*domain.Task, error) {
	s.mu.RLock()
	matched := s.matching(filter)
	s.mu.RUnlock()

	sortTasks(matched, filter.Order)

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*domain.Task{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	return matched, nil
}

// Count implements store.TaskStore.
func (s *TaskStore) Count(ctx context.Context, filter store.ListFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, t := range s.tasks {
		if filter.Matches(t) {
			n++
		}
	}
	return n, nil
}

// CountByStatus implements store.TaskStore.
func (s *TaskStore) CountByStatus(ctx context.Context, owner *uuid.UUID) (map[domain.TaskStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.TaskStatus]int)
	for _, t := range s.tasks {
		if owner != nil && t.Owner != *owner {
			continue
		}
		counts[t.Status]++
	}
	return counts, nil
}

// DeleteTerminalBefore implements store.TaskStore.
func (s *TaskStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted []int64
	for id, t := range s.tasks {
		if t.IsTerminal() && t.CreatedAt.Before(cutoff) {
			delete(s.tasks, id)
			deleted = append(deleted, id)
		}
	}

	sort.Slice(deleted, func(i, j int) bool { return deleted[i] < deleted[j] })
	return deleted, nil
}

// matching must be called with at least a read lock held.
func (s *TaskStore) matching(filter store.ListFilter) []*domain.Task {
	out := make([]*domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// sortTasks orders tasks by the requested column, breaking ties by ID so
// pagination is stable.
func sortTasks(tasks []*domain.Task, order store.Ordering) {
	if order.Field == "" {
		order = store.DefaultOrdering
	}

	less := func(a, b *domain.Task) int {
		switch order.Field {
		case store.OrderByUpdatedAt:
			return a.UpdatedAt.Compare(b.UpdatedAt)
		case store.OrderByStatus:
			switch {
			case a.Status < b.Status:
				return -1
			case a.Status > b.Status:
				return 1
			}
			return 0
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		c := less(tasks[i], tasks[j])
		if c == 0 {
			c = compareIDs(tasks[i].ID, tasks[j].ID)
		}
		if order.Descending {
			return c > 0
		}
		return c < 0
	})
}

func compareIDs(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
