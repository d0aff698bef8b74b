package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

// steppingClock returns a clock that advances one minute per call.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Minute)
		return current
	}
}

func newTestStore() *TaskStore {
	return NewTaskStore().WithClock(steppingClock(time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)))
}

func TestTaskStore_CreateGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	owner := uuid.New()

	first, err := s.Create(ctx, owner, "First", "")
	require.NoError(t, err)
	second, err := s.Create(ctx, owner, "Second", "details")
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, domain.TaskStatusPending, first.Status)
	assert.Nil(t, first.Result)

	got, err := s.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	// mutating a returned copy must not leak into the store
	got.Title = "changed"
	again, err := s.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "Second", again.Title)

	_, err = s.Get(ctx, 99)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.True(t, store.IsNotFoundError(err))
}

func TestTaskStore_CreateValidation(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	_, err := s.Create(context.Background(), uuid.New(), "   ", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmptyTitle)

	n, err := s.Count(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, n, "nothing persisted on validation failure")
}

func TestTaskStore_UpdateLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	task, err := s.Create(ctx, uuid.New(), "Lifecycle", "")
	require.NoError(t, err)

	processing, err := s.Update(ctx, task.ID, store.TaskUpdate{
		Status:          ptr(domain.TaskStatusProcessing),
		ExecutionHandle: ptr("h1"),
		Attempts:        ptr(1),
		ExpectStatus:    []domain.TaskStatus{domain.TaskStatusPending},
	})
	require.NoError(t, err)
	assert.True(t, processing.UpdatedAt.After(task.UpdatedAt))

	// a second dispatch expecting PENDING loses the race
	_, err = s.Update(ctx, task.ID, store.TaskUpdate{
		Status:       ptr(domain.TaskStatusProcessing),
		ExpectStatus: []domain.TaskStatus{domain.TaskStatusPending},
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	done, err := s.Update(ctx, task.ID, store.TaskUpdate{
		Status:       ptr(domain.TaskStatusCompleted),
		Result:       ptr("ok"),
		ExpectHandle: ptr("h1"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, done.Status)
	assert.Equal(t, "ok", *done.Result)

	_, err = s.Update(ctx, task.ID, store.TaskUpdate{Status: ptr(domain.TaskStatusProcessing)})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = s.Update(ctx, 404, store.TaskUpdate{})
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	task, err := s.Create(ctx, uuid.New(), "Doomed", "")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, task.ID))
	assert.ErrorIs(t, s.Delete(ctx, task.ID), store.ErrTaskNotFound)

	_, err = s.Get(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_ListAndCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	alice, bob := uuid.New(), uuid.New()

	for _, title := range []string{"alpha", "beta", "gamma"} {
		_, err := s.Create(ctx, alice, title, "")
		require.NoError(t, err)
	}
	bobTask, err := s.Create(ctx, bob, "bob report", "quarterly")
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter store.ListFilter
		titles []string
	}{
		{
			name:   "default newest first",
			filter: store.ListFilter{},
			titles: []string{"bob report", "gamma", "beta", "alpha"},
		},
		{
			name:   "owner ascending",
			filter: store.ListFilter{Owner: &alice, Order: store.Ordering{Field: store.OrderByCreatedAt}},
			titles: []string{"alpha", "beta", "gamma"},
		},
		{
			name:   "pagination",
			filter: store.ListFilter{Owner: &alice, Order: store.Ordering{Field: store.OrderByCreatedAt}, Limit: 1, Offset: 1},
			titles: []string{"beta"},
		},
		{
			name:   "offset past end",
			filter: store.ListFilter{Offset: 10},
			titles: []string{},
		},
		{
			name:   "search description",
			filter: store.ListFilter{Search: "QUARTER"},
			titles: []string{"bob report"},
		},
		{
			name:   "created range",
			filter: store.ListFilter{CreatedAfter: &bobTask.CreatedAt},
			titles: []string{"bob report"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := s.List(ctx, tt.filter)
			require.NoError(t, err)

			titles := make([]string, 0, len(tasks))
			for _, task := range tasks {
				titles = append(titles, task.Title)
			}
			assert.Equal(t, tt.titles, titles)
		})
	}

	n, err := s.Count(ctx, store.ListFilter{Owner: &alice, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, n, "count ignores pagination")
}

func TestTaskStore_CountByStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	alice, bob := uuid.New(), uuid.New()

	a1, err := s.Create(ctx, alice, "a1", "")
	require.NoError(t, err)
	_, err = s.Create(ctx, alice, "a2", "")
	require.NoError(t, err)
	_, err = s.Create(ctx, bob, "b1", "")
	require.NoError(t, err)

	_, err = s.Update(ctx, a1.ID, store.TaskUpdate{Status: ptr(domain.TaskStatusProcessing)})
	require.NoError(t, err)

	all, err := s.CountByStatus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, map[domain.TaskStatus]int{
		domain.TaskStatusPending:    2,
		domain.TaskStatusProcessing: 1,
	}, all)

	mine, err := s.CountByStatus(ctx, &alice)
	require.NoError(t, err)
	assert.Equal(t, 1, mine[domain.TaskStatusPending])
	assert.Equal(t, 1, mine[domain.TaskStatusProcessing])
}

func TestTaskStore_DeleteTerminalBefore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	owner := uuid.New()

	finish := func(title string, status domain.TaskStatus) *domain.Task {
		task, err := s.Create(ctx, owner, title, "")
		require.NoError(t, err)
		_, err = s.Update(ctx, task.ID, store.TaskUpdate{Status: ptr(domain.TaskStatusProcessing)})
		require.NoError(t, err)
		_, err = s.Update(ctx, task.ID, store.TaskUpdate{Status: ptr(status), Result: ptr("r")})
		require.NoError(t, err)
		return task
	}

	old := finish("old done", domain.TaskStatusCompleted)
	oldFailed := finish("old failed", domain.TaskStatusFailed)
	stillRunning, err := s.Create(ctx, owner, "old pending", "")
	require.NoError(t, err)

	cutoff := stillRunning.CreatedAt.Add(30 * time.Second)
	recent := finish("recent", domain.TaskStatusCompleted)

	deleted, err := s.DeleteTerminalBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []int64{old.ID, oldFailed.ID}, deleted)

	_, err = s.Get(ctx, stillRunning.ID)
	assert.NoError(t, err, "non-terminal tasks are kept regardless of age")
	_, err = s.Get(ctx, recent.ID)
	assert.NoError(t, err)

	again, err := s.DeleteTerminalBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Empty(t, again)
}
