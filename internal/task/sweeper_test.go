package task

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasktrack/internal/cache"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/platform/memory"
	"github.com/phrazzld/tasktrack/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// finishTask drives a PENDING task to a terminal status directly in the store.
func finishTask(t *testing.T, s store.TaskStore, id int64, status domain.TaskStatus) {
	t.Helper()
	ctx := context.Background()

	processing := domain.TaskStatusProcessing
	handle := uuid.NewString()
	_, err := s.Update(ctx, id, store.TaskUpdate{Status: &processing, ExecutionHandle: &handle})
	require.NoError(t, err)

	result := "done"
	_, err = s.Update(ctx, id, store.TaskUpdate{Status: &status, Result: &result})
	require.NoError(t, err)
}

func TestSweeper_Sweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	s := memory.NewTaskStore().WithClock(func() time.Time { return clock })
	c := cache.NewMemoryCache()
	owner := uuid.New()

	create := func(title string) *domain.Task {
		task, err := s.Create(ctx, owner, title, "")
		require.NoError(t, err)
		return task
	}

	oldCompleted := create("old completed")
	finishTask(t, s, oldCompleted.ID, domain.TaskStatusCompleted)
	oldFailed := create("old failed")
	finishTask(t, s, oldFailed.ID, domain.TaskStatusFailed)
	oldPending := create("old pending")
	oldProcessing := create("old processing")
	processing := domain.TaskStatusProcessing
	handle := "h"
	_, err := s.Update(ctx, oldProcessing.ID, store.TaskUpdate{Status: &processing, ExecutionHandle: &handle})
	require.NoError(t, err)

	clock = base.Add(40 * 24 * time.Hour)
	recent := create("recent completed")
	finishTask(t, s, recent.ID, domain.TaskStatusCompleted)

	for _, id := range []int64{oldCompleted.ID, oldFailed.ID, recent.ID} {
		task, err := s.Get(ctx, id)
		require.NoError(t, err)
		require.NoError(t, c.Put(ctx, task, time.Hour))
	}

	sweeper := NewSweeper(s, c, setupTestLogger())
	sweeper.now = func() time.Time { return clock }

	res, err := sweeper.Sweep(ctx, DefaultRetentionWindow)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, []int64{oldCompleted.ID, oldFailed.ID}, res.IDs)
	assert.Equal(t, clock.Add(-DefaultRetentionWindow), res.Cutoff)

	for _, id := range res.IDs {
		_, err := s.Get(ctx, id)
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
		_, hit, err := c.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, hit, "swept task %d left in cache", id)
	}

	for _, id := range []int64{oldPending.ID, oldProcessing.ID, recent.ID} {
		_, err := s.Get(ctx, id)
		assert.NoError(t, err, "task %d must survive", id)
	}
	_, hit, err := c.Get(ctx, recent.ID)
	require.NoError(t, err)
	assert.True(t, hit)

	again, err := sweeper.Sweep(ctx, DefaultRetentionWindow)
	require.NoError(t, err)
	assert.Zero(t, again.Deleted)
}

func TestSweeper_RejectsNonPositiveWindow(t *testing.T) {
	t.Parallel()

	sweeper := NewSweeper(memory.NewTaskStore(), nil, nil)
	for _, window := range []time.Duration{0, -time.Hour} {
		_, err := sweeper.Sweep(context.Background(), window)
		assert.Error(t, err, "window %s", window)
	}
}
