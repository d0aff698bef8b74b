package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/platform/logger"
	"github.com/phrazzld/tasktrack/internal/platform/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCounter struct {
	*memory.TaskStore
}

func (failingCounter) CountByStatus(context.Context, *uuid.UUID) (map[domain.TaskStatus]int, error) {
	return nil, errors.New("database unavailable")
}

func seedSummaryTasks(t *testing.T, s *memory.TaskStore, alice, bob uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	for _, owner := range []uuid.UUID{alice, alice, bob} {
		_, err := s.Create(ctx, owner, "pending", "")
		require.NoError(t, err)
	}
	for _, owner := range []uuid.UUID{alice, bob} {
		task, err := s.Create(ctx, owner, "done", "")
		require.NoError(t, err)
		finishTask(t, s, task.ID, domain.TaskStatusCompleted)
	}
	task, err := s.Create(ctx, bob, "broken", "")
	require.NoError(t, err)
	finishTask(t, s, task.ID, domain.TaskStatusFailed)
}

func TestAggregator_Summarize(t *testing.T) {
	t.Parallel()

	alice, bob := uuid.New(), uuid.New()
	s := memory.NewTaskStore()
	seedSummaryTasks(t, s, alice, bob)

	agg := NewAggregator(s, setupTestLogger())
	fixed := time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return fixed }

	tests := []struct {
		name   string
		owner  *uuid.UUID
		counts map[domain.TaskStatus]int
		total  int
	}{
		{
			name:  "global",
			owner: nil,
			counts: map[domain.TaskStatus]int{
				domain.TaskStatusPending:    3,
				domain.TaskStatusProcessing: 0,
				domain.TaskStatusCompleted:  2,
				domain.TaskStatusFailed:     1,
			},
			total: 6,
		},
		{
			name:  "single owner",
			owner: &alice,
			counts: map[domain.TaskStatus]int{
				domain.TaskStatusPending:    2,
				domain.TaskStatusProcessing: 0,
				domain.TaskStatusCompleted:  1,
				domain.TaskStatusFailed:     0,
			},
			total: 3,
		},
		{
			name:  "owner without tasks",
			owner: func() *uuid.UUID { id := uuid.New(); return &id }(),
			counts: map[domain.TaskStatus]int{
				domain.TaskStatusPending:    0,
				domain.TaskStatusProcessing: 0,
				domain.TaskStatusCompleted:  0,
				domain.TaskStatusFailed:     0,
			},
			total: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			summary, err := agg.Summarize(context.Background(), tc.owner)
			require.NoError(t, err)
			assert.Equal(t, tc.counts, summary.Counts)
			assert.Equal(t, tc.total, summary.Total)
			assert.Equal(t, fixed, summary.GeneratedAt)
		})
	}
}

func TestSummary_RowsFollowLifecycleOrder(t *testing.T) {
	t.Parallel()

	summary := Summary{Counts: map[domain.TaskStatus]int{
		domain.TaskStatusFailed:  4,
		domain.TaskStatusPending: 1,
	}}

	assert.Equal(t, []StatusCount{
		{Status: domain.TaskStatusPending, Count: 1},
		{Status: domain.TaskStatusProcessing, Count: 0},
		{Status: domain.TaskStatusCompleted, Count: 0},
		{Status: domain.TaskStatusFailed, Count: 4},
	}, summary.Rows())
}

func TestAggregator_LogSummary(t *testing.T) {
	t.Parallel()

	alice, bob := uuid.New(), uuid.New()
	s := memory.NewTaskStore()
	seedSummaryTasks(t, s, alice, bob)

	log, buf := logger.GetTestLogger(t)
	agg := NewAggregator(s, log)

	require.NoError(t, agg.LogSummary(context.Background()))
	logger.AssertLogContains(t, buf, "task status summary")
	logger.AssertLogContains(t, buf, `"PENDING":3`)
	logger.AssertLogContains(t, buf, `"total":6`)
}

func TestAggregator_StoreError(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(failingCounter{memory.NewTaskStore()}, setupTestLogger())
	_, err := agg.Summarize(context.Background(), nil)
	assert.Error(t, err)
	assert.Error(t, agg.LogSummary(context.Background()))
}
