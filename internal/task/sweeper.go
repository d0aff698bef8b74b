package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/tasktrack/internal/cache"
	"github.com/phrazzld/tasktrack/internal/platform/logger"
	"github.com/phrazzld/tasktrack/internal/store"
)

// DefaultRetentionWindow is how long terminal tasks are kept.
const DefaultRetentionWindow = 30 * 24 * time.Hour

// SweepResult reports one retention pass.
type SweepResult struct {
	Deleted int
	IDs     []int64
	Cutoff  time.Time
}

// Sweeper deletes COMPLETED and FAILED tasks older than a retention window.
// PENDING and PROCESSING tasks are never deleted, whatever their age.
type Sweeper struct {
	store  store.TaskStore
	cache  cache.Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper creates a Sweeper. A nil cache skips invalidation.
func NewSweeper(s store.TaskStore, c cache.Cache, logger *slog.Logger) *Sweeper {
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:  s,
		cache:  c,
		logger: logger.With(slog.String("component", "sweeper")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Sweep deletes terminal tasks created before now minus window in a single
// bulk operation, then drops their cache entries.
func (s *Sweeper) Sweep(ctx context.Context, window time.Duration) (SweepResult, error) {
	if window <= 0 {
		return SweepResult{}, fmt.Errorf("retention window must be positive, got %s", window)
	}

	log := logger.FromContextOrDefault(ctx, s.logger)
	cutoff := s.now().Add(-window)

	ids, err := s.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		log.Error("retention sweep failed",
			slog.Time("cutoff", cutoff),
			slog.String("error", err.Error()))
		return SweepResult{Cutoff: cutoff}, fmt.Errorf("failed to delete expired tasks: %w", err)
	}

	for _, id := range ids {
		cache.InvalidateQuietly(ctx, s.cache, id)
	}

	log.Info("retention sweep finished",
		slog.Int("deleted", len(ids)),
		slog.Time("cutoff", cutoff))

	return SweepResult{Deleted: len(ids), IDs: ids, Cutoff: cutoff}, nil
}
