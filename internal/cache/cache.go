// Package cache provides short-lived task snapshots for status polling.
//
// The cache never holds authority: the task store is the source of truth,
// every status-affecting write invalidates the entry, and cache failures
// degrade to a store read instead of failing the request.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/platform/logger"
)

// DefaultTTL is the lifetime of a cached snapshot when none is configured.
const DefaultTTL = 300 * time.Second

// Cache stores task snapshots keyed by task ID.
type Cache interface {
	// Get returns the snapshot for id. The boolean is false on a miss.
	Get(ctx context.Context, id int64) (*domain.Task, bool, error)

	// Put stores a snapshot of task that expires after ttl.
	Put(ctx context.Context, task *domain.Task, ttl time.Duration) error

	// Generation returns the invalidation counter for id. It starts at zero
	// and grows by one on every Invalidate.
	Generation(ctx context.Context, id int64) (uint64, error)

	// PutIfCurrent stores a snapshot of task only while the generation of
	// task.ID still equals gen. The boolean reports whether it was stored.
	PutIfCurrent(ctx context.Context, task *domain.Task, ttl time.Duration, gen uint64) (bool, error)

	// Invalidate drops the snapshot for id and advances its generation.
	// Missing entries are not an error.
	Invalidate(ctx context.Context, id int64) error
}

// LoadFunc reads a task from the source of truth.
type LoadFunc func(ctx context.Context, id int64) (*domain.Task, error)

// ReadThrough returns the cached snapshot of id when present, otherwise it
// loads the task and populates the cache. The boolean reports whether the
// value came from the cache. Cache errors are logged and treated as a miss.
//
// The generation is read before the load, so a snapshot loaded before a
// concurrent Invalidate is never written back.
func ReadThrough(
	ctx context.Context,
	c Cache,
	id int64,
	ttl time.Duration,
	load LoadFunc,
) (*domain.Task, bool, error) {
	log := logger.FromContext(ctx).With(slog.Int64("task_id", id))

	task, ok, err := c.Get(ctx, id)
	switch {
	case err != nil:
		log.Warn("cache read failed, falling back to store", slog.String("error", err.Error()))
	case ok:
		return task, true, nil
	}

	gen, genErr := c.Generation(ctx, id)
	if genErr != nil {
		log.Warn("cache generation read failed, skipping fill", slog.String("error", genErr.Error()))
	}

	task, err = load(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if genErr != nil {
		return task, false, nil
	}

	stored, err := c.PutIfCurrent(ctx, task, ttl, gen)
	switch {
	case err != nil:
		log.Warn("cache write failed", slog.String("error", err.Error()))
	case !stored:
		log.Debug("task changed during load, snapshot not cached")
	}

	return task, false, nil
}

// InvalidateQuietly drops the snapshot for id and logs, rather than returns,
// any failure.
func InvalidateQuietly(ctx context.Context, c Cache, id int64) {
	if err := c.Invalidate(ctx, id); err != nil {
		logger.FromContext(ctx).Warn("cache invalidation failed",
			slog.Int64("task_id", id),
			slog.String("error", err.Error()))
	}
}

// Noop is a Cache that stores nothing. Every Get is a miss.
type Noop struct{}

var _ Cache = Noop{}

// Get implements Cache.
func (Noop) Get(context.Context, int64) (*domain.Task, bool, error) { return nil, false, nil }

// Put implements Cache.
func (Noop) Put(context.Context, *domain.Task, time.Duration) error { return nil }

// Generation implements Cache.
func (Noop) Generation(context.Context, int64) (uint64, error) { return 0, nil }

// PutIfCurrent implements Cache. It accepts and drops every snapshot.
func (Noop) PutIfCurrent(context.Context, *domain.Task, time.Duration, uint64) (bool, error) {
	return true, nil
}

// Invalidate implements Cache.
func (Noop) Invalidate(context.Context, int64) error { return nil }
