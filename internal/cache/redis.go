package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/platform/logger"
	"github.com/redis/go-redis/v9"
)

// generationTTL bounds how long an idle generation counter is kept.
// It must exceed the longest store read a ReadThrough can be waiting on.
const generationTTL = 24 * time.Hour

func generationKey(id int64) string {
	return domain.CacheKey(id) + ":ver"
}

// RedisCache stores JSON-encoded task snapshots in Redis under domain.CacheKey.
// The generation of each task lives next to it under "task:<id>:ver".
type RedisCache struct {
	client redis.UniversalClient
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache wraps an existing Redis client. The caller owns the client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, id int64) (*domain.Task, bool, error) {
	raw, err := c.client.Get(ctx, domain.CacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", domain.CacheKey(id), err)
	}

	var task domain.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		// a corrupt entry is treated as a miss and dropped
		if delErr := c.client.Del(ctx, domain.CacheKey(id)).Err(); delErr != nil {
			logger.FromContext(ctx).Warn("failed to drop corrupt cache entry",
				slog.Int64("task_id", id),
				slog.String("error", delErr.Error()))
		}
		return nil, false, fmt.Errorf("decode cached task %d: %w", id, err)
	}

	return &task, true, nil
}

// Put implements Cache. A non-positive ttl stores nothing.
func (c *RedisCache) Put(ctx context.Context, task *domain.Task, ttl time.Duration) error {
	if task == nil || ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %d: %w", task.ID, err)
	}

	if err := c.client.Set(ctx, task.CacheKey(), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", task.CacheKey(), err)
	}
	return nil
}

// Generation implements Cache.
func (c *RedisCache) Generation(ctx context.Context, id int64) (uint64, error) {
	gen, err := c.client.Get(ctx, generationKey(id)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", generationKey(id), err)
	}
	return gen, nil
}

// PutIfCurrent implements Cache. The write runs in a MULTI block guarded by
// WATCH on the generation key, so a concurrent Invalidate aborts it.
func (c *RedisCache) PutIfCurrent(ctx context.Context, task *domain.Task, ttl time.Duration, gen uint64) (bool, error) {
	if task == nil || ttl <= 0 {
		return false, nil
	}

	raw, err := json.Marshal(task)
	if err != nil {
		return false, fmt.Errorf("encode task %d: %w", task.ID, err)
	}

	verKey := generationKey(task.ID)
	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, verKey).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, task.CacheKey(), raw, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		stored = true
		return nil
	}, verKey)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("redis set %s: %w", task.CacheKey(), err)
	}
	return stored, nil
}

// Invalidate implements Cache.
func (c *RedisCache) Invalidate(ctx context.Context, id int64) error {
	verKey := generationKey(id)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, domain.CacheKey(id))
		pipe.Incr(ctx, verKey)
		pipe.Expire(ctx, verKey, generationTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate %s: %w", domain.CacheKey(id), err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
