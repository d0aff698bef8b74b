package cache

import (
	"context"
	"sync"
	"time"

	"github.com/phrazzld/tasktrack/internal/domain"
)

type memoryEntry struct {
	task      *domain.Task
	expiresAt time.Time
}

// MemoryCache is a process-local Cache. Expired entries are removed lazily
// on read and by Purge.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[int64]memoryEntry
	gens    map[int64]uint64
	now     func() time.Time
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[int64]memoryEntry),
		gens:    make(map[int64]uint64),
		now:     time.Now,
	}
}

// WithClock replaces the cache's time source.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, id int64) (*domain.Task, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		// re-check: a concurrent Put may have refreshed the entry
		if current, still := c.entries[id]; still && !c.now().Before(current.expiresAt) {
			delete(c.entries, id)
		}
		c.mu.Unlock()
		return nil, false, nil
	}

	return entry.task.Clone(), true, nil
}

// Put implements Cache. A non-positive ttl stores nothing.
func (c *MemoryCache) Put(_ context.Context, task *domain.Task, ttl time.Duration) error {
	if task == nil || ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.store(task, ttl)
	return nil
}

// Generation implements Cache.
func (c *MemoryCache) Generation(_ context.Context, id int64) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[id], nil
}

// PutIfCurrent implements Cache.
func (c *MemoryCache) PutIfCurrent(_ context.Context, task *domain.Task, ttl time.Duration, gen uint64) (bool, error) {
	if task == nil || ttl <= 0 {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[task.ID] != gen {
		return false, nil
	}
	c.store(task, ttl)
	return true, nil
}

// store writes the entry. c.mu must be held.
func (c *MemoryCache) store(task *domain.Task, ttl time.Duration) {
	c.entries[task.ID] = memoryEntry{
		task:      task.Clone(),
		expiresAt: c.now().Add(ttl),
	}
}

// Invalidate implements Cache.
func (c *MemoryCache) Invalidate(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
	c.gens[id]++
	return nil
}

// Purge removes every expired entry and returns how many were dropped.
func (c *MemoryCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, including expired ones not yet purged.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
