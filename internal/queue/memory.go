package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	taskID      int64
	visibleAt   time.Time
	token       string
	leasedUntil time.Time
	deliveries  int
	seq         uint64
}

func (e *memoryEntry) available(now time.Time) bool {
	if e.token != "" && now.Before(e.leasedUntil) {
		return false
	}
	return !now.Before(e.visibleAt)
}

// readyAt is the earliest time the entry could become available.
func (e *memoryEntry) readyAt() time.Time {
	if e.token != "" && e.leasedUntil.After(e.visibleAt) {
		return e.leasedUntil
	}
	return e.visibleAt
}

// MemoryQueueConfig holds configuration options for the in-memory queue
type MemoryQueueConfig struct {
	// Capacity bounds the number of queued entries. Zero means unbounded.
	Capacity int

	// VisibilityTimeout is the lease duration. Defaults to DefaultVisibilityTimeout.
	VisibilityTimeout time.Duration
}

// MemoryQueue is a process-local Queue. Entries do not survive a restart;
// the worker pool's recovery pass re-enqueues unfinished tasks on start.
type MemoryQueue struct {
	mu         sync.Mutex
	entries    map[int64]*memoryEntry
	seq        uint64
	config     MemoryQueueConfig
	wake       chan struct{}
	done       chan struct{}
	closed     bool
	now        func() time.Time
	logger     *slog.Logger
	newTokenFn func() string
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a new in-memory lease queue.
func NewMemoryQueue(config MemoryQueueConfig, logger *slog.Logger) *MemoryQueue {
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &MemoryQueue{
		entries:    make(map[int64]*memoryEntry),
		config:     config,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		now:        time.Now,
		logger:     logger,
		newTokenFn: uuid.NewString,
	}
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(_ context.Context, taskID int64, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if _, exists := q.entries[taskID]; exists {
		q.logger.Debug("task already queued", "task_id", taskID)
		return nil
	}

	if q.config.Capacity > 0 && len(q.entries) >= q.config.Capacity {
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, q.config.Capacity)
	}

	q.seq++
	q.entries[taskID] = &memoryEntry{
		taskID:    taskID,
		visibleAt: q.now().Add(delay),
		seq:       q.seq,
	}

	q.logger.Debug("task enqueued",
		"task_id", taskID,
		"delay", delay,
		"queue_len", len(q.entries))

	q.signal()
	return nil
}

// Dequeue implements Queue.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}

		now := q.now()
		next, wait := q.nextAvailable(now)
		if next != nil {
			if next.token != "" {
				q.logger.Warn("lease expired, redelivering task",
					"task_id", next.taskID,
					"deliveries", next.deliveries)
			}
			next.token = q.newTokenFn()
			next.leasedUntil = now.Add(q.config.VisibilityTimeout)
			next.deliveries++

			d := &Delivery{
				TaskID:      next.taskID,
				Token:       next.token,
				Attempt:     next.deliveries,
				LeasedUntil: next.leasedUntil,
			}
			// pass the wake-up on so other consumers re-check remaining entries
			if len(q.entries) > 1 {
				q.signal()
			}
			q.mu.Unlock()
			return d, nil
		}
		q.mu.Unlock()

		if err := q.waitFor(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// waitFor blocks until the queue is signalled, wait elapses, ctx is done or
// the queue closes. A zero wait blocks until a signal.
func (q *MemoryQueue) waitFor(ctx context.Context, wait time.Duration) error {
	var timer <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	case <-q.wake:
	case <-timer:
	}
	return nil
}

// nextAvailable returns the oldest available entry, or how long to wait for
// one to become available (zero if the queue is empty). Caller holds q.mu.
func (q *MemoryQueue) nextAvailable(now time.Time) (*memoryEntry, time.Duration) {
	var best *memoryEntry
	var earliest time.Time

	for _, e := range q.entries {
		if e.available(now) {
			if best == nil || e.visibleAt.Before(best.visibleAt) ||
				(e.visibleAt.Equal(best.visibleAt) && e.seq < best.seq) {
				best = e
			}
			continue
		}
		if ready := e.readyAt(); earliest.IsZero() || ready.Before(earliest) {
			earliest = ready
		}
	}

	if best != nil {
		return best, 0
	}
	if earliest.IsZero() {
		return nil, 0
	}
	return nil, earliest.Sub(now)
}

// Ack implements Queue.
func (q *MemoryQueue) Ack(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[d.TaskID]
	if !ok || e.token != d.Token {
		return fmt.Errorf("%w: task %d", ErrLeaseLost, d.TaskID)
	}

	delete(q.entries, d.TaskID)
	return nil
}

// Nack implements Queue.
func (q *MemoryQueue) Nack(_ context.Context, d *Delivery, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[d.TaskID]
	if !ok || e.token != d.Token {
		return fmt.Errorf("%w: task %d", ErrLeaseLost, d.TaskID)
	}

	e.token = ""
	e.leasedUntil = time.Time{}
	e.visibleAt = q.now().Add(delay)

	q.signal()
	return nil
}

// Close implements Queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.done)
		q.logger.Info("task queue closed", "pending", len(q.entries))
	}
	return nil
}

// Len returns the number of queued entries, leased or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// signal wakes one blocked Dequeue. Caller holds q.mu.
func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
