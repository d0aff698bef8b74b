// Package queue defines the lease-based delivery contract between the API
// surface, which enqueues task IDs, and the worker pool, which consumes them.
//
// A dequeued entry is leased, not removed. It stays invisible to other
// consumers until it is acknowledged, negatively acknowledged, or its
// visibility timeout lapses, at which point it is delivered again with a new
// lease token. At most one lease per task ID is outstanding at any time.
package queue

import (
	"context"
	"errors"
	"time"
)

// DefaultVisibilityTimeout is how long a delivery stays leased before it is
// handed to another consumer.
const DefaultVisibilityTimeout = 5 * time.Minute

// Common errors returned by Queue implementations
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")

	// ErrLeaseLost is returned by Ack and Nack when the delivery's lease
	// expired and the entry was handed out again, or the entry is gone.
	ErrLeaseLost = errors.New("queue lease lost")
)

// Delivery is one leased hand-out of a queued task ID.
type Delivery struct {
	TaskID int64
	// Token identifies this lease. It changes on every redelivery.
	Token string
	// Attempt counts deliveries of this entry, starting at 1.
	Attempt int
	// LeasedUntil is when the entry becomes visible again if not acked.
	LeasedUntil time.Time
}

// Queue is a delayed, lease-based queue of task IDs.
type Queue interface {
	// Enqueue makes taskID deliverable after delay. Enqueueing an ID that is
	// already queued is a no-op.
	Enqueue(ctx context.Context, taskID int64, delay time.Duration) error

	// Dequeue blocks until an entry is visible, ctx is done or the queue is
	// closed, and returns a leased Delivery.
	Dequeue(ctx context.Context) (*Delivery, error)

	// Ack removes the entry for good.
	Ack(ctx context.Context, d *Delivery) error

	// Nack releases the lease and makes the entry visible again after delay.
	Nack(ctx context.Context, d *Delivery, delay time.Duration) error

	// Close stops further deliveries. Blocked Dequeue calls return ErrQueueClosed.
	Close() error
}
