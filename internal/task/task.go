package task

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/phrazzld/tasktrack/internal/domain"
)

// OutcomeKind classifies how an execution ended.
type OutcomeKind string

// Possible outcome kinds
const (
	// OutcomeCompleted means the task reached COMPLETED.
	OutcomeCompleted OutcomeKind = "completed"
	// OutcomeRetry means the delivery should be redelivered after Delay.
	OutcomeRetry OutcomeKind = "retry"
	// OutcomeFatal means the delivery must not be retried: the record is gone
	// or the task reached FAILED.
	OutcomeFatal OutcomeKind = "fatal"
	// OutcomeDuplicate means another execution owns the task or it already
	// finished. Nothing was changed.
	OutcomeDuplicate OutcomeKind = "duplicate"
)

// Outcome is the result of executing one delivery. The worker pool acks every
// kind except OutcomeRetry, which it nacks with Delay.
type Outcome struct {
	Kind  OutcomeKind
	Delay time.Duration
	Err   error
	Task  *domain.Task
}

// Acknowledge reports whether the delivery should be removed from the queue.
func (o Outcome) Acknowledge() bool {
	return o.Kind != OutcomeRetry
}

func completed(t *domain.Task) Outcome { return Outcome{Kind: OutcomeCompleted, Task: t} }

func retry(delay time.Duration, err error) Outcome {
	return Outcome{Kind: OutcomeRetry, Delay: delay, Err: err}
}

func fatal(t *domain.Task, err error) Outcome { return Outcome{Kind: OutcomeFatal, Task: t, Err: err} }

func duplicate(t *domain.Task, err error) Outcome {
	return Outcome{Kind: OutcomeDuplicate, Task: t, Err: err}
}

// Work is the unit of computation performed for a task.
type Work interface {
	Run(ctx context.Context, task *domain.Task) error
}

// WorkFunc adapts an ordinary function to the Work interface.
type WorkFunc func(ctx context.Context, task *domain.Task) error

// Run implements Work.
func (f WorkFunc) Run(ctx context.Context, task *domain.Task) error {
	return f(ctx, task)
}

// Default simulated workload bounds.
const (
	DefaultMinDuration = 10 * time.Second
	DefaultMaxDuration = 20 * time.Second
)

// SimulatedWork stands in for real processing: it sleeps for a uniformly
// random duration between MinDuration and MaxDuration.
type SimulatedWork struct {
	MinDuration time.Duration
	MaxDuration time.Duration

	// randN returns a value in [0, n). Replaceable in tests.
	randN func(n int64) int64
	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ Work = (*SimulatedWork)(nil)

// NewSimulatedWork creates a SimulatedWork. Invalid bounds fall back to the
// defaults, and max is raised to min when smaller.
func NewSimulatedWork(minDuration, maxDuration time.Duration) *SimulatedWork {
	if minDuration < 0 {
		minDuration = DefaultMinDuration
	}
	if maxDuration < minDuration {
		maxDuration = minDuration
	}
	return &SimulatedWork{
		MinDuration: minDuration,
		MaxDuration: maxDuration,
		randN:       rand.Int63n,
		sleep:       sleepContext,
	}
}

// Duration picks the next simulated duration.
func (w *SimulatedWork) Duration() time.Duration {
	span := int64(w.MaxDuration - w.MinDuration)
	if span <= 0 {
		return w.MinDuration
	}
	return w.MinDuration + time.Duration(w.randN(span+1))
}

// Run implements Work.
func (w *SimulatedWork) Run(ctx context.Context, task *domain.Task) error {
	if err := w.sleep(ctx, w.Duration()); err != nil {
		return fmt.Errorf("task %d interrupted: %w", task.ID, err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
