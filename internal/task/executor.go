package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/tasktrack/internal/cache"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/platform/logger"
	"github.com/phrazzld/tasktrack/internal/queue"
	"github.com/phrazzld/tasktrack/internal/redact"
	"github.com/phrazzld/tasktrack/internal/store"
)

// ErrRetriesExhausted is recorded when a redelivered task has already used
// its whole attempt budget.
var ErrRetriesExhausted = errors.New("retry budget exhausted")

// ExecutorConfig holds the retry policy.
type ExecutorConfig struct {
	// MaxAttempts is the total number of executions allowed, including the first.
	MaxAttempts int
	// RetryDelay is the flat delay between attempts.
	RetryDelay time.Duration
}

// DefaultExecutorConfig returns the standard policy: three attempts, one minute apart.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxAttempts: 3,
		RetryDelay:  60 * time.Second,
	}
}

// Executor drives one delivery of a task through the state machine.
// The store is authoritative; the cache entry is invalidated after every
// status-affecting write.
type Executor struct {
	store  store.TaskStore
	cache  cache.Cache
	work   Work
	config ExecutorConfig
	logger *slog.Logger
	now    func() time.Time

	// pending holds the FAILED result of a last attempt whose write did not
	// land, keyed by task ID, until a redelivery records it.
	mu      sync.Mutex
	pending map[int64]string
}

// NewExecutor creates an Executor. A nil cache disables invalidation and a
// nil logger uses slog.Default().
func NewExecutor(s store.TaskStore, c cache.Cache, work Work, config ExecutorConfig, logger *slog.Logger) *Executor {
	defaults := DefaultExecutorConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		store:   s,
		cache:   c,
		work:    work,
		config:  config,
		logger:  logger.With(slog.String("component", "executor")),
		now:     func() time.Time { return time.Now().UTC() },
		pending: make(map[int64]string),
	}
}

func (e *Executor) rememberFailure(id int64, result string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[id] = result
}

func (e *Executor) pendingFailure(id int64) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	result, ok := e.pending[id]
	return result, ok
}

func (e *Executor) forgetFailure(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, id)
}

// CompletedResult formats the result recorded for a successful execution.
func CompletedResult(elapsed time.Duration, finishedAt time.Time) string {
	return fmt.Sprintf("Task completed successfully in %.2f seconds at %s",
		elapsed.Seconds(), finishedAt.UTC().Format(time.RFC3339))
}

// FailedResult formats the result recorded for a failed execution.
func FailedResult(err error) string {
	return domain.TruncateResult("Task failed due to: " + err.Error())
}

// Execute runs the delivery and reports what the queue should do with it.
func (e *Executor) Execute(ctx context.Context, d *queue.Delivery) Outcome {
	log := logger.FromContextOrDefault(ctx, e.logger).With(
		slog.Int64("task_id", d.TaskID),
		slog.Int("delivery", d.Attempt),
	)
	ctx = logger.WithLogger(ctx, log)

	current, err := e.store.Get(ctx, d.TaskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			log.Warn("task record vanished before execution")
			return fatal(nil, err)
		}
		log.Error("failed to load task", slog.String("error", redact.Error(err)))
		return retry(e.config.RetryDelay, err)
	}

	if current.IsTerminal() {
		log.Info("task already finished, dropping redelivery", slog.String("status", string(current.Status)))
		return duplicate(current, nil)
	}

	if current.Attempts >= e.config.MaxAttempts {
		return e.finalizeExhausted(ctx, current)
	}

	running, outcome, ok := e.dispatch(ctx, current, d.Token)
	if !ok {
		return outcome
	}

	log = log.With(slog.Int("attempt", running.Attempts))
	log.Info("task execution started")

	start := e.now()
	workErr := e.work.Run(ctx, running)
	elapsed := e.now().Sub(start)

	if workErr == nil {
		return e.complete(ctx, running, d.Token, elapsed)
	}

	if ctx.Err() != nil {
		// shutting down: hand the task back without spending a retry delay
		log.Warn("task execution interrupted", slog.String("error", workErr.Error()))
		return retry(0, workErr)
	}

	return e.fail(ctx, running, d.Token, workErr)
}

// dispatch performs the conditional transition to PROCESSING under handle.
func (e *Executor) dispatch(ctx context.Context, current *domain.Task, handle string) (*domain.Task, Outcome, bool) {
	log := logger.FromContext(ctx)

	status := domain.TaskStatusProcessing
	attempts := current.Attempts + 1
	update := store.TaskUpdate{
		Status:          &status,
		ExecutionHandle: &handle,
		Attempts:        &attempts,
		ExpectStatus:    []domain.TaskStatus{current.Status},
		ExpectHandle:    current.ExecutionHandle,
	}

	running, err := e.store.Update(ctx, current.ID, update)
	switch {
	case err == nil:
	case store.IsNotFoundError(err):
		log.Warn("task record vanished before dispatch")
		return nil, fatal(nil, err), false
	case store.IsConflictError(err):
		log.Info("task claimed by another execution", slog.String("error", err.Error()))
		return nil, duplicate(current, err), false
	default:
		log.Error("failed to mark task processing", slog.String("error", redact.Error(err)))
		return nil, retry(e.config.RetryDelay, err), false
	}

	cache.InvalidateQuietly(ctx, e.cache, current.ID)
	return running, Outcome{}, true
}

func (e *Executor) complete(ctx context.Context, running *domain.Task, handle string, elapsed time.Duration) Outcome {
	log := logger.FromContext(ctx)

	status := domain.TaskStatusCompleted
	result := CompletedResult(elapsed, e.now())
	done, err := e.store.Update(ctx, running.ID, store.TaskUpdate{
		Status:       &status,
		Result:       &result,
		ExpectHandle: &handle,
		ExpectStatus: []domain.TaskStatus{domain.TaskStatusProcessing},
	})
	cache.InvalidateQuietly(ctx, e.cache, running.ID)

	switch {
	case err == nil:
		log.Info("task completed", slog.Duration("elapsed", elapsed))
		return completed(done)
	case store.IsNotFoundError(err):
		log.Warn("task deleted while running")
		return fatal(nil, err)
	case store.IsConflictError(err):
		log.Warn("task completion superseded by another execution", slog.String("error", err.Error()))
		return duplicate(running, err)
	default:
		log.Error("failed to record task completion", slog.String("error", redact.Error(err)))
		return retry(e.config.RetryDelay, err)
	}
}

// fail records a failed attempt. Before the last attempt the bookkeeping
// write only touches updated_at, keeping the task PROCESSING with no result.
// Its failure is logged and ignored. On the last attempt the task becomes
// FAILED; if that write fails the delivery is retried so the redelivery can
// finalize it.
func (e *Executor) fail(ctx context.Context, running *domain.Task, handle string, workErr error) Outcome {
	log := logger.FromContext(ctx).With(slog.String("error", redact.Error(workErr)))

	final := running.Attempts >= e.config.MaxAttempts
	update := store.TaskUpdate{
		ExpectHandle: &handle,
		ExpectStatus: []domain.TaskStatus{domain.TaskStatusProcessing},
	}
	var result string
	if final {
		status := domain.TaskStatusFailed
		result = FailedResult(workErr)
		update.Status = &status
		update.Result = &result
	}

	failed, err := e.store.Update(ctx, running.ID, update)
	cache.InvalidateQuietly(ctx, e.cache, running.ID)

	if err != nil {
		log.Warn("failed to record task failure", slog.String("write_error", redact.Error(err)))
		if store.IsNotFoundError(err) {
			return fatal(nil, err)
		}
		if store.IsConflictError(err) {
			return duplicate(running, err)
		}
	}

	if !final {
		log.Warn("task execution failed, scheduling retry",
			slog.Int("attempts_left", e.config.MaxAttempts-running.Attempts),
			slog.Duration("retry_delay", e.config.RetryDelay))
		return retry(e.config.RetryDelay, workErr)
	}

	if err != nil {
		e.rememberFailure(running.ID, result)
		return retry(e.config.RetryDelay, workErr)
	}

	log.Error("task failed permanently")
	return fatal(failed, workErr)
}

// finalizeExhausted fails a task redelivered after its last attempt was
// started but never recorded. The result is the last attempt's error when
// this executor saw it fail, otherwise ErrRetriesExhausted (for example after
// a crash).
func (e *Executor) finalizeExhausted(ctx context.Context, current *domain.Task) Outcome {
	log := logger.FromContext(ctx)

	status := domain.TaskStatusFailed
	result, known := e.pendingFailure(current.ID)
	if !known {
		result = FailedResult(ErrRetriesExhausted)
	}
	update := store.TaskUpdate{
		Status:       &status,
		Result:       &result,
		ExpectStatus: []domain.TaskStatus{current.Status},
		ExpectHandle: current.ExecutionHandle,
	}

	failed, err := e.store.Update(ctx, current.ID, update)
	cache.InvalidateQuietly(ctx, e.cache, current.ID)

	switch {
	case err == nil:
		e.forgetFailure(current.ID)
		log.Error("task failed permanently", slog.String("result", result))
		return fatal(failed, ErrRetriesExhausted)
	case store.IsNotFoundError(err):
		e.forgetFailure(current.ID)
		return fatal(nil, err)
	case store.IsConflictError(err):
		e.forgetFailure(current.ID)
		return duplicate(current, err)
	default:
		log.Error("failed to finalize exhausted task", slog.String("error", redact.Error(err)))
		return retry(e.config.RetryDelay, err)
	}
}
