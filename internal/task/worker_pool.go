package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/queue"
	"github.com/phrazzld/tasktrack/internal/store"
)

// Processor executes a single delivery. *Executor is the production implementation.
type Processor interface {
	Execute(ctx context.Context, d *queue.Delivery) Outcome
}

// WorkerPool manages a pool of worker goroutines that consume deliveries
// from a queue. Each outcome becomes an ack or a delayed nack.
type WorkerPool struct {
	// queue provides the deliveries to be processed
	queue queue.Queue

	// processor runs each delivery
	processor Processor

	// workerCount is the number of concurrent workers to start
	workerCount int

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx stops workers from taking new deliveries
	ctx    context.Context
	cancel context.CancelFunc

	// execCtx is handed to executions; it is only cancelled when a
	// graceful stop times out
	execCtx    context.Context
	execCancel context.CancelFunc

	// logger for structured logging
	logger *slog.Logger

	// retryDelayOnPanic is the nack delay used when an execution panics
	retryDelayOnPanic time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int

	// PanicRetryDelay is the delay before a delivery whose execution
	// panicked is retried. Defaults to one minute.
	PanicRetryDelay time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:     2,
		PanicRetryDelay: time.Minute,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(q queue.Queue, processor Processor, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "worker_pool"))

	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}
	if config.PanicRetryDelay <= 0 {
		config.PanicRetryDelay = DefaultWorkerPoolConfig().PanicRetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	execCtx, execCancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:             q,
		processor:         processor,
		workerCount:       workerCount,
		ctx:               ctx,
		cancel:            cancel,
		execCtx:           execCtx,
		execCancel:        execCancel,
		logger:            logger,
		retryDelayOnPanic: config.PanicRetryDelay,
	}
}

// Start launches the worker goroutines. Calling Start more than once has no effect.
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting worker pool", "worker_count", p.workerCount)
		for i := 0; i < p.workerCount; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// Stop stops taking new deliveries and waits for in-flight executions to
// finish. If ctx is done first, in-flight executions are cancelled, which
// hands their tasks back to the queue, and Stop waits for them to return.
func (p *WorkerPool) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		p.logger.Info("stopping worker pool")
		p.cancel()

		drained := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
			p.logger.Info("worker pool drained")
		case <-ctx.Done():
			p.logger.Warn("worker pool drain timed out, cancelling in-flight executions")
			p.execCancel()
			<-drained
			err = fmt.Errorf("worker pool drain: %w", ctx.Err())
		}
		p.execCancel()
	})
	return err
}

// worker consumes deliveries until the pool is stopped or the queue closes.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	log := p.logger.With("worker_id", id)
	log.Debug("starting worker")

	for {
		d, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || p.ctx.Err() != nil {
				log.Debug("stopping worker")
				return
			}
			log.Error("failed to dequeue task", "error", err)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		p.handle(log, d)
	}
}

// handle runs one delivery and settles it with the queue.
func (p *WorkerPool) handle(log *slog.Logger, d *queue.Delivery) {
	log = log.With("task_id", d.TaskID, "delivery", d.Attempt)
	outcome := p.execute(log, d)

	// settle with a fresh context so a stopping pool still acks its last work
	settleCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if outcome.Acknowledge() {
		err = p.queue.Ack(settleCtx, d)
	} else {
		err = p.queue.Nack(settleCtx, d, outcome.Delay)
	}

	if err != nil {
		// a lost lease means the entry was already handed to another worker
		log.Warn("failed to settle delivery",
			"outcome", outcome.Kind,
			"error", err)
		return
	}

	log.Debug("delivery settled", "outcome", outcome.Kind, "delay", outcome.Delay)
}

// execute runs the processor and converts a panic into a delayed retry.
func (p *WorkerPool) execute(log *slog.Logger, d *queue.Delivery) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task execution panicked", "panic", r)
			outcome = retry(p.retryDelayOnPanic, fmt.Errorf("panic: %v", r))
		}
	}()

	return p.processor.Execute(p.execCtx, d)
}

// Recover re-enqueues every PENDING and PROCESSING task. A process-local
// queue loses its entries on restart; this puts unfinished tasks back.
// Already queued IDs are left alone by Enqueue.
func Recover(ctx context.Context, s store.TaskStore, q queue.Queue, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	requeued := 0
	for _, status := range []domain.TaskStatus{domain.TaskStatusPending, domain.TaskStatusProcessing} {
		status := status
		tasks, err := s.List(ctx, store.ListFilter{
			Status: &status,
			Order:  store.Ordering{Field: store.OrderByCreatedAt},
		})
		if err != nil {
			return requeued, fmt.Errorf("failed to list %s tasks: %w", status, err)
		}

		for _, t := range tasks {
			if err := q.Enqueue(ctx, t.ID, 0); err != nil {
				logger.Error("failed to requeue unfinished task",
					"task_id", t.ID,
					"status", t.Status,
					"error", err)
				continue
			}
			requeued++
		}
	}

	logger.Info("recovered unfinished tasks", "requeued", requeued)
	return requeued, nil
}
