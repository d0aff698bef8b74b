package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasktrack/internal/platform/logger"
	"github.com/phrazzld/tasktrack/internal/queue"
	"github.com/phrazzld/tasktrack/internal/store"
)

// DefaultPollInterval is how often an idle consumer re-checks the queue table.
const DefaultPollInterval = time.Second

// QueueConfig holds configuration options for the PostgreSQL queue
type QueueConfig struct {
	// VisibilityTimeout is the lease duration. Defaults to queue.DefaultVisibilityTimeout.
	VisibilityTimeout time.Duration

	// PollInterval is the idle wait between claim attempts. Defaults to DefaultPollInterval.
	PollInterval time.Duration
}

// PostgresQueue is a durable queue.Queue backed by the task_queue table.
// Entries are claimed with FOR UPDATE SKIP LOCKED so concurrent consumers,
// in this process or others, never lease the same row.
type PostgresQueue struct {
	db     store.DBTX
	config QueueConfig
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

var _ queue.Queue = (*PostgresQueue)(nil)

// NewPostgresQueue creates a queue over db. The caller owns db.
func NewPostgresQueue(db store.DBTX, config QueueConfig, logger *slog.Logger) *PostgresQueue {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = queue.DefaultVisibilityTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	return &PostgresQueue{
		db:     db,
		config: config,
		logger: logger.With(slog.String("component", "task_queue")),
		done:   make(chan struct{}),
	}
}

func (q *PostgresQueue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Enqueue implements queue.Queue.
func (q *PostgresQueue) Enqueue(ctx context.Context, taskID int64, delay time.Duration) error {
	if q.isClosed() {
		return queue.ErrQueueClosed
	}

	query := `
		INSERT INTO task_queue (task_id, visible_at, deliveries, enqueued_at)
		VALUES ($1, $2, 0, NOW())
		ON CONFLICT (task_id) DO NOTHING
	`
	visibleAt := time.Now().UTC().Add(delay)
	if _, err := q.db.ExecContext(ctx, query, taskID, visibleAt); err != nil {
		logger.FromContextOrDefault(ctx, q.logger).Error("failed to enqueue task",
			slog.Int64("task_id", taskID),
			slog.String("error", err.Error()))
		return fmt.Errorf("enqueue task %d: %w", taskID, MapError(err))
	}

	logger.FromContextOrDefault(ctx, q.logger).Debug("task enqueued",
		slog.Int64("task_id", taskID),
		slog.Duration("delay", delay))
	return nil
}

// claim leases the oldest visible entry. It returns sql.ErrNoRows when
// nothing is available.
func (q *PostgresQueue) claim(ctx context.Context) (*queue.Delivery, error) {
	query := `
		WITH candidate AS (
			SELECT task_id
			FROM task_queue
			WHERE visible_at <= $1
			  AND (lease_token IS NULL OR leased_until <= $1)
			ORDER BY visible_at, task_id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE task_queue AS q
		SET lease_token = $2, leased_until = $3, deliveries = q.deliveries + 1
		FROM candidate AS c
		WHERE q.task_id = c.task_id
		RETURNING q.task_id, q.deliveries, q.leased_until
	`

	now := time.Now().UTC()
	d := &queue.Delivery{Token: uuid.NewString()}
	err := q.db.QueryRowContext(ctx, query, now, d.Token, now.Add(q.config.VisibilityTimeout)).
		Scan(&d.TaskID, &d.Attempt, &d.LeasedUntil)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Dequeue implements queue.Queue. It polls at the configured interval while
// the table has no visible entry.
func (q *PostgresQueue) Dequeue(ctx context.Context) (*queue.Delivery, error) {
	for {
		if q.isClosed() {
			return nil, queue.ErrQueueClosed
		}

		d, err := q.claim(ctx)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.FromContextOrDefault(ctx, q.logger).Error("failed to claim queue entry",
				slog.String("error", err.Error()))
		}

		timer := time.NewTimer(q.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.done:
			timer.Stop()
			return nil, queue.ErrQueueClosed
		case <-timer.C:
		}
	}
}

// Ack implements queue.Queue.
func (q *PostgresQueue) Ack(ctx context.Context, d *queue.Delivery) error {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM task_queue WHERE task_id = $1 AND lease_token = $2`,
		d.TaskID, d.Token)
	if err != nil {
		return fmt.Errorf("ack task %d: %w", d.TaskID, MapError(err))
	}
	return CheckRowsAffected(res, fmt.Errorf("%w: task %d", queue.ErrLeaseLost, d.TaskID))
}

// Nack implements queue.Queue.
func (q *PostgresQueue) Nack(ctx context.Context, d *queue.Delivery, delay time.Duration) error {
	query := `
		UPDATE task_queue
		SET lease_token = NULL, leased_until = NULL, visible_at = $3
		WHERE task_id = $1 AND lease_token = $2
	`
	res, err := q.db.ExecContext(ctx, query, d.TaskID, d.Token, time.Now().UTC().Add(delay))
	if err != nil {
		return fmt.Errorf("nack task %d: %w", d.TaskID, MapError(err))
	}
	return CheckRowsAffected(res, fmt.Errorf("%w: task %d", queue.ErrLeaseLost, d.TaskID))
}

// Close implements queue.Queue. It does not close the underlying database.
func (q *PostgresQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
		q.logger.Info("task queue closed")
	})
	return nil
}

// Len returns the number of rows in the queue table, leased or not.
func (q *PostgresQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_queue`).Scan(&n); err != nil {
		return 0, MapError(err)
	}
	return n, nil
}
