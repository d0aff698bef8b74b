package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/platform/logger"
	"github.com/phrazzld/tasktrack/internal/store"
)

const taskColumns = `id, owner_id, title, description, status, result, execution_handle, attempts, created_at, updated_at`

// orderColumns whitelists the sortable columns; user input never reaches SQL.
var orderColumns = map[store.OrderField]string{
	store.OrderByCreatedAt: "created_at",
	store.OrderByUpdatedAt: "updated_at",
	store.OrderByStatus:    "status",
}

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t      domain.Task
		result sql.NullString
		handle sql.NullString
	)

	err := row.Scan(
		&t.ID,
		&t.Owner,
		&t.Title,
		&t.Description,
		&t.Status,
		&result,
		&handle,
		&t.Attempts,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if result.Valid {
		t.Result = &result.String
	}
	if handle.Valid {
		t.ExecutionHandle = &handle.String
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()

	return &t, nil
}

// Create implements store.TaskStore.Create.
func (s *PostgresTaskStore) Create(ctx context.Context, owner uuid.UUID, title, description string) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	task, err := domain.NewTask(owner, title, description)
	if err != nil {
		log.Warn("task validation failed during create", slog.String("error", err.Error()))
		return nil, err
	}

	query := `
		INSERT INTO tasks (owner_id, title, description, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5)
		RETURNING ` + taskColumns

	created, err := scanTask(s.db.QueryRowContext(ctx, query,
		task.Owner,
		task.Title,
		task.Description,
		task.Status,
		task.CreatedAt,
	))
	if err != nil {
		log.Error("failed to insert task",
			slog.String("error", err.Error()),
			slog.String("owner", owner.String()))
		return nil, MapError(err)
	}

	log.Debug("task created", slog.Int64("task_id", created.ID))
	return created, nil
}

// Get implements store.TaskStore.Get.
func (s *PostgresTaskStore) Get(ctx context.Context, id int64) (*domain.Task, error) {
	return s.get(ctx, s.db, id, false)
}

func (s *PostgresTaskStore) get(ctx context.Context, db store.DBTX, id int64, forUpdate bool) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	task, err := scanTask(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get task",
			slog.Int64("task_id", id),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	return task, nil
}

// Update implements store.TaskStore.Update.
// The row is locked with SELECT ... FOR UPDATE so the precondition check and
// the write are atomic with respect to other writers.
func (s *PostgresTaskStore) Update(ctx context.Context, id int64, update store.TaskUpdate) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var updated *domain.Task
	err := s.inTx(ctx, func(ctx context.Context, tx store.DBTX) error {
		current, err := s.get(ctx, tx, id, true)
		if err != nil {
			return err
		}

		next, err := update.Apply(current, time.Now().UTC())
		if err != nil {
			return err
		}

		query := `
			UPDATE tasks
			SET status = $1, result = $2, execution_handle = $3, attempts = $4, updated_at = $5
			WHERE id = $6
		`
		res, err := tx.ExecContext(ctx, query,
			next.Status,
			next.Result,
			next.ExecutionHandle,
			next.Attempts,
			next.UpdatedAt,
			id,
		)
		if err != nil {
			return MapError(err)
		}
		if err := CheckRowsAffected(res, store.ErrTaskNotFound); err != nil {
			return err
		}

		updated = next
		return nil
	})
	if err != nil {
		if store.IsConflictError(err) || store.IsNotFoundError(err) {
			log.Debug("task update rejected",
				slog.Int64("task_id", id),
				slog.String("error", err.Error()))
		} else {
			log.Error("failed to update task",
				slog.Int64("task_id", id),
				slog.String("error", err.Error()))
		}
		return nil, err
	}

	return updated, nil
}

// inTx runs fn inside a transaction when the store holds a *sql.DB. When it
// already holds a transaction, fn joins it.
func (s *PostgresTaskStore) inTx(ctx context.Context, fn func(ctx context.Context, tx store.DBTX) error) error {
	db, ok := s.db.(*sql.DB)
	if !ok {
		return fn(ctx, s.db)
	}
	return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, tx)
	})
}

// Delete implements store.TaskStore.Delete.
func (s *PostgresTaskStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to delete task",
			slog.Int64("task_id", id),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return CheckRowsAffected(res, store.ErrTaskNotFound)
}

// buildWhere renders the filter predicates as a WHERE clause and its args.
func buildWhere(filter store.ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Owner != nil {
		add("owner_id = $%d", *filter.Owner)
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	if filter.CreatedAfter != nil {
		add("created_at >= $%d", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		add("created_at <= $%d", *filter.CreatedBefore)
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", n, n))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// buildOrder renders a whitelisted ORDER BY clause with id as tie-breaker.
func buildOrder(order store.Ordering) string {
	col, ok := orderColumns[order.Field]
	if !ok {
		order = store.DefaultOrdering
		col = orderColumns[order.Field]
	}
	dir := "ASC"
	if order.Descending {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", col, dir, dir)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// List implements store.TaskStore.List.
func (s *PostgresTaskStore) List(ctx context.Context, filter store.ListFilter) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	where, args := buildWhere(filter)
	query := `SELECT ` + taskColumns + ` FROM tasks` + where + buildOrder(filter.Order)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to list tasks", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	tasks := []*domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan task row", slog.String("error", err.Error()))
			return nil, MapError(err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		log.Error("error iterating task rows", slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return tasks, nil
}

// Count implements store.TaskStore.Count.
func (s *PostgresTaskStore) Count(ctx context.Context, filter store.ListFilter) (int, error) {
	where, args := buildWhere(filter)

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+where, args...).Scan(&n); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to count tasks",
			slog.String("error", err.Error()))
		return 0, MapError(err)
	}
	return n, nil
}

// CountByStatus implements store.TaskStore.CountByStatus.
func (s *PostgresTaskStore) CountByStatus(ctx context.Context, owner *uuid.UUID) (map[domain.TaskStatus]int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT status, COUNT(*) FROM tasks`
	var args []any
	if owner != nil {
		query += ` WHERE owner_id = $1`
		args = append(args, *owner)
	}
	query += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to count tasks by status", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var (
			status domain.TaskStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, MapError(err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return counts, nil
}

// DeleteTerminalBefore implements store.TaskStore.DeleteTerminalBefore.
func (s *PostgresTaskStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		DELETE FROM tasks
		WHERE status IN ($1, $2) AND created_at < $3
		RETURNING id
	`
	rows, err := s.db.QueryContext(ctx, query, domain.TaskStatusCompleted, domain.TaskStatusFailed, cutoff)
	if err != nil {
		log.Error("failed to delete terminal tasks",
			slog.Time("cutoff", cutoff),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, MapError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return ids, nil
}
