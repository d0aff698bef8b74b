package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/queue"
	"github.com/phrazzld/tasktrack/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskColumnNames = []string{
	"id", "owner_id", "title", "description", "status",
	"result", "execution_handle", "attempts", "created_at", "updated_at",
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func taskRow(rows *sqlmock.Rows, id int64, owner uuid.UUID, status domain.TaskStatus, result any, created time.Time) *sqlmock.Rows {
	return rows.AddRow(id, owner.String(), "Generate report", "", string(status), result, nil, 0, created, created)
}

func TestPostgresTaskStore_Create(t *testing.T) {
	owner := uuid.New()
	created := time.Date(2025, time.April, 1, 12, 0, 0, 0, time.UTC)

	t.Run("returns inserted row", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewPostgresTaskStore(db, nil)

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tasks")).
			WithArgs(owner, "Generate report", "", "PENDING", sqlmock.AnyArg()).
			WillReturnRows(taskRow(sqlmock.NewRows(taskColumnNames), 1, owner, domain.TaskStatusPending, nil, created))

		task, err := s.Create(context.Background(), owner, "Generate report", "")
		require.NoError(t, err)
		assert.Equal(t, int64(1), task.ID)
		assert.Equal(t, owner, task.Owner)
		assert.Equal(t, domain.TaskStatusPending, task.Status)
		assert.Nil(t, task.Result)
		assert.Equal(t, created, task.CreatedAt)
	})

	t.Run("invalid title never reaches the database", func(t *testing.T) {
		db, _ := newMockDB(t)
		s := NewPostgresTaskStore(db, nil)

		_, err := s.Create(context.Background(), owner, "   ", "")
		assert.ErrorIs(t, err, domain.ErrEmptyTitle)
	})

	t.Run("constraint violation maps to invalid entity", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewPostgresTaskStore(db, nil)

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tasks")).
			WillReturnError(&pgconn.PgError{Code: checkViolationCode, ConstraintName: "tasks_title_check"})

		_, err := s.Create(context.Background(), owner, "Generate report", "")
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
	})
}

func TestPostgresTaskStore_Get(t *testing.T) {
	owner := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)
	query := regexp.QuoteMeta("SELECT " + taskColumns + " FROM tasks WHERE id = $1")

	t.Run("found", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewPostgresTaskStore(db, nil)

		mock.ExpectQuery(query).WithArgs(7).
			WillReturnRows(taskRow(sqlmock.NewRows(taskColumnNames), 7, owner, domain.TaskStatusCompleted, "done", now))

		task, err := s.Get(context.Background(), 7)
		require.NoError(t, err)
		require.NotNil(t, task.Result)
		assert.Equal(t, "done", *task.Result)
		assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	})

	t.Run("missing row", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewPostgresTaskStore(db, nil)

		mock.ExpectQuery(query).WithArgs(8).WillReturnRows(sqlmock.NewRows(taskColumnNames))

		_, err := s.Get(context.Background(), 8)
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})
}

func TestPostgresTaskStore_Update(t *testing.T) {
	owner := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)
	lock := regexp.QuoteMeta("FROM tasks WHERE id = $1 FOR UPDATE")

	t.Run("claims a pending task", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewPostgresTaskStore(db, nil)

		processing := domain.TaskStatusProcessing
		handle := "handle-1"
		attempts := 1

		mock.ExpectBegin()
		mock.ExpectQuery(lock).WithArgs(7).
			WillReturnRows(taskRow(sqlmock.NewRows(taskColumnNames), 7, owner, domain.TaskStatusPending, nil, now))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks")).
			WithArgs("PROCESSING", nil, handle, attempts, sqlmock.AnyArg(), 7).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		task, err := s.Update(context.Background(), 7, store.TaskUpdate{
			Status:          &processing,
			ExecutionHandle: &handle,
			Attempts:        &attempts,
			ExpectStatus:    []domain.TaskStatus{domain.TaskStatusPending},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusProcessing, task.Status)
		require.NotNil(t, task.ExecutionHandle)
		assert.Equal(t, handle, *task.ExecutionHandle)
		assert.Equal(t, 1, task.Attempts)
	})

	t.Run("precondition failure rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewPostgresTaskStore(db, nil)

		failed := domain.TaskStatusFailed

		mock.ExpectBegin()
		mock.ExpectQuery(lock).WithArgs(7).
			WillReturnRows(taskRow(sqlmock.NewRows(taskColumnNames), 7, owner, domain.TaskStatusCompleted, "done", now))
		mock.ExpectRollback()

		_, err := s.Update(context.Background(), 7, store.TaskUpdate{
			Status:       &failed,
			ExpectStatus: []domain.TaskStatus{domain.TaskStatusProcessing},
		})
		assert.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("missing task rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewPostgresTaskStore(db, nil)

		mock.ExpectBegin()
		mock.ExpectQuery(lock).WithArgs(9).WillReturnRows(sqlmock.NewRows(taskColumnNames))
		mock.ExpectRollback()

		_, err := s.Update(context.Background(), 9, store.TaskUpdate{})
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})
}

func TestPostgresTaskStore_Delete(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "deleted", affected: 1},
		{name: "missing", affected: 0, wantErr: store.ErrTaskNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			s := NewPostgresTaskStore(db, nil)

			mock.ExpectExec(regexp.QuoteMeta("DELETE FROM tasks WHERE id = $1")).
				WithArgs(3).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := s.Delete(context.Background(), 3)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPostgresTaskStore_ListAndCounts(t *testing.T) {
	owner := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("list applies filter, order and paging", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewPostgresTaskStore(db, nil)

		rows := sqlmock.NewRows(taskColumnNames)
		taskRow(rows, 2, owner, domain.TaskStatusPending, nil, now)
		taskRow(rows, 1, owner, domain.TaskStatusPending, nil, now.Add(-time.Minute))

		mock.ExpectQuery(regexp.QuoteMeta("FROM tasks WHERE owner_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3")).
			WithArgs(owner, 10, 5).
			WillReturnRows(rows)

		tasks, err := s.List(context.Background(), store.ListFilter{
			Owner:  &owner,
			Order:  store.DefaultOrdering,
			Limit:  10,
			Offset: 5,
		})
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, int64(2), tasks[0].ID)
		assert.Equal(t, int64(1), tasks[1].ID)
	})

	t.Run("count", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewPostgresTaskStore(db, nil)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM tasks")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

		n, err := s.Count(context.Background(), store.ListFilter{})
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("count by status for one owner", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewPostgresTaskStore(db, nil)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM tasks WHERE owner_id = $1 GROUP BY status")).
			WithArgs(owner).
			WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
				AddRow("PENDING", 2).
				AddRow("COMPLETED", 5))

		counts, err := s.CountByStatus(context.Background(), &owner)
		require.NoError(t, err)
		assert.Equal(t, map[domain.TaskStatus]int{
			domain.TaskStatusPending:   2,
			domain.TaskStatusCompleted: 5,
		}, counts)
	})

	t.Run("delete terminal before cutoff", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewPostgresTaskStore(db, nil)
		cutoff := now.Add(-30 * 24 * time.Hour)

		mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM tasks")).
			WithArgs("COMPLETED", "FAILED", cutoff).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3).AddRow(5))

		ids, err := s.DeleteTerminalBefore(context.Background(), cutoff)
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 5}, ids)
	})
}

func TestPostgresQueue_Operations(t *testing.T) {
	t.Run("enqueue is idempotent per task", func(t *testing.T) {
		db, mock := newMockDB(t)
		q := NewPostgresQueue(db, QueueConfig{}, nil)

		mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (task_id) DO NOTHING")).
			WithArgs(7, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, q.Enqueue(context.Background(), 7, 0))
	})

	t.Run("enqueue after close", func(t *testing.T) {
		db, _ := newMockDB(t)
		q := NewPostgresQueue(db, QueueConfig{}, nil)
		require.NoError(t, q.Close())

		assert.ErrorIs(t, q.Enqueue(context.Background(), 7, 0), queue.ErrQueueClosed)
		_, err := q.Dequeue(context.Background())
		assert.ErrorIs(t, err, queue.ErrQueueClosed)
	})

	t.Run("dequeue leases the claimed row", func(t *testing.T) {
		db, mock := newMockDB(t)
		q := NewPostgresQueue(db, QueueConfig{VisibilityTimeout: time.Minute}, nil)
		leasedUntil := time.Now().UTC().Add(time.Minute).Truncate(time.Second)

		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"task_id", "deliveries", "leased_until"}).
				AddRow(7, 2, leasedUntil))

		d, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(7), d.TaskID)
		assert.Equal(t, 2, d.Attempt)
		assert.Equal(t, leasedUntil, d.LeasedUntil)
		assert.NotEmpty(t, d.Token)
	})

	t.Run("ack with a lost lease", func(t *testing.T) {
		db, mock := newMockDB(t)
		q := NewPostgresQueue(db, QueueConfig{}, nil)
		d := &queue.Delivery{TaskID: 7, Token: "stale"}

		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM task_queue WHERE task_id = $1 AND lease_token = $2")).
			WithArgs(7, "stale").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, q.Ack(context.Background(), d), queue.ErrLeaseLost)
	})

	t.Run("nack releases the lease", func(t *testing.T) {
		db, mock := newMockDB(t)
		q := NewPostgresQueue(db, QueueConfig{}, nil)
		d := &queue.Delivery{TaskID: 7, Token: "lease-1"}

		mock.ExpectExec(regexp.QuoteMeta("SET lease_token = NULL")).
			WithArgs(7, "lease-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, q.Nack(context.Background(), d, time.Second))
	})

	t.Run("len", func(t *testing.T) {
		db, mock := newMockDB(t)
		q := NewPostgresQueue(db, QueueConfig{}, nil)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM task_queue")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

		n, err := q.Len(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}
