package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/tasktrack/internal/platform/logger"
)

// TxFn is the body of a transaction. Returning an error rolls it back.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// RunInTransaction runs fn inside a transaction on db and commits when fn
// returns nil. An error from fn is returned unchanged after rollback. A panic
// in fn rolls back and is re-raised.
func RunInTransaction(ctx context.Context, db *sql.DB, fn TxFn) error {
	log := logger.FromContext(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", slog.String("error", err.Error()))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("failed to roll back transaction after panic",
				slog.String("error", rbErr.Error()),
				slog.Any("panic", p))
		} else {
			log.Error("rolled back transaction after panic", slog.Any("panic", p))
		}
		panic(p)
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("failed to roll back transaction",
				slog.String("rollback_error", rbErr.Error()),
				slog.String("original_error", err.Error()))
			return fmt.Errorf("error rolling back transaction: %v (original error: %w)", rbErr, err)
		}
		log.Debug("rolled back transaction", slog.String("error", err.Error()))
		return err
	}

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit transaction", slog.String("error", err.Error()))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
