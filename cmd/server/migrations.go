package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/tasktrack/internal/platform/postgres"
	"github.com/pressly/goose/v3"
)

// slogGooseLogger adapts goose's logger interface to slog.
type slogGooseLogger struct {
	logger *slog.Logger
}

func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	// goose exits the process after Fatalf; log at error level first
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// runMigrations runs a goose command against the embedded migrations.
func runMigrations(ctx context.Context, db *sql.DB, command string, logger *slog.Logger) error {
	log := logger.With(slog.String("component", "migrations"), slog.String("command", command))

	goose.SetBaseFS(postgres.Migrations)
	goose.SetLogger(&slogGooseLogger{logger: log})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	var err error
	switch command {
	case "up":
		err = goose.UpContext(ctx, db, postgres.MigrationsDir)
	case "down":
		err = goose.DownContext(ctx, db, postgres.MigrationsDir)
	case "reset":
		err = goose.ResetContext(ctx, db, postgres.MigrationsDir)
	case "status":
		err = goose.StatusContext(ctx, db, postgres.MigrationsDir)
	case "version":
		err = goose.VersionContext(ctx, db, postgres.MigrationsDir)
	default:
		return fmt.Errorf("unknown migration command %q (want up, down, reset, status or version)", command)
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}

	log.Info("migration command completed")
	return nil
}
