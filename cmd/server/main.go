// Package main implements the entry point for the tasktrack server, which
// accepts user tasks over HTTP and executes them on a background worker pool.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/tasktrack/internal/config"
	"github.com/phrazzld/tasktrack/internal/platform/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: ./config.yaml if present)")
	migrateCmd := flag.String("migrate", "", "run a migration command (up, down, reset, status, version) and exit")
	flag.Parse()

	if err := run(*configPath, *migrateCmd); err != nil {
		log.Fatalf("tasktrack: %v", err)
	}
}

// run loads configuration and either applies migrations or serves until
// SIGINT or SIGTERM.
func run(configPath, migrateCmd string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(logger.LoggerConfig{Level: cfg.Server.LogLevel})
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	l.Info("Server configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("queue", cfg.Queue.Backend),
		slog.String("cache", cfg.Cache.Backend))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if migrateCmd != "" {
		db, err := setupAppDatabase(ctx, cfg, l)
		if err != nil {
			return err
		}
		defer db.Close()
		return runMigrations(ctx, db, migrateCmd, l)
	}

	app, err := newApplication(ctx, cfg, l)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(ctx)
}
