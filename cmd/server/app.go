package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/tasktrack/internal/cache"
	"github.com/phrazzld/tasktrack/internal/config"
	"github.com/phrazzld/tasktrack/internal/platform/memory"
	"github.com/phrazzld/tasktrack/internal/platform/postgres"
	"github.com/phrazzld/tasktrack/internal/queue"
	"github.com/phrazzld/tasktrack/internal/redact"
	"github.com/phrazzld/tasktrack/internal/service"
	"github.com/phrazzld/tasktrack/internal/service/auth"
	"github.com/phrazzld/tasktrack/internal/store"
	"github.com/phrazzld/tasktrack/internal/task"
	"github.com/redis/go-redis/v9"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	// Infrastructure, nil when the configured backends do not need it
	db    *sql.DB
	redis *redis.Client

	taskStore store.TaskStore
	taskCache cache.Cache
	taskQueue queue.Queue

	jwtService  auth.JWTService
	taskService service.TaskService

	// Background processing
	workerPool *task.WorkerPool
	scheduler  *task.Scheduler
}

// newApplication creates a new application instance with all dependencies
// initialized from cfg. Nothing is started yet.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	var err error
	if cfg.NeedsDatabase() {
		app.db, err = setupAppDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	switch cfg.Storage.Driver {
	case config.BackendPostgres:
		app.taskStore = postgres.NewPostgresTaskStore(app.db, logger)
	default:
		app.taskStore = memory.NewTaskStore()
	}

	memCache, err := app.setupCache(ctx)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	switch cfg.Queue.Backend {
	case config.BackendPostgres:
		app.taskQueue = postgres.NewPostgresQueue(app.db, postgres.QueueConfig{
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			PollInterval:      cfg.Queue.PollInterval,
		}, logger)
	default:
		app.taskQueue = queue.NewMemoryQueue(queue.MemoryQueueConfig{
			Capacity:          cfg.Queue.Capacity,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		}, logger)
	}

	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	app.taskService, err = service.NewTaskService(
		app.taskStore,
		app.taskCache,
		app.taskQueue,
		service.TaskServiceConfig{CacheTTL: cfg.Cache.TTL},
		logger,
	)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	executor := task.NewExecutor(
		app.taskStore,
		app.taskCache,
		task.NewSimulatedWork(cfg.Task.MinDuration, cfg.Task.MaxDuration),
		task.ExecutorConfig{
			MaxAttempts: cfg.Task.MaxAttempts,
			RetryDelay:  cfg.Task.RetryDelay,
		},
		logger,
	)
	app.workerPool = task.NewWorkerPool(app.taskQueue, executor, task.WorkerPoolConfig{
		WorkerCount:     cfg.Task.WorkerCount,
		PanicRetryDelay: cfg.Task.RetryDelay,
	}, logger)

	app.scheduler = app.setupScheduler(memCache)

	logger.Info("Application initialized successfully",
		slog.Int("workers", cfg.Task.WorkerCount),
		slog.Int("max_attempts", cfg.Task.MaxAttempts))
	return app, nil
}

// setupCache builds the configured cache. The returned MemoryCache is nil
// unless the memory backend is selected.
func (app *application) setupCache(ctx context.Context) (*cache.MemoryCache, error) {
	switch app.config.Cache.Backend {
	case config.BackendRedis:
		app.redis = redis.NewClient(&redis.Options{
			Addr:     app.config.Cache.Address,
			Password: app.config.Cache.Password,
			DB:       app.config.Cache.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := app.redis.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %s", redact.Error(err))
		}

		app.taskCache = cache.NewRedisCache(app.redis)
		app.logger.Info("Redis cache connected", slog.String("address", app.config.Cache.Address))
		return nil, nil

	case config.BackendNone:
		app.taskCache = cache.Noop{}
		return nil, nil

	default:
		memCache := cache.NewMemoryCache()
		app.taskCache = memCache
		return memCache, nil
	}
}

// setupScheduler registers the periodic jobs: retention sweep, status
// summary and, for the memory cache, expired entry purging.
func (app *application) setupScheduler(memCache *cache.MemoryCache) *task.Scheduler {
	scheduler := task.NewScheduler(app.logger)

	sweeper := task.NewSweeper(app.taskStore, app.taskCache, app.logger)
	window := app.config.Retention.Window
	scheduler.Add(task.Job{
		Name:     "retention_sweep",
		Interval: app.config.Retention.Interval,
		Run: func(ctx context.Context) error {
			_, err := sweeper.Sweep(ctx, window)
			return err
		},
		RunOnStart: true,
	})

	if app.config.Summary.Interval > 0 {
		aggregator := task.NewAggregator(app.taskStore, app.logger)
		scheduler.Add(task.Job{
			Name:     "status_summary",
			Interval: app.config.Summary.Interval,
			Run:      aggregator.LogSummary,
		})
	}

	if memCache != nil {
		scheduler.Add(task.Job{
			Name:     "cache_purge",
			Interval: app.config.Cache.TTL,
			Run: func(ctx context.Context) error {
				if n := memCache.Purge(); n > 0 {
					app.logger.Debug("purged expired cache entries", slog.Int("count", n))
				}
				return nil
			},
		})
	}

	return scheduler
}

// start launches background processing. With a process-local queue,
// unfinished tasks from the store are queued again first.
func (app *application) start(ctx context.Context) error {
	if _, ok := app.taskQueue.(*queue.MemoryQueue); ok {
		if _, err := task.Recover(ctx, app.taskStore, app.taskQueue, app.logger); err != nil {
			return fmt.Errorf("failed to recover unfinished tasks: %w", err)
		}
	}

	app.workerPool.Start()
	app.scheduler.Start(ctx)
	return nil
}

// Run starts background processing and the HTTP server, and shuts both
// down when ctx is done.
func (app *application) Run(ctx context.Context) error {
	if err := app.start(ctx); err != nil {
		app.cleanup()
		return err
	}

	router := app.setupRouter()
	serveErr := app.startHTTPServer(ctx, router)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()
	stopErr := app.shutdown(shutdownCtx)

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	return stopErr
}

// shutdown drains the worker pool, stops the scheduler and releases
// resources. In-flight executions still running at the deadline are
// interrupted and redelivered later.
func (app *application) shutdown(ctx context.Context) error {
	app.scheduler.Stop()

	// a drain timeout is already logged by the pool and is not a failure
	err := app.workerPool.Stop(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if err != nil {
		app.logger.Error("Error stopping worker pool", slog.String("error", err.Error()))
	}

	app.cleanup()
	return err
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.taskQueue != nil {
		if err := app.taskQueue.Close(); err != nil {
			app.logger.Error("Error closing task queue", slog.String("error", err.Error()))
		}
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("Error closing redis client", slog.String("error", err.Error()))
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", slog.String("error", redact.Error(err)))
		}
	}

	app.logger.Info("Application shutdown completed")
}
