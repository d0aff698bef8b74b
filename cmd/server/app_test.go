package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/phrazzld/tasktrack/internal/api"
	"github.com/phrazzld/tasktrack/internal/cache"
	"github.com/phrazzld/tasktrack/internal/config"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/platform/logger"
	"github.com/phrazzld/tasktrack/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryConfig returns a configuration that needs no external services and
// finishes simulated work immediately.
func memoryConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 8080, LogLevel: "debug", ShutdownTimeout: 5 * time.Second},
		Storage: config.StorageConfig{Driver: config.BackendMemory},
		Auth:    config.AuthConfig{JWTSecret: auth.TestJWTSecret},
		Queue: config.QueueConfig{
			Backend:           config.BackendMemory,
			VisibilityTimeout: time.Minute,
			PollInterval:      10 * time.Millisecond,
		},
		Cache: config.CacheConfig{Backend: config.BackendMemory, TTL: time.Minute},
		Task: config.TaskConfig{
			WorkerCount: 2,
			MaxAttempts: 3,
			RetryDelay:  10 * time.Millisecond,
		},
		Retention: config.RetentionConfig{Window: 720 * time.Hour, Interval: 24 * time.Hour},
		Summary:   config.SummaryConfig{Interval: time.Hour},
	}
}

func startTestApp(t *testing.T, cfg *config.Config) (*application, *httptest.Server) {
	t.Helper()

	l, _ := logger.GetTestLogger(t)
	ctx, cancel := context.WithCancel(context.Background())

	app, err := newApplication(ctx, cfg, l)
	require.NoError(t, err)
	require.NoError(t, app.start(ctx))

	server := httptest.NewServer(app.setupRouter())
	t.Cleanup(func() {
		server.Close()
		cancel()
		stopCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		assert.NoError(t, app.shutdown(stopCtx))
	})

	return app, server
}

func call(t *testing.T, server *httptest.Server, p domain.Principal, method, path, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, server.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", auth.AuthHeaderForTesting(t, p))
	req.Header.Set("Content-Type", "application/json")

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestApplication_TaskLifecycle(t *testing.T) {
	_, server := startTestApp(t, memoryConfig())
	user := domain.Principal{UserID: uuid.New()}

	resp := call(t, server, user, http.MethodPost, "/api/tasks", `{"title":"Generate report"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created api.CreateTaskResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	path := fmt.Sprintf("/api/tasks/%d", created.Task.ID)

	var final api.GetTaskResponse
	require.Eventually(t, func() bool {
		resp := call(t, server, user, http.MethodGet, path, "")
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var got api.GetTaskResponse
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			return false
		}
		final = got
		return got.Task.Status == domain.TaskStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	require.NotNil(t, final.Task.Result)
	assert.Contains(t, *final.Task.Result, "Task completed successfully in")
	assert.Equal(t, 1, final.Task.Attempts)

	resp = call(t, server, user, http.MethodGet, "/api/tasks/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats api.StatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Total)
}

func TestApplication_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := memoryConfig()
	cfg.Cache = config.CacheConfig{Backend: config.BackendRedis, Address: mr.Addr(), TTL: time.Minute}
	// keep the task running so the cached snapshot is not invalidated
	cfg.Task.MinDuration = time.Hour
	cfg.Task.MaxDuration = time.Hour

	app, server := startTestApp(t, cfg)
	_, isRedis := app.taskCache.(*cache.RedisCache)
	require.True(t, isRedis)

	user := domain.Principal{UserID: uuid.New()}
	resp := call(t, server, user, http.MethodPost, "/api/tasks", `{"title":"cached"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created api.CreateTaskResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	path := fmt.Sprintf("/api/tasks/%d", created.Task.ID)

	// the first read may race the dispatch write; wait for a cache hit
	require.Eventually(t, func() bool {
		resp := call(t, server, user, http.MethodGet, path, "")
		var got api.GetTaskResponse
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			return false
		}
		return got.Cached
	}, 5*time.Second, 20*time.Millisecond)

	assert.True(t, mr.Exists(domain.CacheKey(created.Task.ID)))
}

func TestApplication_NoCache(t *testing.T) {
	cfg := memoryConfig()
	cfg.Cache.Backend = config.BackendNone

	app, _ := startTestApp(t, cfg)
	assert.Equal(t, cache.Noop{}, app.taskCache)
}

func TestApplication_Health(t *testing.T) {
	_, server := startTestApp(t, memoryConfig())

	resp, err := server.Client().Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApplication_Unauthenticated(t *testing.T) {
	_, server := startTestApp(t, memoryConfig())

	resp, err := server.Client().Get(server.URL + "/api/tasks")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRunMigrations_UnknownCommand(t *testing.T) {
	l, _ := logger.GetTestLogger(t)

	err := runMigrations(context.Background(), nil, "sideways", l)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown migration command")
}
