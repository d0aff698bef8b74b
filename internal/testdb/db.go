package testdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/tasktrack/internal/platform/postgres"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
)

// TestTimeout defines a default timeout for test database operations.
const TestTimeout = 5 * time.Second

// migrateOnce guards schema setup so parallel tests migrate only once per process.
var (
	migrateOnce sync.Once
	migrateErr  error
)

// IsIntegrationTestEnvironment returns true if a test database URL is
// configured, indicating that integration tests can be run.
func IsIntegrationTestEnvironment() bool {
	return GetTestDatabaseURL() != ""
}

// GetTestDatabaseURL returns the database URL for tests.
// It checks DATABASE_URL and TASKTRACK_TEST_DB_URL in that order.
func GetTestDatabaseURL() string {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		return dbURL
	}
	return os.Getenv("TASKTRACK_TEST_DB_URL")
}

// ApplyMigrations runs the embedded goose migrations against db.
func ApplyMigrations(db *sql.DB, logger goose.Logger) error {
	if logger != nil {
		goose.SetLogger(logger)
	}
	goose.SetTableName("schema_migrations")
	goose.SetBaseFS(postgres.Migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, postgres.MigrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SetupTestDatabaseSchema migrates the test database once per test binary.
func SetupTestDatabaseSchema(t *testing.T, db *sql.DB) {
	t.Helper()

	migrateOnce.Do(func() {
		migrateErr = ApplyMigrations(db, &testGooseLogger{t: t})
	})
	require.NoError(t, migrateErr, "Failed to run migrations")
}

// GetTestDBWithT returns a migrated database connection for testing.
// It skips the test if no database URL is configured.
func GetTestDBWithT(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := GetTestDatabaseURL()
	if dbURL == "" {
		t.Skip("DATABASE_URL or TASKTRACK_TEST_DB_URL not set - skipping integration test")
	}

	db, err := sql.Open("pgx", dbURL)
	require.NoError(t, err, "Failed to open database connection")

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "Database ping failed")

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close database connection: %v", err)
		}
	})

	SetupTestDatabaseSchema(t, db)
	return db
}

// WithTx executes a test function within a transaction, automatically rolling back
// after the test completes. This ensures test isolation and prevents side effects.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	tx, err := db.Begin()
	require.NoError(t, err, "Failed to begin transaction")

	defer func() {
		err := tx.Rollback()
		// sql.ErrTxDone is expected if tx is already committed or rolled back
		if err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("Warning: failed to rollback transaction: %v", err)
		}
	}()

	fn(t, tx)
}

// testGooseLogger routes goose output to the test log.
type testGooseLogger struct {
	t *testing.T
}

// Printf implements goose.Logger.
func (l *testGooseLogger) Printf(format string, v ...interface{}) {
	l.t.Log("Goose: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf implements goose.Logger.
func (l *testGooseLogger) Fatalf(format string, v ...interface{}) {
	l.t.Fatal("Goose fatal error: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}
