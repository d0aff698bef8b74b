package config

import "time"

// Backend names accepted by the storage, queue and cache settings.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendNone     = "none"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth" validate:"required"`
	Queue     QueueConfig     `mapstructure:"queue" validate:"required"`
	Cache     CacheConfig     `mapstructure:"cache" validate:"required"`
	Task      TaskConfig      `mapstructure:"task" validate:"required"`
	Retention RetentionConfig `mapstructure:"retention" validate:"required"`
	Summary   SummaryConfig   `mapstructure:"summary" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
// URL is only required when storage or queue use PostgreSQL.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// StorageConfig selects the task store implementation.
type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres memory"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// QueueConfig selects and tunes the task queue.
type QueueConfig struct {
	Backend           string        `mapstructure:"backend" validate:"required,oneof=postgres memory"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"gt=0"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	Capacity          int           `mapstructure:"capacity" validate:"gte=0"`
}

// CacheConfig selects the task snapshot cache.
type CacheConfig struct {
	Backend  string        `mapstructure:"backend" validate:"required,oneof=memory redis none"`
	Address  string        `mapstructure:"address" validate:"required_if=Backend redis"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

// TaskConfig tunes the worker pool and the retry policy.
type TaskConfig struct {
	WorkerCount int           `mapstructure:"worker_count" validate:"gt=0"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gt=0"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	MinDuration time.Duration `mapstructure:"min_duration" validate:"gte=0"`
	MaxDuration time.Duration `mapstructure:"max_duration" validate:"gtefield=MinDuration"`
}

// RetentionConfig controls the sweeper.
type RetentionConfig struct {
	Window   time.Duration `mapstructure:"window" validate:"gt=0"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

// SummaryConfig controls the periodic status summary. A zero interval
// disables it.
type SummaryConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// NeedsDatabase reports whether any component is backed by PostgreSQL.
func (c *Config) NeedsDatabase() bool {
	return c.Storage.Driver == BackendPostgres || c.Queue.Backend == BackendPostgres
}
