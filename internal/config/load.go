package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// TASKTRACK_SERVER_PORT for server.port.
const EnvPrefix = "TASKTRACK"

// ErrMissingDatabaseURL is returned when a PostgreSQL backend is selected
// without database.url.
var ErrMissingDatabaseURL = errors.New("database.url is required when storage.driver or queue.backend is postgres")

// ErrQueueWithoutStore is returned when the postgres queue is paired with a
// store whose task IDs do not exist in the tasks table.
var ErrQueueWithoutStore = errors.New("queue.backend postgres requires storage.driver postgres")

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)

	v.SetDefault("storage.driver", BackendPostgres)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("queue.backend", BackendPostgres)
	v.SetDefault("queue.visibility_timeout", 5*time.Minute)
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.capacity", 0)

	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.address", "")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 300*time.Second)

	v.SetDefault("task.worker_count", 2)
	v.SetDefault("task.max_attempts", 3)
	v.SetDefault("task.retry_delay", 60*time.Second)
	v.SetDefault("task.min_duration", 10*time.Second)
	v.SetDefault("task.max_duration", 20*time.Second)

	v.SetDefault("retention.window", 30*24*time.Hour)
	v.SetDefault("retention.interval", 24*time.Hour)

	v.SetDefault("summary.interval", time.Hour)
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path looks for an
// optional config.yaml in the working directory.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct tags and the rules that span sections.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if c.NeedsDatabase() && c.Database.URL == "" {
		return fmt.Errorf("config validation failed: %w", ErrMissingDatabaseURL)
	}

	if c.Queue.Backend == BackendPostgres && c.Storage.Driver != BackendPostgres {
		return fmt.Errorf("config validation failed: %w", ErrQueueWithoutStore)
	}

	return nil
}
