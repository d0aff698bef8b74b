package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LoggerConfig contains the settings needed to build the application logger.
type LoggerConfig struct {
	// Level is one of debug, info, warn, error (case-insensitive).
	Level string
	// Output defaults to os.Stdout when nil.
	Output io.Writer
}

// ParseLevel maps a configured level name to a slog.Level.
// The second return value is false when the name is not recognised.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error", "fatal":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Setup initializes and configures the application's logging system.
// It creates a structured JSON logger with the configured level and sets it
// as the default logger for the application.
func Setup(cfg LoggerConfig) (*slog.Logger, error) {
	level, ok := ParseLevel(cfg.Level)
	if !ok {
		// Create a temporary logger to output the warning
		tmpLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmpLogger.Warn("invalid log level configured, using default level",
			"configured_level", cfg.Level,
			"default_level", "info")
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler)

	// Set this logger as the default for the application
	slog.SetDefault(logger)

	return logger, nil
}
