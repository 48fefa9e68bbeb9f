package util

import (
	"io"
	"log/slog"
	"os"
)

// LoggerConfig selects level, format and destination for structured
// logging. Level and Format are the plain config strings; unknown
// values fall back to info-level text.
type LoggerConfig struct {
	Level  string
	Format string
	Output io.Writer
}

// DefaultLoggerConfig returns info-level text logging on stderr.
// Stdout is reserved for the MCP stdio transport when running as a
// server.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:  "info",
		Format: "text",
		Output: os.Stderr,
	}
}

// ParseLogLevel maps a level name to slog.Level. ok is false for
// unknown names; callers validating config should reject those.
func ParseLogLevel(name string) (slog.Level, bool) {
	switch name {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// ValidLogFormat reports whether name is a supported log format.
func ValidLogFormat(name string) bool {
	return name == "text" || name == "json"
}

// NewLogger creates a structured logger from the configuration.
func NewLogger(config LoggerConfig) *slog.Logger {
	level, _ := ParseLogLevel(config.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}
	return slog.New(handler)
}

// SetDefault installs logger as the process-wide slog default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
