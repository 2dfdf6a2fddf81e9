// Package logging configures the zerolog logger used by the price cache.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// ParseLevel validates a level name as given in configuration.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// parseLevel converts LogLevel to zerolog.Level. Unknown levels map to info.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithKey returns a child logger carrying item_id and world_id.
func WithKey(logger zerolog.Logger, itemID, worldID uint32) zerolog.Logger {
	return logger.With().Uint32("item_id", itemID).Uint32("world_id", worldID).Logger()
}

// Log Level Guidelines:
//
// Debug: per-key and per-batch detail
//   - Queued price checks, batch flushes
//   - Cache saves and loads
//   - Event bus drops
//
// Info: normal operation
//   - Server startup/shutdown
//   - Cache loaded, cache cleared
//   - Rate limiting cleared after a successful call
//
// Warn: degraded but working
//   - 429 responses and retries
//   - Gateway timeouts, malformed bodies
//   - Items missing from a response
//
// Error: needs attention
//   - Batches dropped after MaxRetries
//   - Store failures
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package
//   - item_id, world_id: quote key
//   - world: world name used in the API path
//   - batch_size: ids in a batch
//   - attempt: retry attempt, starting at 1
//   - error_class: rate_limit, gateway_timeout, parse, server, client, network
//   - status_code: HTTP status code
//   - duration: elapsed time
