// Package logging provides the console logger and the persisted debug
// log. Console output is structured slog; the debug log is one JSON
// object per line in a rotating file, consumed by audit tooling.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config configures console logging behavior.
type Config struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	// Defaults to "info".
	Level string
	// Format is "json" or "text". Defaults to "text".
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
	// AddSource includes file and line in records.
	AddSource bool
}

// New creates a console slog logger from the config.
func New(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to its slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
