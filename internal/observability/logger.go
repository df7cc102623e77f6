// Package observability builds the component loggers used across the service.
package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var level = new(slog.LevelVar)

// SetLevel changes the level of every logger built by this package.
func SetLevel(name string) error {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		level.Set(slog.LevelInfo)
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q", name)
	}
	return nil
}

// NewLogger returns a JSON logger on stdout tagged with component.
func NewLogger(component string) *slog.Logger {
	return NewLoggerTo(os.Stdout, component)
}

func NewLoggerTo(w io.Writer, component string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})).With("component", component)
}

// Discard is for tests and tools that have nowhere to log.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
