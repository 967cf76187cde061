// Package logging builds the structured loggers used by both binaries.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates a structured logger writing to stderr.
// app: application name (e.g., "nenoflixd")
// level: one of "debug", "info", "warn", "error" (default: "info")
// format: "json" for JSON lines, anything else for text
func New(app, level, format string) *slog.Logger {
	return NewWithWriter(os.Stderr, app, level, format)
}

// NewWithWriter is New with an explicit output writer (for tests).
func NewWithWriter(w io.Writer, app, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("app", app),
		slog.Int("pid", os.Getpid()),
	)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
