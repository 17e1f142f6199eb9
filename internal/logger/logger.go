// Package logger configures structured logging from the environment.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup returns a new logger writing to stderr, configured by the
// LOG_LEVEL and LOG_FORMAT environment variables, and makes it the default.
func Setup() *slog.Logger {
	logger := New(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	slog.SetDefault(logger)
	return logger
}

// New returns a new logger writing to w. level is one of debug, info, warn,
// or error and defaults to info. format is json or text and defaults to text.
func New(w io.Writer, level, format string) *slog.Logger {
	options := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, options)
	} else {
		handler = slog.NewTextHandler(w, options)
	}
	return slog.New(handler)
}

// ParseLevel returns the level named s, or info if s is not a level name.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
