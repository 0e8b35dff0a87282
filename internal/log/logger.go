// Package log provides structured logging for hermes services.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the log output format.
type Format string

// Format values.
const (
	FormatPretty Format = "pretty"
	FormatJSON   Format = "json"
)

// New creates a slog.Logger writing to stdout with the given format and level.
func New(format Format, level string) *slog.Logger {
	return NewWithWriter(os.Stdout, format, level)
}

// NewWithWriter creates a slog.Logger writing to w.
func NewWithWriter(w io.Writer, format Format, level string) *slog.Logger {
	lvl := ParseLevel(level)

	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	default:
		handler = newTerminalHandler(w, &slog.HandlerOptions{Level: lvl})
	}

	return slog.New(handler)
}

// ParseLevel converts a level string to a slog.Level. Unknown values
// default to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Configure builds a logger and installs it as the slog default.
func Configure(format Format, level string) *slog.Logger {
	logger := New(format, level)
	slog.SetDefault(logger)
	return logger
}
