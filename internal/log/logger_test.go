package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, FormatJSON, "INFO")

	logger.Info("index ready", "size", 42)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "index ready", record["msg"])
	assert.Equal(t, float64(42), record["size"])
}

func TestNewWithWriterPrettySuppressesDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, FormatPretty, "INFO")

	logger.Debug("hidden")
	logger.Info("visible", "source", "torrents")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "source=")
}

func TestTerminalHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, FormatPretty, "DEBUG")

	logger.WithGroup("sync").Info("batch", "rows", 3)

	assert.True(t, strings.Contains(buf.String(), "sync.rows="))
}
