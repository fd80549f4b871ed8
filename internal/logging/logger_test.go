package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}

	for input, want := range tests {
		assert.Equal(t, want, ParseLevel(input), "level %q", input)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(&buf, Config{Level: "warn", Format: "json"})
	logger.Info("hidden")
	logger.Warn("shown", "data", "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))

	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "hello", rec["data"])
	assert.Equal(t, "WARN", rec["level"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(&buf, Config{Level: "debug"})
	logger.Debug("state changed", "to", "open")

	assert.Contains(t, buf.String(), `msg="state changed"`)
	assert.Contains(t, buf.String(), "to=open")
}
