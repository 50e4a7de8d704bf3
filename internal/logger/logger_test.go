package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestBuildJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := build(Config{Level: "info", Format: "json"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	log.WithComponent("cache").Info("Cache hit", zap.String("key", "abc"))
	log.Debug("hidden")
	require.NoError(t, log.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Cache hit", entry["msg"])
	assert.Equal(t, "cache", entry["component"])
	assert.Contains(t, entry, "timestamp")
}

func TestSetLevelPropagatesToChildren(t *testing.T) {
	var buf bytes.Buffer
	log, err := build(Config{Level: "warn", Format: "console"}, zapcore.AddSync(&buf))
	require.NoError(t, err)
	child := log.WithRequestID("req-1")

	child.Info("before")
	assert.Empty(t, buf.String())

	require.NoError(t, log.SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, child.Level())
	child.Debug("after")
	assert.Contains(t, buf.String(), "after")
	assert.Contains(t, buf.String(), "req-1")

	assert.Error(t, log.SetLevel("loud"))
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "verbose"})
	assert.Error(t, err)
}

func TestFileCore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "scrubcache.log")
	var buf bytes.Buffer
	log, err := build(Config{Level: "info", File: &FileConfig{Enabled: true, Path: path}}, zapcore.AddSync(&buf))
	require.NoError(t, err)
	log.Info("to both")
	require.NoError(t, log.Sync())
	assert.FileExists(t, path)
}

func TestSafeHeaders(t *testing.T) {
	safe := SafeHeaders(map[string][]string{
		"Authorization": {"Basic abc"},
		"X-Api-Key":     {"k"},
		"User-Agent":    {"curl/8"},
		"Empty":         {},
	})
	assert.Equal(t, map[string]string{
		"Authorization": "[REDACTED]",
		"X-Api-Key":     "[REDACTED]",
		"User-Agent":    "curl/8",
	}, safe)
}
