package log

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesCallerAndMessage(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo)

	l.Info("prepared upload for user %d", 42)

	out := buf.String()
	assert.Contains(t, out, "prepared upload for user 42")
	assert.Contains(t, out, "logger_test.go:")
	assert.Contains(t, out, "INF")
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("hidden")
	l.Info("hidden too")
	assert.Empty(t, buf.String())

	l.SetLevel(LevelDebug)
	l.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
	assert.Equal(t, LevelDebug, l.Level())
}

func TestLoggerWithAddsField(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo).With("user", 7)

	l.Warn("cleanup skipped")

	out := buf.String()
	assert.Contains(t, out, "user=7")
	assert.Contains(t, out, "cleanup skipped")
}

func TestFileLoggerCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "subrelay.log")

	fl, err := NewFileLogger(path, LevelInfo)
	require.NoError(t, err)
	fl.Error("disk full")
	require.NoError(t, fl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "disk full")
}

func TestGlobalLoggerRoundTrip(t *testing.T) {
	prev := GetLogger()
	t.Cleanup(func() { SetLogger(prev) })

	var buf bytes.Buffer
	SetLogger(New(&buf, LevelDebug))
	Debug("sweep %s", "started")

	assert.Contains(t, buf.String(), "sweep started")
	assert.Contains(t, buf.String(), "logger_test.go:")
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "INFO", LogLevel(99).String())
}
