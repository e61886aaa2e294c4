package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCreatesWritableJSONLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "hark")

	runtime, err := New(dir, "info")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "log.jsonl"), runtime.Path)

	runtime.Logger.Info("unit-test-log", "component", "logging")
	runtime.Logger.Debug("hidden-debug")
	require.NoError(t, runtime.Close())

	contents, err := os.ReadFile(runtime.Path)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"msg":"unit-test-log"`)
	require.Contains(t, string(contents), `"component":"logging"`)
	require.Contains(t, string(contents), `"pid":`)
	require.NotContains(t, string(contents), "hidden-debug")

	stat, err := os.Stat(runtime.Path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), stat.Mode().Perm())
}

func TestNewDebugLevelKeepsDebugRecords(t *testing.T) {
	runtime, err := New(t.TempDir(), "debug")
	require.NoError(t, err)
	runtime.Logger.Debug("audio level", "amplitude", 0.02)
	require.NoError(t, runtime.Close())

	contents, err := os.ReadFile(runtime.Path)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"msg":"audio level"`)
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(t.TempDir(), "verbose")
	require.ErrorContains(t, err, "unknown log level")

	_, err = New(" ", "info")
	require.ErrorContains(t, err, "log directory is empty")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want slog.Level
	}{
		{raw: "", want: slog.LevelInfo},
		{raw: "DEBUG", want: slog.LevelDebug},
		{raw: "info", want: slog.LevelInfo},
		{raw: "warning", want: slog.LevelWarn},
		{raw: " error ", want: slog.LevelError},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseLevel(tc.raw)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDiscardRuntime(t *testing.T) {
	runtime := Discard()
	runtime.Logger.Info("dropped")
	require.NoError(t, runtime.Close())
}
