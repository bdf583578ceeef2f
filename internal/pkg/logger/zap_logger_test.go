package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolatedLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wa.log")
	l := NewIsolatedLogger(path)

	l.Info("Session", "ready", map[string]interface{}{"driver": "primary"})
	l.Warn("Pipeline", "dropped", nil)
	l.Debug("Pipeline", "debug is below the file level", nil)
	require.NoError(t, l.Sync())

	all, err := l.GetLogs("", 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "dropped", all[0].Message)
	assert.Equal(t, "Pipeline", all[0].Module)
	assert.Equal(t, "ready", all[1].Message)

	warns, err := l.GetLogs("WARN", 10, 0)
	require.NoError(t, err)
	assert.Len(t, warns, 1)

	found, err := l.GetLogById(all[1].Id)
	require.NoError(t, err)
	assert.Equal(t, "primary", found.Details["driver"])

	_, err = l.GetLogById("missing")
	assert.Error(t, err)
}

func TestGetLogsMissingFile(t *testing.T) {
	l := &ZapLogger{filePath: filepath.Join(t.TempDir(), "none.log")}
	logs, err := l.GetLogs("", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
