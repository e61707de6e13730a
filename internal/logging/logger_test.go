package logging

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func installObserver(t *testing.T, enabled map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	Install(zap.New(core), enabled)
	t.Cleanup(func() { Install(nil, nil) })
	return logs
}

func TestCategoriesAreNamed(t *testing.T) {
	logs := installObserver(t, nil)

	Extract("parsed %d files", 3)
	CompatDebug("aspect %s", "param_added")
	Verdict("verdict=%s", "pass")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "extract", entries[0].LoggerName)
	assert.Equal(t, "parsed 3 files", entries[0].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "compat", entries[1].LoggerName)
	assert.Equal(t, "verdict", entries[2].LoggerName)
}

func TestDisabledCategoryIsSilent(t *testing.T) {
	logs := installObserver(t, map[string]bool{"extract": false})

	Extract("should not appear")
	Boot("should appear")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "boot", entries[0].LoggerName)
}

func TestNoRootLoggerIsNoop(t *testing.T) {
	Install(nil, nil)
	assert.False(t, IsCategoryEnabled(CategoryExtract))
	// Must not panic.
	Get(CategoryExtract).Error("nothing %d", 1)
	Get(CategoryExtract).With("k", "v").Info("still nothing")
	Sync()
}

func TestWithRunID(t *testing.T) {
	logs := installObserver(t, nil)

	WithRunID(CategoryVerdict, "run-1").Info("done")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "run-1", entries[0].ContextMap()["run"])
}

func TestTimer(t *testing.T) {
	logs := installObserver(t, nil)

	timer := StartTimer(CategoryExtract, "extract head")
	time.Sleep(time.Millisecond)
	elapsed := timer.StopWithInfo()

	assert.Greater(t, elapsed, time.Duration(0))
	require.Equal(t, 1, logs.FilterMessageSnippet("extract head completed").Len())
}

func TestInitialize(t *testing.T) {
	t.Cleanup(func() { Install(nil, nil) })

	_, err := Initialize(Config{Level: "loud"}, false)
	require.Error(t, err)

	logFile := filepath.Join(t.TempDir(), "apigate.log")
	logger, err := Initialize(Config{Level: "warn", Format: "json", File: logFile}, false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	logger, err = Initialize(Config{Level: "warn"}, true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
