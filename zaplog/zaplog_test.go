package zaplog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(t *testing.T) (*Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return New(zap.New(core)), logs
}

func TestLogger_Levels(t *testing.T) {
	logger, logs := newObservedLogger(t)

	logger.Debug("loading account", "accountId", "A1")
	logger.Info("event appended", "eventNumber", int64(3))
	logger.Warn("append retry", "attempt", 2)
	logger.Error("append failed", "accountId", "A1")

	entries := logs.All()
	require.Len(t, entries, 4)

	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "loading account", entries[0].Message)
	assert.Equal(t, "A1", entries[0].ContextMap()["accountId"])

	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, int64(3), entries[1].ContextMap()["eventNumber"])

	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestLogger_RespectsLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := New(zap.New(core))

	logger.Debug("not recorded")
	logger.Info("recorded")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "recorded", entries[0].Message)
}

func TestNewDevelopment(t *testing.T) {
	logger, err := NewDevelopment()

	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewProduction(t *testing.T) {
	logger, err := NewProduction()

	require.NoError(t, err)
	assert.NotNil(t, logger)
}
