package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCategoryFiltering(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetBase(zap.New(core), map[string]bool{"routing": false})
	t.Cleanup(func() { SetBase(nil, nil) })

	Routing("should be dropped")
	Session("kept %d", 1)
	APIDebug("debug kept")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "kept 1", entries[0].Message)
	assert.Equal(t, "session", entries[0].LoggerName)
	assert.Equal(t, "api", entries[1].LoggerName)
}

func TestUnknownCategoryDefaultsEnabled(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetBase(zap.New(core), map[string]bool{"api": true})
	t.Cleanup(func() { SetBase(nil, nil) })

	assert.True(t, IsCategoryEnabled(CategoryAutopilot))
	Autopilot("workers=%d", 3)
	assert.Equal(t, 1, logs.Len())
}

func TestWithAddsFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetBase(zap.New(core), nil)
	t.Cleanup(func() { SetBase(nil, nil) })

	Get(CategoryStore).With("session", "abc").Info("saved")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "abc", logs.All()[0].ContextMap()["session"])
}

func TestParseLevel(t *testing.T) {
	_, err := parseLevel("verbose")
	assert.Error(t, err)

	lvl, err := parseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, "warn", lvl.String())
}

func TestTimerStopWithThreshold(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetBase(zap.New(core), nil)
	t.Cleanup(func() { SetBase(nil, nil) })

	timer := StartTimer(CategoryAPI, "stream")
	elapsed := timer.StopWithThreshold(-1)
	assert.GreaterOrEqual(t, int64(elapsed), int64(0))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zap.WarnLevel, logs.All()[0].Level)
}
