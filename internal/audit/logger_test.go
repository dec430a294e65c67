package audit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecentNewestFirst(t *testing.T) {
	l, err := NewLogger("", 0)
	require.NoError(t, err)

	require.NoError(t, l.Record(ActionUp, "", 120*time.Millisecond, nil))
	require.NoError(t, l.Record(ActionExitNodeSet, "berlin-gw", 80*time.Millisecond, nil))
	require.NoError(t, l.Record(ActionDown, "", 50*time.Millisecond, errors.New("not running")))

	events := l.Recent(10)
	require.Len(t, events, 3)
	assert.Equal(t, ActionDown, events[0].Action)
	assert.False(t, events[0].Success)
	assert.Equal(t, "not running", events[0].Error)
	assert.Equal(t, ActionExitNodeSet, events[1].Action)
	assert.Equal(t, "berlin-gw", events[1].Target)
	assert.Equal(t, ActionUp, events[2].Action)
	assert.True(t, events[2].Success)
	assert.NotEmpty(t, events[0].ID)
}

func TestRecentLimit(t *testing.T) {
	l, err := NewLogger("", 0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(ActionUp, "", 0, nil))
	}
	assert.Len(t, l.Recent(2), 2)
	assert.Len(t, l.Recent(0), 5)
	assert.Len(t, l.Recent(100), 5)
}

func TestRingDropsOldestBeyondMaxSize(t *testing.T) {
	l, err := NewLogger("", 3)
	require.NoError(t, err)

	require.NoError(t, l.Record(ActionUp, "first", 0, nil))
	require.NoError(t, l.Record(ActionUp, "second", 0, nil))
	require.NoError(t, l.Record(ActionUp, "third", 0, nil))
	require.NoError(t, l.Record(ActionUp, "fourth", 0, nil))

	events := l.Recent(10)
	require.Len(t, events, 3)
	assert.Equal(t, "fourth", events[0].Target)
	assert.Equal(t, "second", events[2].Target, "oldest event evicted")
}

func TestHistorySurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")

	l, err := NewLogger(path, 0)
	require.NoError(t, err)
	require.NoError(t, l.Record(ActionExitNodeSet, "berlin-gw", time.Second, nil))
	require.NoError(t, l.Record(ActionExitNodeClear, "", time.Second, nil))

	reloaded, err := NewLogger(path, 0)
	require.NoError(t, err)
	events := reloaded.Recent(10)
	require.Len(t, events, 2)
	assert.Equal(t, ActionExitNodeClear, events[0].Action)
	assert.Equal(t, "berlin-gw", events[1].Target)
}

func TestLoadToleratesCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	content := `{"id":"a","timestamp":"2026-08-20T10:00:00Z","action":"up","success":true}
this line is not json
{"id":"b","timestamp":"2026-08-20T11:00:00Z","action":"down","success":true}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	l, err := NewLogger(path, 0)
	require.NoError(t, err)
	events := l.Recent(10)
	require.Len(t, events, 2)
	assert.Equal(t, ActionDown, events[0].Action)
	assert.Equal(t, ActionUp, events[1].Action)
}

func TestNewLoggerCreatesMissingDirectoryOnFirstRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "history.jsonl")

	l, err := NewLogger(path, 0)
	require.NoError(t, err)
	require.NoError(t, l.Record(ActionUp, "", 0, nil))

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
