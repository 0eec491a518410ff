package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/tapoctl/internal/db"
	"github.com/dokzlo13/tapoctl/internal/eventbus"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestRecordAndCommand(t *testing.T) {
	l := openLedger(t)

	require.NoError(t, l.Record(eventbus.Event{
		Type:      eventbus.EventCommandStarted,
		CommandID: "c1",
		Time:      time.Now(),
		Data:      map[string]any{"intent": "reboot", "target": "desk", "child": "Lamp", "endpoint": "strip@192.0.2.1"},
	}))
	require.NoError(t, l.Record(eventbus.Event{
		Type:      eventbus.EventCommandFailed,
		CommandID: "c1",
		Time:      time.Now(),
		Data:      map[string]any{"intent": "reboot", "target": "desk", "error": "boom", "elapsed_ms": int64(1200), "attempt": "first"},
	}))

	entries, err := l.Command("c1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "command_started", entries[0].EventType)
	assert.Equal(t, "Lamp", entries[0].Child)
	assert.Equal(t, "strip@192.0.2.1", entries[0].Endpoint)
	assert.Equal(t, "command_failed", entries[1].EventType)
	assert.Equal(t, "boom", entries[1].Error)
	assert.Equal(t, int64(1200), entries[1].ElapsedMs)
	assert.Equal(t, "first", entries[1].Payload["attempt"])
}

func TestAppendIgnoresDuplicateStep(t *testing.T) {
	l := openLedger(t)

	e := Entry{CommandID: "c1", EventType: "command_completed", Target: "desk"}
	require.NoError(t, l.Append(e))
	require.NoError(t, l.Append(e))

	entries, err := l.Command("c1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecentFiltersByTarget(t *testing.T) {
	l := openLedger(t)

	base := time.Now().Add(-time.Minute)
	require.NoError(t, l.Append(Entry{CommandID: "a", EventType: "command_completed", Target: "desk", Timestamp: base}))
	require.NoError(t, l.Append(Entry{CommandID: "b", EventType: "command_completed", Target: "hall", Timestamp: base.Add(time.Second)}))
	require.NoError(t, l.Append(Entry{CommandID: "c", EventType: "command_completed", Target: "desk", Timestamp: base.Add(2 * time.Second)}))

	all, err := l.Recent("", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].CommandID, "newest first")

	desk, err := l.Recent("desk", 10)
	require.NoError(t, err)
	require.Len(t, desk, 2)
	assert.Equal(t, "c", desk[0].CommandID)
	assert.Equal(t, "a", desk[1].CommandID)
}

func TestDeleteOlderThan(t *testing.T) {
	l := openLedger(t)

	require.NoError(t, l.Append(Entry{CommandID: "old", EventType: "command_completed", Timestamp: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, l.Append(Entry{CommandID: "new", EventType: "command_completed"}))

	deleted, err := l.DeleteOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	entries, err := l.Recent("", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].CommandID)
}
