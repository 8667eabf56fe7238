package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/motionlightd/internal/db"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestLedger_AppendAndRecent(t *testing.T) {
	l := openLedger(t)

	require.NoError(t, l.Append(EventCommandPublished, "ev-1", "z2m/light/hall/set", "z2m/motion/hall",
		map[string]any{"state": "ON", "brightness": 254}))
	require.NoError(t, l.Append(EventCommandFailed, "ev-2", "z2m/light/desk/set", "tick", nil))

	entries, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "ev-2", entries[0].CorrelationID)
	assert.Equal(t, EventCommandFailed, entries[0].EventType)
	assert.Nil(t, entries[0].Payload)

	assert.Equal(t, "z2m/light/hall/set", entries[1].Topic)
	assert.Equal(t, "z2m/motion/hall", entries[1].Source)
	assert.Equal(t, "ON", entries[1].Payload["state"])
	assert.Equal(t, float64(254), entries[1].Payload["brightness"])

	limited, err := l.Recent(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLedger_ByCorrelation(t *testing.T) {
	l := openLedger(t)

	require.NoError(t, l.Append(EventCommandPublished, "ev-1", "z2m/light/hall_a/set", "z2m/motion/hall", nil))
	require.NoError(t, l.Append(EventCommandPublished, "ev-1", "z2m/light/hall_b/set", "z2m/motion/hall", nil))
	require.NoError(t, l.Append(EventCommandPublished, "ev-2", "z2m/light/desk/set", "tick", nil))

	entries, err := l.ByCorrelation("ev-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "z2m/light/hall_a/set", entries[0].Topic)
	assert.Equal(t, "z2m/light/hall_b/set", entries[1].Topic)

	none, err := l.ByCorrelation("missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLedger_DeleteOlderThan(t *testing.T) {
	l := openLedger(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	l.now = func() time.Time { return now.Add(-10 * 24 * time.Hour) }
	require.NoError(t, l.Append(EventCommandPublished, "old", "z2m/light/a/set", "tick", nil))
	l.now = func() time.Time { return now.Add(-time.Hour) }
	require.NoError(t, l.Append(EventCommandPublished, "new", "z2m/light/b/set", "tick", nil))

	l.now = func() time.Time { return now }
	deleted, err := l.DeleteOlderThan(7 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	entries, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].CorrelationID)
}
