package events

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *SQLiteLog {
	t.Helper()
	l, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "events.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestSQLiteAppendAndQuery(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 6, 0, 0, 0, time.UTC)

	seed := []Event{
		{Time: base, Source: "StationControl", Type: TypeInfo, DeviceID: "S1", Text: "Turned ON"},
		{Time: base.Add(time.Minute), Source: "StationControl", Type: TypeWarning, DeviceID: "S1", Text: "Turned OFF"},
		{Time: base.Add(2 * time.Minute), Source: "System", Type: TypeInfo, Text: "Startup"},
		{Time: base.Add(3 * time.Minute), Source: "StationControl", Type: TypeInfo, DeviceID: "S2", Text: "Turned ON"},
	}
	for _, e := range seed {
		require.NoError(t, l.Append(ctx, e))
	}

	all, err := l.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "S2", all[0].DeviceID, "newest first")
	assert.True(t, all[0].Time.Equal(base.Add(3*time.Minute)))
	assert.Equal(t, "", all[1].DeviceID, "system event has no device")

	s1, err := l.Query(ctx, Query{DeviceID: "S1"})
	require.NoError(t, err)
	require.Len(t, s1, 2)
	assert.Equal(t, TypeWarning, s1[0].Type)

	warn, err := l.Query(ctx, Query{Type: TypeWarning})
	require.NoError(t, err)
	require.Len(t, warn, 1)
	assert.Equal(t, "Turned OFF", warn[0].Text)

	sys, err := l.Query(ctx, Query{Source: "System"})
	require.NoError(t, err)
	require.Len(t, sys, 1)

	window, err := l.Query(ctx, Query{From: base.Add(time.Minute), To: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, window, 2)
}

func TestSQLiteLimitOffset(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Append(ctx, Event{Time: base.Add(time.Duration(i) * time.Second), Source: "t", Type: TypeInfo, Text: "e"}))
	}

	page, err := l.Query(ctx, Query{Limit: 3, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.True(t, page[0].Time.Equal(base.Add(7*time.Second)))
}

func TestSQLiteReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.sqlite")
	ctx := context.Background()

	l, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, Event{Source: "t", Type: TypeError, Text: "boom"}))
	require.NoError(t, l.Close())

	l, err = OpenSQLite(path)
	require.NoError(t, err)
	defer l.Close()
	got, err := l.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, TypeError, got[0].Type)
	assert.False(t, got[0].Time.IsZero(), "zero time should be stamped on append")
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	assert.Error(t, err)
}
