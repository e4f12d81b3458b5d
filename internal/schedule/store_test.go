package schedule

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storedSchedules = `[
    {
        "name": "morning-on",
        "description": "lawn before work",
        "deviceId": "S1",
        "action": "on",
        "durationMinutes": 15,
        "active": true,
        "rule": {"second": 0, "minute": 0, "hour": 6, "date": null, "month": null, "dayOfWeek": [1, 3, 5]}
    },
    {
        "name": "beds-off",
        "description": "",
        "deviceId": "S2",
        "action": "off",
        "durationMinutes": 0,
        "active": false,
        "rule": null
    }
]`

func TestFileStoreRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "schedules.json")
	require.NoError(t, os.WriteFile(p, []byte(storedSchedules), 0o644))
	s := FileStore{Path: p}
	ctx := context.Background()

	first, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NoError(t, s.SaveAll(ctx, first))

	second, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, first, second)

	saved, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.JSONEq(t, canonical(t, storedSchedules), canonical(t, string(saved)))
}

// canonical sorts entries by name so order does not matter.
func canonical(t *testing.T, s string) string {
	t.Helper()
	var list []map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &list))
	byName := map[string]map[string]any{}
	for _, m := range list {
		byName[m["name"].(string)] = m
	}
	b, err := json.Marshal(byName)
	require.NoError(t, err)
	return string(b)
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	got, err := FileStore{Path: filepath.Join(t.TempDir(), "none.json")}.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileStoreCorrupt(t *testing.T) {
	p := filepath.Join(t.TempDir(), "schedules.json")
	require.NoError(t, os.WriteFile(p, []byte("{not json"), 0o644))

	_, err := FileStore{Path: p}.LoadAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
}

func TestFileStoreSaveEmptyWritesList(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "schedules.json")
	require.NoError(t, FileStore{Path: p}.SaveAll(context.Background(), nil))

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(b))
}

func TestFileStoreSaveFailure(t *testing.T) {
	dir := t.TempDir()
	// a directory where the file should be makes the rename fail
	p := filepath.Join(dir, "schedules.json")
	require.NoError(t, os.Mkdir(p, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p, "x"), nil, 0o644))

	err := FileStore{Path: p}.SaveAll(context.Background(), []Entry{{Name: "a"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
}

func TestMemStoreCopies(t *testing.T) {
	m := NewMemStore(Entry{Name: "a", Rule: Daily(6, 0)})
	got, err := m.LoadAll(context.Background())
	require.NoError(t, err)
	got[0].Rule.Hour.Values[0] = 9

	again, err := m.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, again[0].Rule.Hour.Values[0])
}
