package schedule

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrStorage marks failures to read or write the schedule set.
var ErrStorage = errors.New("schedule storage failure")

// Store persists the whole schedule set as one snapshot.
type Store interface {
	LoadAll(ctx context.Context) ([]Entry, error)
	SaveAll(ctx context.Context, entries []Entry) error
}

// FileStore keeps schedules in a JSON file. A missing file is an empty set.
type FileStore struct {
	Path string
}

// LoadAll implements Store.
func (s FileStore) LoadAll(_ context.Context) ([]Entry, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "read schedules %s", s.Path), ErrStorage)
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parse schedules %s", s.Path), ErrStorage)
	}
	return entries, nil
}

// SaveAll implements Store. The file is replaced atomically so a crash never
// leaves a truncated schedule set behind.
func (s FileStore) SaveAll(_ context.Context, entries []Entry) error {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	if sorted == nil {
		sorted = []Entry{}
	}

	b, err := json.MarshalIndent(sorted, "", "    ")
	if err != nil {
		return errors.Mark(errors.Wrap(err, "encode schedules"), ErrStorage)
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Mark(errors.Wrap(err, "create schedules dir"), ErrStorage)
	}
	tmp, err := os.CreateTemp(dir, ".schedules-*.json")
	if err != nil {
		return errors.Mark(errors.Wrap(err, "create temp file"), ErrStorage)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		return errors.Mark(errors.Wrap(err, "write schedules"), ErrStorage)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Mark(errors.Wrap(err, "sync schedules"), ErrStorage)
	}
	if err := tmp.Close(); err != nil {
		return errors.Mark(errors.Wrap(err, "close schedules"), ErrStorage)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return errors.Mark(errors.Wrapf(err, "replace %s", s.Path), ErrStorage)
	}
	return nil
}

// MemStore is an in-memory Store.
type MemStore struct {
	mu      sync.Mutex
	entries []Entry
	saves   int

	// LoadErr and SaveErr, if set, are returned by LoadAll and SaveAll.
	LoadErr error
	SaveErr error
}

// NewMemStore returns a MemStore seeded with entries.
func NewMemStore(entries ...Entry) *MemStore {
	return &MemStore{entries: entries}
}

// LoadAll implements Store.
func (m *MemStore) LoadAll(context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, errors.Mark(m.LoadErr, ErrStorage)
	}
	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.clone()
	}
	return out, nil
}

// SaveAll implements Store.
func (m *MemStore) SaveAll(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return errors.Mark(m.SaveErr, ErrStorage)
	}
	m.entries = make([]Entry, len(entries))
	for i, e := range entries {
		m.entries[i] = e.clone()
	}
	m.saves++
	return nil
}

// Saves returns how many snapshots have been written.
func (m *MemStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// SetSaveErr changes the error returned by SaveAll.
func (m *MemStore) SetSaveErr(err error) {
	m.mu.Lock()
	m.SaveErr = err
	m.mu.Unlock()
}
