package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for:
//   - Testing and development
//   - Single-process workflows where persistence isn't required
//
// MemStore is thread-safe and supports concurrent access. Data is lost
// when the process terminates, and memory grows with snapshot history.
type MemStore struct {
	mu      sync.RWMutex
	records map[string][]Record // runID -> snapshots in seq order
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[string][]Record),
	}
}

// Save implements Store.
func (m *MemStore) Save(_ context.Context, runID string, data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy so a caller reusing its buffer cannot corrupt the archive.
	blob := make([]byte, len(data))
	copy(blob, data)

	seq := len(m.records[runID]) + 1
	m.records[runID] = append(m.records[runID], Record{
		RunID:   runID,
		Seq:     seq,
		TakenAt: time.Now(),
		Data:    blob,
	})
	return seq, nil
}

// LoadLatest implements Store.
func (m *MemStore) LoadLatest(_ context.Context, runID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.records[runID]
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[len(recs)-1], nil
}

// Load implements Store.
func (m *MemStore) Load(_ context.Context, runID string, seq int) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.records[runID]
	if seq < 1 || seq > len(recs) {
		return Record{}, ErrNotFound
	}
	return recs[seq-1], nil
}

// ListRuns implements Store.
func (m *MemStore) ListRuns(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]string, 0, len(m.records))
	for runID := range m.records {
		runs = append(runs, runID)
	}
	sort.Strings(runs)
	return runs, nil
}

// DeleteRun implements Store.
func (m *MemStore) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, runID)
	return nil
}

// Close implements Store. It is a no-op for MemStore.
func (m *MemStore) Close() error {
	return nil
}
