package snapshot

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[uint64]Snapshot
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[uint64]Snapshot)}
}

// Put implements Store.
func (m *MemoryStore) Put(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateSession(snap.Session); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	steps, ok := m.sessions[snap.Session]
	if !ok {
		steps = make(map[uint64]Snapshot)
		m.sessions[snap.Session] = steps
	}
	steps[snap.Step] = clone(snap)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, session string, step uint64) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.sessions[session][step]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return clone(snap), nil
}

// Steps implements Store.
func (m *MemoryStore) Steps(ctx context.Context, session string) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	steps, ok := m.sessions[session]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]uint64, 0, len(steps))
	for step := range steps {
		out = append(out, step)
	}
	slices.Sort(out)
	return out, nil
}

// Sessions implements Store.
func (m *MemoryStore) Sessions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for s := range m.sessions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, session string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, session)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
