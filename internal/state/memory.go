package state

import (
	"context"
	"sync"
)

// MemoryBackend keeps the snapshot in memory. Useful for tests and for
// running without durability.
type MemoryBackend struct {
	mu    sync.Mutex
	snap  *Snapshot
	saves int
	err   error
}

func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

func (m *MemoryBackend) Load(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, ErrNoSnapshot
	}
	return m.snap.Clone(), nil
}

func (m *MemoryBackend) Save(_ context.Context, s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.snap = s.Clone()
	m.saves++
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

// Saves returns how many successful saves happened.
func (m *MemoryBackend) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FailWith makes subsequent saves return err; nil restores normal behaviour.
func (m *MemoryBackend) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}
