package imagestore

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	data     []byte
	storedAt time.Time
}

// Memory is an in-process Store. Bytes are copied on the way in and out so
// callers never share a buffer with the store.
type Memory struct {
	mu      sync.RWMutex
	entries map[int64]memEntry
	now     func() time.Time
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[int64]memEntry),
		now:     time.Now,
	}
}

func (m *Memory) Put(_ context.Context, userID int64, data []byte) error {
	cp := append([]byte(nil), data...)
	at := m.now()
	m.mu.Lock()
	m.entries[userID] = memEntry{data: cp, storedAt: at}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, userID int64) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[userID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.data...), nil
}

func (m *Memory) Remove(_ context.Context, userID int64) error {
	m.mu.Lock()
	delete(m.entries, userID)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	clear(m.entries)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Prune(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.entries {
		if e.storedAt.Before(olderThan) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored images.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
