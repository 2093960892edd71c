package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Expired entries are dropped lazily on
// read and opportunistically every sweepEvery writes.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time

	writes     uint64
	sweepEvery uint64
}

// NewMemoryStore returns an empty MemoryStore using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock returns a MemoryStore that reads time from now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]memEntry),
		now:        now,
		sweepEvery: 1024,
	}
}

// Get returns a copy of the value stored under key if it has not expired.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set stores a copy of value under key. A non-positive ttl stores nothing.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	buf := make([]byte, len(value))
	copy(buf, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.writes++
	if m.writes%m.sweepEvery == 0 {
		for k, e := range m.entries {
			if !now.Before(e.expiresAt) {
				delete(m.entries, k)
			}
		}
	}
	m.entries[key] = memEntry{value: buf, expiresAt: now.Add(ttl)}
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, including expired ones not yet swept.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
