package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryStore keeps entries in process memory. Expired entries are
// dropped on access, and Set sweeps the whole map once the earliest
// expiry has passed.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time

	// nextSweep is the earliest expiry among stored entries.
	nextSweep time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if !m.now().Before(entry.expires) {
		m.mu.Lock()
		if current, ok := m.entries[key]; ok && current.expires.Equal(entry.expires) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	now := m.now()
	expires := now.Add(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.nextSweep.IsZero() && !now.Before(m.nextSweep) {
		m.sweep(now)
	}
	m.entries[key] = memoryEntry{value: stored, expires: expires}
	if m.nextSweep.IsZero() || expires.Before(m.nextSweep) {
		m.nextSweep = expires
	}
	return nil
}

// sweep drops expired entries and recomputes nextSweep. Callers hold mu.
func (m *MemoryStore) sweep(now time.Time) {
	m.nextSweep = time.Time{}
	for key, entry := range m.entries {
		if !now.Before(entry.expires) {
			delete(m.entries, key)
			continue
		}
		if m.nextSweep.IsZero() || entry.expires.Before(m.nextSweep) {
			m.nextSweep = entry.expires
		}
	}
}

func (m *MemoryStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	m.nextSweep = time.Time{}
	return nil
}

var _ Store = (*MemoryStore)(nil)
