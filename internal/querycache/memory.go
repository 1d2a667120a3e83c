package querycache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key     Key
	data    []byte
	expires time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Memory is an in-process Cache. Invalidate drops matching entries along
// with any that have expired.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	epoch   uint64
	ttl     time.Duration
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]*memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	encoded := key.String()
	entry, ok := m.entries[encoded]
	if !ok {
		return nil, ErrMiss
	}
	if entry.expired(m.now()) {
		delete(m.entries, encoded)
		return nil, ErrMiss
	}
	return entry.data, nil
}

func (m *Memory) Epoch(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch, nil
}

func (m *Memory) SetIfCurrent(_ context.Context, key Key, data []byte, epoch uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		return false, nil
	}
	entry := &memoryEntry{key: key, data: append([]byte(nil), data...)}
	if m.ttl > 0 {
		entry.expires = m.now().Add(m.ttl)
	}
	m.entries[key.String()] = entry
	return true, nil
}

func (m *Memory) Invalidate(_ context.Context, pattern Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.epoch++
	now := m.now()
	for encoded, entry := range m.entries {
		if Matches(entry.key, pattern) || entry.expired(now) {
			delete(m.entries, encoded)
		}
	}
	return nil
}

// Len reports the number of retained entries, expired ones included until
// they are swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
