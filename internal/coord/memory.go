package coord

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a bounded in-process Store. When full it prunes expired
// entries first and then evicts the oldest write.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	nowFunc    func() time.Time
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryStore{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		nowFunc:    time.Now,
	}
}

func (m *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	if el, ok := m.entries[key]; ok {
		if now.Before(el.Value.(*memoryEntry).expiresAt) {
			return false, nil
		}
		m.remove(el)
	}
	m.insert(key, value, now.Add(ttl), now)
	return true, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	e := el.Value.(*memoryEntry)
	if !m.nowFunc().Before(e.expiresAt) {
		m.remove(el)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	if el, ok := m.entries[key]; ok {
		m.remove(el)
	}
	m.insert(key, value, now.Add(ttl), now)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// Len reports the number of stored entries, including expired ones not yet
// pruned.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Prune drops every expired entry.
func (m *MemoryStore) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruneLocked(m.nowFunc())
}

func (m *MemoryStore) insert(key string, value []byte, expiresAt, now time.Time) {
	if len(m.entries) >= m.maxEntries {
		m.pruneLocked(now)
	}
	for len(m.entries) >= m.maxEntries {
		m.remove(m.order.Front())
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	m.entries[key] = m.order.PushBack(&memoryEntry{key: key, value: buf, expiresAt: expiresAt})
}

func (m *MemoryStore) pruneLocked(now time.Time) int {
	removed := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*memoryEntry).expiresAt) {
			m.remove(el)
			removed++
		}
		el = next
	}
	return removed
}

func (m *MemoryStore) remove(el *list.Element) {
	m.order.Remove(el)
	delete(m.entries, el.Value.(*memoryEntry).key)
}
