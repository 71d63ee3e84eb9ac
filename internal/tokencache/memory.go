package tokencache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is an in-process FIFO cache. When full, the oldest-inserted entry
// is evicted regardless of how recently it was read. Expired entries are
// removed lazily on access and skipped during eviction scans.
type Memory[V any] struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*list.Element
	order   *list.List // front = oldest inserted
	stats   *Stats
	now     func() time.Time
}

type memEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption[V any] func(*Memory[V])

// WithStats attaches hit/miss/eviction callbacks.
func WithStats[V any](s *Stats) MemoryOption[V] {
	return func(m *Memory[V]) { m.stats = s }
}

// WithClock overrides the time source, for tests.
func WithClock[V any](now func() time.Time) MemoryOption[V] {
	return func(m *Memory[V]) { m.now = now }
}

// NewMemory creates a FIFO cache holding at most maxSize entries.
func NewMemory[V any](maxSize int, opts ...MemoryOption[V]) *Memory[V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	m := &Memory[V]{
		maxSize: maxSize,
		entries: make(map[string]*list.Element, maxSize),
		order:   list.New(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Get returns the value for key, treating expired entries as misses and
// removing them. A hit does not change the entry's eviction position.
func (m *Memory[V]) Get(_ context.Context, key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	el, ok := m.entries[key]
	if !ok {
		m.stats.miss()
		return zero, false
	}
	e := el.Value.(*memEntry[V])
	if m.now().After(e.expiresAt) {
		m.remove(el)
		m.stats.miss()
		return zero, false
	}
	m.stats.hit()
	return e.value, true
}

// Set stores value under key. Overwriting an existing key updates its value
// and expiry but keeps its original insertion position. When the cache is
// full, the oldest-inserted entry is evicted to make room.
func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt := m.now().Add(ttl)
	if el, ok := m.entries[key]; ok {
		e := el.Value.(*memEntry[V])
		e.value = value
		e.expiresAt = expiresAt
		return
	}

	if m.order.Len() >= m.maxSize {
		m.evictOne()
	}

	el := m.order.PushBack(&memEntry[V]{key: key, value: value, expiresAt: expiresAt})
	m.entries[key] = el
}

// Delete removes key from the cache.
func (m *Memory[V]) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[key]; ok {
		m.remove(el)
	}
}

// Len returns the number of entries currently held, including entries that
// have expired but not yet been removed lazily.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// evictOne removes the oldest entry. Expired entries at the front are
// dropped first; they don't count as evictions since they were already dead.
func (m *Memory[V]) evictOne() {
	now := m.now()
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if now.After(el.Value.(*memEntry[V]).expiresAt) {
			m.remove(el)
			return
		}
		el = next
	}
	if el := m.order.Front(); el != nil {
		m.remove(el)
		m.stats.evict()
	}
}

// remove must be called with the mutex held.
func (m *Memory[V]) remove(el *list.Element) {
	e := el.Value.(*memEntry[V])
	m.order.Remove(el)
	delete(m.entries, e.key)
}
