// Package tokencache provides a bounded, TTL-based cache for verified token
// claims. The memory backend evicts in strict insertion (FIFO) order: a
// cache hit never extends an entry's lifetime, so a stale token can never
// pin itself in the cache by being used frequently.
package tokencache

import (
	"context"
	"time"
)

// Cache stores values by token key for a bounded time.
type Cache[V any] interface {
	// Get returns the cached value for key. Expired entries count as misses.
	Get(ctx context.Context, key string) (V, bool)
	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value V, ttl time.Duration)
	// Delete removes key from the cache, if present.
	Delete(ctx context.Context, key string)
	// Len returns the number of live entries. Redis-backed caches return -1.
	Len() int
}

// Stats aggregates hit/miss/eviction callbacks so the cache stays decoupled
// from the metrics registry. Nil callbacks are skipped.
type Stats struct {
	OnHit   func()
	OnMiss  func()
	OnEvict func()
}

func (s *Stats) hit() {
	if s != nil && s.OnHit != nil {
		s.OnHit()
	}
}

func (s *Stats) miss() {
	if s != nil && s.OnMiss != nil {
		s.OnMiss()
	}
}

func (s *Stats) evict() {
	if s != nil && s.OnEvict != nil {
		s.OnEvict()
	}
}
