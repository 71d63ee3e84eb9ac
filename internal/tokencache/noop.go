package tokencache

import (
	"context"
	"time"
)

// Noop is a cache that stores nothing. Used when caching is disabled so
// callers never need a nil check.
type Noop[V any] struct{}

// NewNoop creates a no-op cache.
func NewNoop[V any]() Noop[V] { return Noop[V]{} }

func (Noop[V]) Get(context.Context, string) (V, bool) {
	var zero V
	return zero, false
}

func (Noop[V]) Set(context.Context, string, V, time.Duration) {}

func (Noop[V]) Delete(context.Context, string) {}

func (Noop[V]) Len() int { return 0 }
