package tokencache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[string](10)

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	c.Set(ctx, "tok", "claims-a", time.Minute)
	got, ok := c.Get(ctx, "tok")
	require.True(t, ok)
	assert.Equal(t, "claims-a", got)
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCapacityBound(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[int](3)

	for i := 0; i < 10; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), i, time.Minute)
		assert.LessOrEqual(t, c.Len(), 3)
	}
	assert.Equal(t, 3, c.Len())

	// Only the three newest survive.
	for i := 0; i < 7; i++ {
		_, ok := c.Get(ctx, fmt.Sprintf("k%d", i))
		assert.False(t, ok, "k%d should have been evicted", i)
	}
	for i := 7; i < 10; i++ {
		_, ok := c.Get(ctx, fmt.Sprintf("k%d", i))
		assert.True(t, ok, "k%d should survive", i)
	}
}

func TestMemoryFIFONotLRU(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[int](2)

	c.Set(ctx, "old", 1, time.Minute)
	c.Set(ctx, "mid", 2, time.Minute)

	// Read "old" repeatedly; FIFO must still evict it first.
	for i := 0; i < 5; i++ {
		_, ok := c.Get(ctx, "old")
		require.True(t, ok)
	}

	c.Set(ctx, "new", 3, time.Minute)

	_, ok := c.Get(ctx, "old")
	assert.False(t, ok, "oldest-inserted entry must be evicted despite recent reads")
	_, ok = c.Get(ctx, "mid")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "new")
	assert.True(t, ok)
}

func TestMemoryOverwriteKeepsPosition(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[int](2)

	c.Set(ctx, "a", 1, time.Minute)
	c.Set(ctx, "b", 2, time.Minute)
	c.Set(ctx, "a", 10, time.Minute) // overwrite, still oldest

	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, 10, got)

	c.Set(ctx, "c", 3, time.Minute)

	_, ok = c.Get(ctx, "a")
	assert.False(t, ok, "overwritten entry keeps its insertion position")
	_, ok = c.Get(ctx, "b")
	assert.True(t, ok)
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewMemory[string](10, WithClock[string](clock.Now))

	c.Set(ctx, "tok", "claims", time.Minute)

	clock.Advance(30 * time.Second)
	_, ok := c.Get(ctx, "tok")
	assert.True(t, ok)

	clock.Advance(31 * time.Second)
	_, ok = c.Get(ctx, "tok")
	assert.False(t, ok, "expired entry is a miss")
	assert.Equal(t, 0, c.Len(), "expired entry is removed on access")
}

func TestMemoryEvictionPrefersExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	stats := &Stats{}
	var evictions int
	stats.OnEvict = func() { evictions++ }
	c := NewMemory[int](2, WithClock[int](clock.Now), WithStats[int](stats))

	c.Set(ctx, "short", 1, time.Second)
	c.Set(ctx, "long", 2, time.Hour)

	clock.Advance(2 * time.Second)
	c.Set(ctx, "new", 3, time.Hour)

	_, ok := c.Get(ctx, "long")
	assert.True(t, ok, "live entry survives when a dead one could be dropped")
	_, ok = c.Get(ctx, "new")
	assert.True(t, ok)
	assert.Equal(t, 0, evictions, "dropping an expired entry is not an eviction")
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[string](10)

	c.Set(ctx, "tok", "claims", time.Minute)
	c.Delete(ctx, "tok")
	c.Delete(ctx, "tok") // idempotent

	_, ok := c.Get(ctx, "tok")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryZeroTTLNotStored(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[string](10)

	c.Set(ctx, "tok", "claims", 0)
	c.Set(ctx, "tok2", "claims", -time.Second)

	assert.Equal(t, 0, c.Len())
}

func TestMemoryStats(t *testing.T) {
	ctx := context.Background()
	var hits, misses, evictions int
	stats := &Stats{
		OnHit:   func() { hits++ },
		OnMiss:  func() { misses++ },
		OnEvict: func() { evictions++ },
	}
	c := NewMemory[int](1, WithStats[int](stats))

	c.Get(ctx, "nope")
	c.Set(ctx, "a", 1, time.Minute)
	c.Get(ctx, "a")
	c.Set(ctx, "b", 2, time.Minute) // evicts a

	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
	assert.Equal(t, 1, evictions)
}

func TestMemoryConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[int](100)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%50)
				c.Set(ctx, key, i, time.Minute)
				c.Get(ctx, key)
				if i%10 == 0 {
					c.Delete(ctx, key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 100)
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	c := NewNoop[string]()

	c.Set(ctx, "tok", "claims", time.Minute)
	_, ok := c.Get(ctx, "tok")
	assert.False(t, ok)
	c.Delete(ctx, "tok")
	assert.Equal(t, 0, c.Len())
}
