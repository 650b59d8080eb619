package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGet_RoundTrip(t *testing.T) {
	c := New[int](DefaultConfig())

	c.Set("a", 1)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = c.Get("absent")
	assert.False(t, ok)
}

func TestCache_Set_EvictsLeastRecentlyUsed(t *testing.T) {
	// Given: a cache with room for two entries
	c := New[int](Config{Capacity: 2, TTL: 60 * time.Second})

	// When: a third entry arrives
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Then: the oldest entry is gone, the other two remain
	_, ok := c.Get("a")
	assert.False(t, ok, "a should have been evicted")

	b, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, b)

	cv, ok := c.Get("c")
	require.True(t, ok)
	assert.Equal(t, 3, cv)

	// And: the eviction was counted
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestCache_Get_RefreshesRecency(t *testing.T) {
	// Given: a full cache where "a" was just read
	c := New[int](Config{Capacity: 2, TTL: 60 * time.Second})
	c.Set("a", 1)
	c.Set("b", 2)
	_, ok := c.Get("a")
	require.True(t, ok)

	// When: capacity pressure hits
	c.Set("c", 3)

	// Then: the unread entry is the one evicted
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestCache_Get_ExpiresEntries(t *testing.T) {
	// Given: a cache with a controllable clock
	c := New[string](Config{Capacity: 8, TTL: time.Minute})
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("k", "v")

	// When: the TTL has fully elapsed
	c.now = func() time.Time { return base.Add(61 * time.Second) }

	// Then: the entry is gone and counted as expired plus missed
	_, ok := c.Get("k")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Expirations)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 0, stats.Size)
}

func TestCache_Get_SlidingTTLExtendsLife(t *testing.T) {
	// Given: sliding TTL and a hit two thirds into the window
	c := New[string](Config{Capacity: 8, TTL: time.Minute, SlidingTTL: true})
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("k", "v")

	c.now = func() time.Time { return base.Add(40 * time.Second) }
	_, ok := c.Get("k")
	require.True(t, ok)

	// When: another 40 seconds pass (80s after the write)
	c.now = func() time.Time { return base.Add(80 * time.Second) }

	// Then: the hit reset the clock, so the entry is still live
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestCache_Get_AbsoluteTTLIgnoresHits(t *testing.T) {
	// Given: absolute TTL and a hit two thirds into the window
	c := New[string](Config{Capacity: 8, TTL: time.Minute, SlidingTTL: false})
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("k", "v")

	c.now = func() time.Time { return base.Add(40 * time.Second) }
	_, ok := c.Get("k")
	require.True(t, ok)

	// When: the original window elapses
	c.now = func() time.Time { return base.Add(80 * time.Second) }

	// Then: the entry expired regardless of the hit
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestCache_Set_OverwriteRefreshesAge(t *testing.T) {
	c := New[int](Config{Capacity: 8, TTL: time.Minute})
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("k", 1)

	// Overwrite near the end of the window
	c.now = func() time.Time { return base.Add(50 * time.Second) }
	c.Set("k", 2)

	// The rewritten entry lives a full TTL from the overwrite
	c.now = func() time.Time { return base.Add(100 * time.Second) }
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestCache_Clear_KeepsCounters(t *testing.T) {
	// Given: traffic that produced one hit and one miss
	c := New[int](DefaultConfig())
	c.Set("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	// When: clearing the cache
	c.Clear()

	// Then: entries are gone but counters survive
	assert.Equal(t, 0, c.Len())
	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)

	// And: ResetStats is the explicit way to zero them
	c.ResetStats()
	stats = c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
}

func TestCache_Stats_HitRate(t *testing.T) {
	c := New[int](DefaultConfig())

	// No traffic yet: rate is zero, not NaN
	assert.Zero(t, c.Stats().HitRate)

	c.Set("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("a")
	_, _ = c.Get("miss")
	_, _ = c.Get("miss")

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.Equal(t, 1, stats.Size)
}

func TestCache_Delete(t *testing.T) {
	c := New[int](DefaultConfig())
	c.Set("a", 1)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCache_GetOrCompute_ServesCachedValue(t *testing.T) {
	c := New[int](DefaultConfig())
	c.Set("k", 42)

	got, cached, err := c.GetOrCompute("k", func() (int, error) {
		t.Fatal("compute must not run on a hit")
		return 0, nil
	})
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, 42, got)
}

func TestCache_GetOrCompute_ComputesAndStoresOnMiss(t *testing.T) {
	c := New[int](DefaultConfig())

	got, cached, err := c.GetOrCompute("k", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 7, got)

	// The computed value is now cached
	stored, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 7, stored)
}

func TestCache_GetOrCompute_ErrorsAreNotCached(t *testing.T) {
	c := New[int](DefaultConfig())
	boom := errors.New("backend down")

	_, _, err := c.GetOrCompute("k", func() (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	// A later compute runs again and can succeed
	got, cached, err := c.GetOrCompute("k", func() (int, error) { return 9, nil })
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 9, got)
}

func TestCache_GetOrCompute_CollapsesConcurrentMisses(t *testing.T) {
	c := New[int](DefaultConfig())
	var computes atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _, err := c.GetOrCompute("k", func() (int, error) {
				computes.Add(1)
				<-release
				return 11, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 11, got)
		}()
	}

	// Let the callers pile up on the flight, then release it
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), computes.Load())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int](Config{Capacity: 64, TTL: time.Minute})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			keys := []string{"a", "b", "c", "d"}
			for i := 0; i < 200; i++ {
				key := keys[(g+i)%len(keys)]
				c.Set(key, i)
				_, _ = c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 4)
}
