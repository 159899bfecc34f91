package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, maxSize int) (*MemoryCache[string], *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := New[string](Options{
		TTL:             time.Minute,
		MaxSize:         maxSize,
		CleanupInterval: time.Hour,
		now:             clock.Now,
	})
	t.Cleanup(c.Close)
	return c, clock
}

func TestMemoryCache_SetGet(t *testing.T) {
	c, _ := newTestCache(t, 10)

	c.Set("a", "alpha", 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", v)
	assert.True(t, c.Has("a"))

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestMemoryCache_GetAfterTTLRemovesEntry(t *testing.T) {
	c, clock := newTestCache(t, 10)

	c.Set("a", "alpha", 0)
	c.Set("b", "beta", time.Hour)
	require.Equal(t, 2, c.Size())

	clock.Advance(time.Minute + time.Second)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Size())

	v, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "beta", v)
}

func TestMemoryCache_ExactlyTTLIsStillValid(t *testing.T) {
	c, clock := newTestCache(t, 10)

	c.Set("a", "alpha", 0)
	clock.Advance(time.Minute)

	_, ok := c.Get("a")
	assert.True(t, ok)
}

func TestMemoryCache_NeverExceedsMaxSize(t *testing.T) {
	const maxSize = 20
	c, clock := newTestCache(t, maxSize)

	for i := 0; i <= maxSize; i++ {
		c.Set(fmt.Sprintf("k%d", i), "v", 0)
		clock.Advance(time.Millisecond)
		assert.LessOrEqual(t, c.Size(), maxSize)
	}
}

func TestMemoryCache_EvictsLeastRecentlyAccessedBatch(t *testing.T) {
	c, clock := newTestCache(t, 10)

	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("k%d", i), "v", 0)
		clock.Advance(time.Millisecond)
	}

	// touch k0 so k1 becomes the least recently used
	_, ok := c.Get("k0")
	require.True(t, ok)
	clock.Advance(time.Millisecond)

	c.Set("new", "v", 0)

	assert.Equal(t, 10, c.Size())
	assert.True(t, c.Has("k0"))
	assert.False(t, c.Has("k1"))
	assert.True(t, c.Has("new"))
}

func TestMemoryCache_OverwriteDoesNotEvict(t *testing.T) {
	c, _ := newTestCache(t, 2)

	c.Set("a", "1", 0)
	c.Set("b", "2", 0)
	c.Set("a", "3", 0)

	assert.Equal(t, 2, c.Size())
	v, _ := c.Get("a")
	assert.Equal(t, "3", v)
}

func TestMemoryCache_Cleanup(t *testing.T) {
	c, clock := newTestCache(t, 10)

	c.Set("short", "v", 10*time.Second)
	c.Set("long", "v", time.Hour)
	c.Set("short2", "v", 20*time.Second)

	clock.Advance(30 * time.Second)

	assert.Equal(t, 2, c.Cleanup())
	assert.Equal(t, []string{"long"}, c.Keys())
	assert.Equal(t, 0, c.Cleanup())
}

func TestMemoryCache_DeleteAndClear(t *testing.T) {
	c, _ := newTestCache(t, 10)

	c.Set("a", "1", 0)
	c.Set("b", "2", 0)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 1, c.Size())

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestMemoryCache_Stats(t *testing.T) {
	c, clock := newTestCache(t, 10)

	c.Set("a", "1", 0)
	clock.Advance(time.Second)
	c.Set("b", "2", 10*time.Second)
	c.Get("a")
	c.Get("a")
	c.Get("b")

	clock.Advance(30 * time.Second)

	stats := c.Stats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.ValidEntries)
	assert.Equal(t, 1, stats.ExpiredEntries)
	assert.Equal(t, 2.0, stats.AverageAccessCount)
	assert.Greater(t, stats.MemoryUsage, 0)
	require.NotNil(t, stats.OldestEntry)
	assert.Equal(t, *stats.OldestEntry, *stats.NewestEntry)
}

func TestMemoryCache_BackgroundSweep(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New[int](Options{
		TTL:             time.Second,
		MaxSize:         10,
		CleanupInterval: 10 * time.Millisecond,
		now:             clock.Now,
	})
	defer c.Close()

	c.Set("a", 1, 0)
	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool { return c.Size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryCache_CloseIsIdempotent(t *testing.T) {
	c := New[int](Options{})
	c.Set("a", 1, 0)

	c.Close()
	c.Close()

	assert.Equal(t, 0, c.Size())
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	c := New[int](Options{MaxSize: 50, CleanupInterval: time.Millisecond})
	defer c.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%75)
				c.Set(key, i, 0)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), 50)
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, "prices:cpu,gpu:ryzen:20:false", GenerateKey("prices", []string{"CPU", "GPU"}, "Ryzen", 20, false))
}

func TestPresets(t *testing.T) {
	price := NewPriceCache[string](0, 0, nil)
	defer price.Close()
	component := NewComponentCache[string](0, 0, nil)
	defer component.Close()
	general := NewGeneralCache[string](time.Hour, 50, nil)
	defer general.Close()

	assert.Equal(t, 5*time.Minute, price.defaultTTL)
	assert.Equal(t, 200, price.maxSize)
	assert.Equal(t, 2*time.Minute, price.cleanupInterval)
	assert.Equal(t, 2*time.Hour, component.defaultTTL)
	assert.Equal(t, 1000, component.maxSize)

	// configured values replace the preset's, the sweep interval stays
	assert.Equal(t, time.Hour, general.defaultTTL)
	assert.Equal(t, 50, general.maxSize)
	assert.Equal(t, GeneralPreset.CleanupInterval, general.cleanupInterval)

	assert.Less(t, PricePreset.TTL, GeneralPreset.TTL)
	assert.Less(t, GeneralPreset.TTL, ComponentPreset.TTL)
}
