package cache

import (
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTTL             = 30 * time.Minute
	DefaultMaxSize         = 1000
	DefaultCleanupInterval = 5 * time.Minute

	// fraction of entries dropped when the cache is full
	evictFraction = 0.1
)

type Options struct {
	TTL             time.Duration
	MaxSize         int
	CleanupInterval time.Duration
	Logger          *slog.Logger

	// now is overridden in tests
	now func() time.Time
}

type Entry[T any] struct {
	Data         T
	Timestamp    time.Time
	TTL          time.Duration
	AccessCount  int
	LastAccessed time.Time
}

func (e *Entry[T]) expired(now time.Time) bool {
	return now.Sub(e.Timestamp) > e.TTL
}

// MemoryCache is a keyed TTL cache with approximate LRU batch eviction and a
// background sweep. It is safe for concurrent use.
type MemoryCache[T any] struct {
	mu      sync.Mutex
	entries map[string]*Entry[T]

	defaultTTL      time.Duration
	maxSize         int
	cleanupInterval time.Duration
	now             func() time.Time
	logger          *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New[T any](opts Options) *MemoryCache[T] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &MemoryCache[T]{
		entries:         make(map[string]*Entry[T]),
		defaultTTL:      opts.TTL,
		maxSize:         opts.MaxSize,
		cleanupInterval: opts.CleanupInterval,
		now:             opts.now,
		logger:          opts.Logger.With("component", "cache"),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}

	go c.sweep()

	return c
}

// Set stores data under key. A ttl of zero uses the cache default.
func (c *MemoryCache[T]) Set(key string, data T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictLRU()
	}

	now := c.now()
	c.entries[key] = &Entry[T]{
		Data:         data,
		Timestamp:    now,
		TTL:          ttl,
		LastAccessed: now,
	}
}

// Get returns the cached value. Expired entries are removed and reported as
// a miss.
func (c *MemoryCache[T]) Get(key string) (T, bool) {
	var zero T

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return zero, false
	}

	now := c.now()
	if entry.expired(now) {
		delete(c.entries, key)
		return zero, false
	}

	entry.AccessCount++
	entry.LastAccessed = now

	return entry.Data, true
}

func (c *MemoryCache[T]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	if entry.expired(c.now()) {
		delete(c.entries, key)
		return false
	}
	return true
}

func (c *MemoryCache[T]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

func (c *MemoryCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry[T])
}

func (c *MemoryCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TTL is the lifetime given to entries set without one.
func (c *MemoryCache[T]) TTL() time.Duration {
	return c.defaultTTL
}

func (c *MemoryCache[T]) MaxSize() int {
	return c.maxSize
}

func (c *MemoryCache[T]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Cleanup removes every expired entry and returns how many were dropped.
func (c *MemoryCache[T]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug("cache cleanup", "removed", removed, "remaining", len(c.entries))
	}

	return removed
}

type Stats struct {
	TotalEntries       int        `json:"totalEntries"`
	ValidEntries       int        `json:"validEntries"`
	ExpiredEntries     int        `json:"expiredEntries"`
	MemoryUsage        int        `json:"memoryUsage"`
	AverageAccessCount float64    `json:"averageAccessCount"`
	OldestEntry        *time.Time `json:"oldestEntry,omitempty"`
	NewestEntry        *time.Time `json:"newestEntry,omitempty"`
}

func (c *MemoryCache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	stats := Stats{TotalEntries: len(c.entries)}

	totalAccesses := 0
	for key, e := range c.entries {
		stats.MemoryUsage += approxSize(key, e.Data)

		if e.expired(now) {
			stats.ExpiredEntries++
			continue
		}

		stats.ValidEntries++
		totalAccesses += e.AccessCount

		ts := e.Timestamp
		if stats.OldestEntry == nil || ts.Before(*stats.OldestEntry) {
			stats.OldestEntry = &ts
		}
		if stats.NewestEntry == nil || ts.After(*stats.NewestEntry) {
			stats.NewestEntry = &ts
		}
	}

	if stats.ValidEntries > 0 {
		avg := float64(totalAccesses) / float64(stats.ValidEntries)
		stats.AverageAccessCount = math.Round(avg*100) / 100
	}

	return stats
}

// Close stops the background sweep and drops all entries. It is safe to call
// more than once.
func (c *MemoryCache[T]) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
	c.Clear()
}

func (c *MemoryCache[T]) sweep() {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

// evictLRU drops the least recently accessed tenth of the entries.
// Caller must hold c.mu.
func (c *MemoryCache[T]) evictLRU() {
	type candidate struct {
		key          string
		lastAccessed time.Time
	}

	candidates := make([]candidate, 0, len(c.entries))
	for k, e := range c.entries {
		candidates = append(candidates, candidate{key: k, lastAccessed: e.LastAccessed})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastAccessed.Before(candidates[j].lastAccessed)
	})

	toRemove := int(math.Ceil(float64(len(candidates)) * evictFraction))
	if toRemove < 1 {
		toRemove = 1
	}
	for i := 0; i < toRemove && i < len(candidates); i++ {
		delete(c.entries, candidates[i].key)
	}

	c.logger.Debug("evicted least recently used entries", "count", toRemove)
}

func approxSize(key string, data any) int {
	size := len(key)*2 + 64
	if b, err := json.Marshal(data); err == nil {
		size += len(b) * 2
	}
	return size
}

// GenerateKey joins lower-cased parts with ':'.
func GenerateKey(parts ...any) string {
	ss := make([]string, len(parts))
	for i, p := range parts {
		ss[i] = strings.ToLower(toString(p))
	}
	return strings.Join(ss, ":")
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, ",")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return strings.Trim(string(b), `"`)
	}
}
