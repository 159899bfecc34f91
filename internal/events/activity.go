package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/maltedev/hardware-price-scraper/internal/database"
)

// StoreActivity summarizes the listings batches seen for one store.
type StoreActivity struct {
	Store         string    `json:"store"`
	Batches       int       `json:"batches"`
	Listings      int       `json:"listings"`
	LastCategory  string    `json:"lastCategory,omitempty"`
	LastQuery     string    `json:"lastQuery,omitempty"`
	LastMinPrice  float64   `json:"lastMinPrice"`
	LastMaxPrice  float64   `json:"lastMaxPrice"`
	LastScrapedAt time.Time `json:"lastScrapedAt"`
}

// ActivityTracker folds LISTINGS_SCRAPED events into per-store activity.
type ActivityTracker struct {
	mu     sync.RWMutex
	stores map[string]*StoreActivity
}

func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{stores: make(map[string]*StoreActivity)}
}

// Handle is a ListingsHandler. Out-of-order batches still count but never
// move the "last" fields backwards.
func (t *ActivityTracker) Handle(_ context.Context, p database.ListingsScrapedPayload) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.stores[p.Store]
	if !ok {
		a = &StoreActivity{Store: p.Store}
		t.stores[p.Store] = a
	}

	a.Batches++
	a.Listings += p.Count
	if !p.ScrapedAt.Before(a.LastScrapedAt) {
		a.LastCategory = p.Category
		a.LastQuery = p.SearchQuery
		a.LastMinPrice = p.MinPrice
		a.LastMaxPrice = p.MaxPrice
		a.LastScrapedAt = p.ScrapedAt
	}
	return nil
}

// Snapshot returns a copy of every store's activity, sorted by store.
func (t *ActivityTracker) Snapshot() []StoreActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]StoreActivity, 0, len(t.stores))
	for _, a := range t.stores {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Store < out[j].Store })
	return out
}
