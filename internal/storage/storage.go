package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/maltedev/hardware-price-scraper/internal/models"
)

// ListingStore keeps listings in a JSON file keyed by (link, store). It is
// the persistence collaborator used when no database is configured.
type ListingStore struct {
	mu       sync.RWMutex
	listings map[string]*models.Product
	filename string
	now      func() time.Time
}

func NewListingStore(filename string) (*ListingStore, error) {
	ls := &ListingStore{
		listings: make(map[string]*models.Product),
		filename: filename,
		now:      time.Now,
	}

	if err := ls.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	return ls, nil
}

// UpsertListings inserts new listings and overwrites known ones. Repeating
// the same batch leaves the store unchanged apart from UpdatedAt. The batch
// only becomes visible once it is on disk.
func (ls *ListingStore) UpsertListings(ctx context.Context, products []models.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	staged := maps.Clone(ls.listings)
	if staged == nil {
		staged = make(map[string]*models.Product)
	}
	now := ls.now()
	for _, p := range models.DedupeByKey(products) {
		if p.Link == "" || p.Store == "" {
			continue
		}
		if p.ScrapedAt.IsZero() {
			p.ScrapedAt = now
		}
		p.UpdatedAt = now
		staged[p.Key()] = &p
	}

	if err := ls.save(staged); err != nil {
		return err
	}
	ls.listings = staged
	return nil
}

func (ls *ListingStore) Get(link, store string) (models.Product, bool) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	p, ok := ls.listings[(&models.Product{Link: link, Store: store}).Key()]
	if !ok {
		return models.Product{}, false
	}
	return *p, true
}

// ByStore returns the listings of one store ordered by price.
func (ls *ListingStore) ByStore(store string) []models.Product {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	var out []models.Product
	for _, p := range ls.listings {
		if p.Store == store {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].Link < out[j].Link
	})
	return out
}

func (ls *ListingStore) Len() int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return len(ls.listings)
}

// GetStats counts listings per store plus a "total" entry.
func (ls *ListingStore) GetStats() map[string]int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	stats := make(map[string]int)
	for _, p := range ls.listings {
		stats[p.Store]++
	}
	stats["total"] = len(ls.listings)
	return stats
}

func (ls *ListingStore) save(listings map[string]*models.Product) error {
	data, err := json.MarshalIndent(listings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal listings: %w", err)
	}

	// Write to temp file first for atomicity
	tmpFile := ls.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write listings: %w", err)
	}

	if err := os.Rename(tmpFile, ls.filename); err != nil {
		return fmt.Errorf("failed to replace listings file: %w", err)
	}
	return nil
}

func (ls *ListingStore) Load() error {
	data, err := os.ReadFile(ls.filename)
	if err != nil {
		return err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if err := json.Unmarshal(data, &ls.listings); err != nil {
		return fmt.Errorf("failed to parse %s: %w", ls.filename, err)
	}
	return nil
}
