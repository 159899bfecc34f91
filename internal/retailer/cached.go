package retailer

import (
	"context"

	"github.com/maltedev/hardware-price-scraper/internal/cache"
	"github.com/maltedev/hardware-price-scraper/internal/models"
)

// CachedScraper remembers successful catalog walks of the wrapped scraper.
// Partial results (with page errors) are returned but not cached.
type CachedScraper struct {
	next  RetailerScraper
	cache *cache.MemoryCache[models.ComponentScrapeResult]
}

func NewCachedScraper(next RetailerScraper, c *cache.MemoryCache[models.ComponentScrapeResult]) *CachedScraper {
	return &CachedScraper{next: next, cache: c}
}

func (s *CachedScraper) Name() string {
	return s.next.Name()
}

func (s *CachedScraper) ScrapeComponents(ctx context.Context, opts ScrapeOptions) (*models.ComponentScrapeResult, error) {
	key := cache.GenerateKey("components", s.next.Name(), opts.Category, opts.SearchQuery, opts.MaxPages, opts.MaxResults)
	if cached, ok := s.cache.Get(key); ok {
		return &cached, nil
	}

	result, err := s.next.ScrapeComponents(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(result.Errors) == 0 {
		s.cache.Set(key, *result, 0)
	}
	return result, nil
}
