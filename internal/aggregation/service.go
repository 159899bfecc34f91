package aggregation

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/maltedev/hardware-price-scraper/internal/cache"
	"github.com/maltedev/hardware-price-scraper/internal/models"
	"github.com/maltedev/hardware-price-scraper/internal/retailer"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxResults  = 20
	DefaultCacheTTL    = 30 * time.Minute
	DefaultConcurrency = 4
)

type Options struct {
	Categories        []models.Category
	MaxResults        int
	SearchQuery       string
	IncludeOutOfStock bool
}

type Config struct {
	CacheTTL            time.Duration
	Concurrency         int
	SimilarityThreshold float64
}

// Service fans out to every registered retailer, merges near-duplicate
// components and caches the comparison per category.
type Service struct {
	cache  *cache.MemoryCache[models.PriceComparisonResult]
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	retailers []retailer.RetailerScraper
}

func NewService(c *cache.MemoryCache[models.PriceComparisonResult], cfg Config, logger *slog.Logger) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:  c,
		cfg:    cfg,
		logger: logger.With("component", "price_aggregation"),
		now:    time.Now,
	}
}

func (s *Service) Register(r retailer.RetailerScraper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retailers = append(s.retailers, r)
}

func (s *Service) Retailers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.retailers))
	for _, r := range s.retailers {
		names = append(names, r.Name())
	}
	return names
}

// CacheKey identifies one category comparison.
func CacheKey(category models.Category, opts Options) string {
	return cache.GenerateKey("price", category, opts.SearchQuery, opts.MaxResults, opts.IncludeOutOfStock)
}

// AggregatePrices returns one comparison per category. Retailer failures
// only shrink the sources of the affected category; the call itself fails
// only when ctx ends.
func (s *Service) AggregatePrices(ctx context.Context, opts Options) ([]models.PriceComparisonResult, error) {
	if len(opts.Categories) == 0 {
		opts.Categories = []models.Category{models.CategoryCPU}
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}

	results := make([]models.PriceComparisonResult, 0, len(opts.Categories))
	for _, category := range opts.Categories {
		key := CacheKey(category, opts)
		if cached, ok := s.cache.Get(key); ok {
			s.logger.Debug("cache hit", "key", key)
			results = append(results, cached)
			continue
		}

		result, err := s.aggregateCategory(ctx, category, opts)
		if err != nil {
			return nil, err
		}
		if len(result.Sources) > 0 {
			s.cache.Set(key, result, s.cfg.CacheTTL)
		}
		results = append(results, result)
	}

	return results, nil
}

func (s *Service) aggregateCategory(ctx context.Context, category models.Category, opts Options) (models.PriceComparisonResult, error) {
	s.mu.RLock()
	retailers := append([]retailer.RetailerScraper(nil), s.retailers...)
	s.mu.RUnlock()

	logger := s.logger.With("category", string(category), "query", opts.SearchQuery)

	result := models.PriceComparisonResult{
		Query:     opts.SearchQuery,
		Category:  category,
		Results:   []models.AggregatedPrice{},
		Timestamp: s.now(),
		Sources:   []string{},
	}
	if len(retailers) == 0 {
		return result, nil
	}

	perRetailer := (opts.MaxResults + len(retailers) - 1) / len(retailers)
	scraped := make([]*models.ComponentScrapeResult, len(retailers))

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for i, r := range retailers {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("retailer panicked", "store", r.Name(), "panic", rec)
				}
			}()

			res, err := r.ScrapeComponents(ctx, retailer.ScrapeOptions{
				Category:    category,
				MaxPages:    1,
				MaxResults:  perRetailer,
				SearchQuery: opts.SearchQuery,
			})
			if err != nil {
				logger.Error("retailer failed", "store", r.Name(), "error", err)
				return nil
			}
			scraped[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	var components []models.PCComponent
	for i, res := range scraped {
		if res == nil {
			continue
		}
		result.Sources = append(result.Sources, retailers[i].Name())
		components = append(components, res.Components...)
	}

	groups := GroupSimilarComponents(components, s.cfg.SimilarityThreshold)
	aggregated := AggregateComponentPrices(groups, opts.IncludeOutOfStock)

	sort.SliceStable(aggregated, func(i, j int) bool {
		return aggregated[i].LowestPrice.Value < aggregated[j].LowestPrice.Value
	})

	result.TotalFound = len(aggregated)
	if len(aggregated) > opts.MaxResults {
		aggregated = aggregated[:opts.MaxResults]
	}
	result.Results = aggregated

	logger.Info("prices aggregated",
		"components", len(components),
		"groups", len(groups),
		"results", len(result.Results),
		"sources", result.Sources,
	)

	return result, nil
}

func (s *Service) ClearCache() {
	s.cache.Clear()
}

func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}
