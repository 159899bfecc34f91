package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/hardware-price-scraper/internal/browser"
	"github.com/maltedev/hardware-price-scraper/internal/models"
	"github.com/maltedev/hardware-price-scraper/internal/parser"
	"github.com/maltedev/hardware-price-scraper/internal/ratelimit"
)

// Pauses are the waits of the browser strategy.
type Pauses struct {
	AfterBootstrap time.Duration
	AfterLoad      time.Duration
	ScrollStep     time.Duration
	AfterScroll    time.Duration
}

func DefaultPauses() Pauses {
	return Pauses{
		AfterBootstrap: time.Second,
		AfterLoad:      5 * time.Second,
		ScrollStep:     200 * time.Millisecond,
		AfterScroll:    3 * time.Second,
	}
}

type Options struct {
	UseBrowser     bool
	Proxy          *browser.Proxy
	SessionCookies map[string]string
	Pauses         Pauses
	// MaxScrollSteps bounds auto-scrolling on endless pages.
	MaxScrollSteps int
	// OnTransition observes every state change of a run.
	OnTransition func(store string, from, to State)
}

// Scraper drives fetch, parse and persist for one store page at a time.
// Concurrent Scrape calls are safe: each browser run gets its own page.
type Scraper struct {
	fetcher Fetcher
	pages   PageProvider
	store   ListingStore
	opts    Options
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	limiters map[string]*ratelimit.Limiter
}

// New wires the strategies. pages and store may be nil: browser scraping
// then fails fast and persistence is skipped.
func New(fetcher Fetcher, pages PageProvider, store ListingStore, opts Options, logger *slog.Logger) *Scraper {
	if opts.Pauses == (Pauses{}) {
		opts.Pauses = DefaultPauses()
	}
	if opts.MaxScrollSteps <= 0 {
		opts.MaxScrollSteps = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		fetcher:  fetcher,
		pages:    pages,
		store:    store,
		opts:     opts,
		logger:   logger.With("component", "scraper"),
		now:      time.Now,
		limiters: make(map[string]*ratelimit.Limiter),
	}
}

type run struct {
	s      *Scraper
	store  string
	state  State
	logger *slog.Logger
}

func (r *run) to(next State) {
	if r.s.opts.OnTransition != nil {
		r.s.opts.OnTransition(r.store, r.state, next)
	}
	r.state = next
}

func (r *run) fail(err error) *models.ScrapingResult {
	r.logger.Error("scrape failed", "phase", string(r.state), "error", err)
	r.to(StateFailed)
	return models.NewFailedResult(err)
}

// Scrape runs one store page end to end. It never returns an error: every
// failure is reported through the result envelope. Retries are up to the
// caller.
func (s *Scraper) Scrape(ctx context.Context, cfg StoreConfig, query string) (result *models.ScrapingResult) {
	r := &run{
		s:      s,
		store:  cfg.Name,
		state:  StateIdle,
		logger: s.logger.With("store", cfg.Name, "category", cfg.Category, "query", query),
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = r.fail(fmt.Errorf("scrape panicked: %v", rec))
		}
	}()

	target := cfg.TargetURL(query)
	useBrowser := s.opts.UseBrowser || cfg.RequiresBrowser

	r.to(StateFetching)
	r.logger.Info("scraping", "url", target, "browser", useBrowser)

	markup, err := s.Fetch(ctx, cfg, target)
	if err != nil {
		return r.fail(err)
	}

	r.to(StateParsing)
	products, err := s.parse(r, markup, cfg, query)
	if err != nil {
		return r.fail(err)
	}

	if len(products) > 0 && s.store != nil {
		r.to(StatePersisting)
		if err := s.store.UpsertListings(ctx, products); err != nil {
			// the page was read; callers still get what was on it
			failed := r.fail(fmt.Errorf("failed to save products: %w", err))
			failed.Products = products
			failed.TotalFound = len(products)
			return failed
		}
	}

	r.to(StateDone)
	r.logger.Info("scrape finished", "found", len(products))

	return &models.ScrapingResult{
		Products:   products,
		TotalFound: len(products),
		Success:    true,
	}
}

// Fetch loads one page with the strategy cfg calls for, spaced by the
// store's rate limit.
func (s *Scraper) Fetch(ctx context.Context, cfg StoreConfig, target string) (string, error) {
	if err := s.limiter(cfg).Wait(ctx); err != nil {
		return "", err
	}
	if s.opts.UseBrowser || cfg.RequiresBrowser {
		return s.render(ctx, cfg, target)
	}
	return s.fetcher.Get(ctx, target, cfg.Headers)
}

func (s *Scraper) parse(r *run, markup string, cfg StoreConfig, query string) ([]models.Product, error) {
	doc, err := parser.Parse(markup)
	if err != nil {
		return nil, err
	}

	items, skipped := parser.ExtractItems(doc, cfg.Selectors, cfg.BaseURL)
	for _, err := range skipped {
		r.logger.Debug("item skipped", "phase", string(StateParsing), "error", err)
	}

	now := s.now()
	products := make([]models.Product, 0, len(items))
	for _, item := range items {
		products = append(products, models.Product{
			Title:         item.Title,
			Price:         item.Price,
			RawPrice:      item.RawPrice,
			OriginalPrice: item.OriginalPrice,
			Discount:      item.Discount,
			Link:          item.Link,
			Image:         item.Image,
			Availability:  item.Availability,
			Store:         cfg.Name,
			Category:      cfg.Category,
			SearchQuery:   query,
			ScrapedAt:     now,
			UpdatedAt:     now,
		})
	}

	return products, nil
}

func (s *Scraper) limiter(cfg StoreConfig) *ratelimit.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[cfg.Name]
	if !ok {
		l = ratelimit.PerMinute(cfg.RateLimit)
		s.limiters[cfg.Name] = l
	}
	return l
}

// Close releases the browser process, if the page provider owns one.
func (s *Scraper) Close() error {
	if closer, ok := s.pages.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
