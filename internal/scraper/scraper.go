package scraper

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/maltedev/hardware-price-scraper/internal/browser"
	"github.com/maltedev/hardware-price-scraper/internal/models"
	"github.com/maltedev/hardware-price-scraper/internal/parser"
)

var (
	ErrProtectionDetected = errors.New("anti-bot protection detected")
	ErrUnknownStore       = errors.New("unknown store")
	ErrBrowserUnavailable = errors.New("browser scraping is not configured")
)

// State is the phase a scrape run is in.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateParsing    State = "parsing"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// StoreConfig is the static description of one retailer listing page.
type StoreConfig struct {
	Name    string
	BaseURL string
	// SearchURL may contain a {query} placeholder. Without one it is used
	// as is, which is how category pages are configured.
	SearchURL       string
	Category        string
	Selectors       parser.Selectors
	Headers         map[string]string
	RateLimit       int // requests per minute
	RequiresBrowser bool
}

// TargetURL builds the page to scrape for query.
func (c StoreConfig) TargetURL(query string) string {
	if c.SearchURL == "" {
		return c.BaseURL
	}
	if !strings.Contains(c.SearchURL, "{query}") {
		return c.SearchURL
	}
	if strings.TrimSpace(query) == "" {
		return c.BaseURL
	}
	return strings.ReplaceAll(c.SearchURL, "{query}", url.QueryEscape(query))
}

// Fetcher is the plain HTTP strategy.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, headers map[string]string) (string, error)
}

// PageProvider is the headless browser strategy.
type PageProvider interface {
	NewStealthPage(ctx context.Context, opts browser.PageOptions) (*browser.Page, error)
}

// ListingStore is the persistence collaborator: an idempotent upsert keyed
// by (link, store).
type ListingStore interface {
	UpsertListings(ctx context.Context, products []models.Product) error
}

type userAgentSource interface {
	UserAgent() string
}
