package retailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/hardware-price-scraper/internal/models"
	"github.com/maltedev/hardware-price-scraper/internal/parser"
	"github.com/maltedev/hardware-price-scraper/internal/scraper"
)

// ScrapeOptions bound one ScrapeComponents call.
type ScrapeOptions struct {
	Category    models.Category
	MaxPages    int
	MaxResults  int
	SearchQuery string
}

// RetailerScraper emits canonical components for one store.
type RetailerScraper interface {
	Name() string
	ScrapeComponents(ctx context.Context, opts ScrapeOptions) (*models.ComponentScrapeResult, error)
}

// PageFetcher loads one listing page, picking HTTP or browser per store.
// *scraper.Scraper satisfies it.
type PageFetcher interface {
	Fetch(ctx context.Context, cfg scraper.StoreConfig, target string) (string, error)
}

// Catalog describes how a store lays out its category listings.
type Catalog struct {
	ID            string
	Store         scraper.StoreConfig
	CategoryPaths map[models.Category]string
	SearchParam   string
	PageParam     string
	Currency      string
}

func DNSShopCatalog() Catalog {
	return Catalog{
		ID:    DNSShopID,
		Store: DNSShop(),
		CategoryPaths: map[models.Category]string{
			models.CategoryCPU:         "/catalog/17a8a01d16404e77/processory/",
			models.CategoryGPU:         "/catalog/17a89aab16404e77/videokarty/",
			models.CategoryMotherboard: "/catalog/17a8a11916404e77/materinskie-platy/",
			models.CategoryRAM:         "/catalog/17a8a12f16404e77/operativnaya-pamyat/",
			models.CategoryStorage:     "/catalog/17a8a1d816404e77/nakopiteli/",
			models.CategoryPSU:         "/catalog/17a8a20b16404e77/bloki-pitaniya/",
			models.CategoryCase:        "/catalog/17a8a21716404e77/korpusa/",
			models.CategoryCooler:      "/catalog/17a8a1ab16404e77/sistemy-okhlazhdeniya/",
			models.CategoryMonitor:     "/catalog/17a8a37e16404e77/monitory/",
			models.CategoryKeyboard:    "/catalog/17a8a40516404e77/klaviatury/",
			models.CategoryMouse:       "/catalog/17a8a41916404e77/myshi/",
		},
		SearchParam: "q",
		PageParam:   "p",
		Currency:    "RUB",
	}
}

func CitilinkCatalog() Catalog {
	return Catalog{
		ID:    CitilinkID,
		Store: Citilink(),
		CategoryPaths: map[models.Category]string{
			models.CategoryCPU:         "/catalog/processory/",
			models.CategoryGPU:         "/catalog/videokarty/",
			models.CategoryMotherboard: "/catalog/materinskie-platy/",
			models.CategoryRAM:         "/catalog/moduli-pamyati/",
			models.CategoryStorage:     "/catalog/ssd-nakopiteli/",
			models.CategoryPSU:         "/catalog/bloki-pitaniya/",
			models.CategoryCase:        "/catalog/korpusa/",
			models.CategoryCooler:      "/catalog/sistemy-ohlazhdeniya-processora/",
			models.CategoryMonitor:     "/catalog/monitory/",
			models.CategoryKeyboard:    "/catalog/klaviatury/",
			models.CategoryMouse:       "/catalog/myshi/",
		},
		SearchParam: "text",
		PageParam:   "p",
		Currency:    "RUB",
	}
}

// PageURL builds the listing URL for category, 1-based page and query.
func (c Catalog) PageURL(category models.Category, page int, query string) (string, error) {
	path, ok := c.CategoryPaths[category]
	if !ok {
		return "", fmt.Errorf("%s has no %s catalog", c.Store.Name, category)
	}

	u, err := url.Parse(c.Store.BaseURL + path)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	if page > 1 {
		q.Set(c.PageParam, strconv.Itoa(page))
	}
	if query = strings.TrimSpace(query); query != "" {
		q.Set(c.SearchParam, query)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// CatalogScraper walks category listing pages of one store.
type CatalogScraper struct {
	catalog Catalog
	pages   PageFetcher
	logger  *slog.Logger
	now     func() time.Time
}

func NewCatalogScraper(catalog Catalog, pages PageFetcher, logger *slog.Logger) *CatalogScraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogScraper{
		catalog: catalog,
		pages:   pages,
		logger:  logger.With("component", "catalog_scraper", "store", catalog.Store.Name),
		now:     time.Now,
	}
}

func (s *CatalogScraper) Name() string {
	return s.catalog.Store.Name
}

// ScrapeComponents reads up to MaxPages listing pages. A failing page is
// recorded in Errors and the walk continues; the call only fails when no
// page produced anything or ctx ends.
func (s *CatalogScraper) ScrapeComponents(ctx context.Context, opts ScrapeOptions) (*models.ComponentScrapeResult, error) {
	if opts.Category == "" {
		opts.Category = models.CategoryCPU
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}

	result := &models.ComponentScrapeResult{
		Components: []models.PCComponent{},
		Timestamp:  s.now(),
		Source:     s.Name(),
		Errors:     []string{},
	}

	logger := s.logger.With("category", string(opts.Category), "query", opts.SearchQuery)

	for page := 1; page <= opts.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		target, err := s.catalog.PageURL(opts.Category, page, opts.SearchQuery)
		if err != nil {
			return result, err
		}

		logger.Info("scraping catalog page", "page", page, "url", target)

		markup, err := s.pages.Fetch(ctx, s.catalog.Store, target)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return result, err
			}
			logger.Error("catalog page failed", "phase", string(scraper.StateFetching), "page", page, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("page %d: %v", page, err))
			continue
		}

		components, err := s.parsePage(logger, markup, opts.Category)
		if err != nil {
			logger.Error("catalog page failed", "phase", string(scraper.StateParsing), "page", page, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("page %d: %v", page, err))
			continue
		}

		result.Components = append(result.Components, components...)
		if opts.MaxResults > 0 && len(result.Components) >= opts.MaxResults {
			result.Components = result.Components[:opts.MaxResults]
			break
		}
	}

	if len(result.Components) == 0 && len(result.Errors) > 0 {
		return result, fmt.Errorf("%s: %s", s.Name(), strings.Join(result.Errors, "; "))
	}

	logger.Info("catalog scraped", "components", len(result.Components), "errors", len(result.Errors))
	return result, nil
}

func (s *CatalogScraper) parsePage(logger *slog.Logger, markup string, category models.Category) ([]models.PCComponent, error) {
	doc, err := parser.Parse(markup)
	if err != nil {
		return nil, err
	}

	items, skipped := parser.ExtractItems(doc, s.catalog.Store.Selectors, s.catalog.Store.BaseURL)
	for _, err := range skipped {
		logger.Debug("item skipped", "phase", string(scraper.StateParsing), "error", err)
	}

	now := s.now()
	components := make([]models.PCComponent, 0, len(items))
	for _, item := range items {
		c := s.toComponent(item, category, now)
		if !c.IsValid() {
			continue
		}
		components = append(components, c)
	}
	return components, nil
}

func (s *CatalogScraper) toComponent(item parser.Item, category models.Category, now time.Time) models.PCComponent {
	name, specs := SplitSpecifications(item.Title)
	brand := ExtractBrand(name)

	return models.PCComponent{
		ID:             fmt.Sprintf("%s-%s-%s", s.catalog.ID, category, uuid.NewString()),
		Name:           name,
		Brand:          brand,
		Model:          ExtractModel(name, brand),
		Category:       category,
		ImageURL:       item.Image,
		Specifications: specs,
		Prices: []models.Price{{
			Value:        item.Price,
			Currency:     s.catalog.Currency,
			Retailer:     s.Name(),
			URL:          item.Link,
			Availability: ParseAvailability(item.Availability),
			LastUpdated:  now,
		}},
	}
}
