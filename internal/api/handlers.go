package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/hardware-price-scraper/internal/aggregation"
	"github.com/maltedev/hardware-price-scraper/internal/cache"
	"github.com/maltedev/hardware-price-scraper/internal/events"
	"github.com/maltedev/hardware-price-scraper/internal/jobs"
	"github.com/maltedev/hardware-price-scraper/internal/models"
	"github.com/maltedev/hardware-price-scraper/internal/retailer"
	"github.com/maltedev/hardware-price-scraper/internal/scraper"
)

const maxResultsLimit = 100

// PriceAggregator is implemented by *aggregation.Service.
type PriceAggregator interface {
	AggregatePrices(ctx context.Context, opts aggregation.Options) ([]models.PriceComparisonResult, error)
	ClearCache()
	CacheStats() cache.Stats
	Retailers() []string
}

// JobManager is implemented by *jobs.Manager.
type JobManager interface {
	CreateJob(ctx context.Context, req jobs.Request) (*jobs.Job, error)
	GetJob(id string) (*jobs.Job, error)
	ListJobs() []jobs.Job
	GetStats() jobs.Stats
}

// OutboxMonitor is implemented by *database.Relay.
type OutboxMonitor interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

// ActivityReporter is implemented by *events.ActivityTracker.
type ActivityReporter interface {
	Snapshot() []events.StoreActivity
}

type Dependencies struct {
	Prices    PriceAggregator
	Responses *cache.MemoryCache[PricesResponse]
	Scraper   jobs.Scraper
	Jobs      JobManager
	// Outbox is nil when the database is disabled.
	Outbox   OutboxMonitor
	Activity ActivityReporter
}

type Handlers struct {
	deps   Dependencies
	logger *slog.Logger
}

func NewHandlers(deps Dependencies, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		deps:   deps,
		logger: logger.With("component", "api"),
	}
}

type PriceFilters struct {
	MinPrice    float64  `json:"minPrice,omitempty"`
	MaxPrice    float64  `json:"maxPrice,omitempty"`
	Brands      []string `json:"brands,omitempty"`
	InStockOnly bool     `json:"inStockOnly,omitempty"`
}

type PricesRequest struct {
	Categories        []string      `json:"categories"`
	SearchQuery       string        `json:"searchQuery"`
	MaxResults        int           `json:"maxResults"`
	IncludeOutOfStock bool          `json:"includeOutOfStock"`
	Filters           *PriceFilters `json:"filters,omitempty"`
}

type PricesMeta struct {
	TotalComponents     int       `json:"totalComponents"`
	CategoriesProcessed int       `json:"categoriesProcessed"`
	Sources             []string  `json:"sources"`
	Cached              bool      `json:"cached"`
	Timestamp           time.Time `json:"timestamp"`
}

type PricesResponse struct {
	Success bool                          `json:"success"`
	Data    []models.PriceComparisonResult `json:"data"`
	Meta    PricesMeta                    `json:"meta"`
}

// options validates the request and converts it to aggregation options.
func (req PricesRequest) options() (aggregation.Options, error) {
	opts := aggregation.Options{
		SearchQuery:       strings.TrimSpace(req.SearchQuery),
		MaxResults:        req.MaxResults,
		IncludeOutOfStock: req.IncludeOutOfStock,
	}

	for _, raw := range req.Categories {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		c, err := models.ParseCategory(raw)
		if err != nil {
			return opts, err
		}
		opts.Categories = append(opts.Categories, c)
	}
	if len(opts.Categories) == 0 {
		opts.Categories = []models.Category{models.CategoryCPU}
	}

	if opts.MaxResults == 0 {
		opts.MaxResults = aggregation.DefaultMaxResults
	}
	if opts.MaxResults < 1 || opts.MaxResults > maxResultsLimit {
		return opts, fmt.Errorf("maxResults must be between 1 and %d", maxResultsLimit)
	}

	if f := req.Filters; f != nil {
		if f.MinPrice < 0 || f.MaxPrice < 0 {
			return opts, errors.New("price filters must not be negative")
		}
		if f.MaxPrice > 0 && f.MinPrice > f.MaxPrice {
			return opts, errors.New("minPrice must not exceed maxPrice")
		}
	}

	return opts, nil
}

// GetPrices handles GET /api/v1/prices?categories=cpu,gpu&search=&maxResults=&includeOutOfStock=
func (h *Handlers) GetPrices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := PricesRequest{
		Categories:  strings.Split(q.Get("categories"), ","),
		SearchQuery: q.Get("search"),
	}

	if v := q.Get("maxResults"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			WriteBadRequest(w, "maxResults must be an integer", r.URL.Path)
			return
		}
		req.MaxResults = n
	}
	if v := q.Get("includeOutOfStock"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteBadRequest(w, "includeOutOfStock must be a boolean", r.URL.Path)
			return
		}
		req.IncludeOutOfStock = b
	}

	h.servePrices(w, r, req)
}

// PostPrices handles POST /api/v1/prices with a JSON PricesRequest.
func (h *Handlers) PostPrices(w http.ResponseWriter, r *http.Request) {
	var req PricesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body", r.URL.Path)
		return
	}
	h.servePrices(w, r, req)
}

func (h *Handlers) servePrices(w http.ResponseWriter, r *http.Request, req PricesRequest) {
	opts, err := req.options()
	if err != nil {
		WriteBadRequest(w, err.Error(), r.URL.Path)
		return
	}

	key := responseKey(opts, req.Filters)
	if h.deps.Responses != nil {
		if cached, ok := h.deps.Responses.Get(key); ok {
			cached.Meta.Cached = true
			h.respondJSON(w, http.StatusOK, cached)
			return
		}
	}

	results, err := h.deps.Prices.AggregatePrices(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to aggregate prices", "error", err)
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}

	resp := buildPricesResponse(ApplyFilters(results, req.Filters), time.Now())
	if h.deps.Responses != nil && len(resp.Meta.Sources) > 0 {
		h.deps.Responses.Set(key, resp, 0)
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func responseKey(opts aggregation.Options, filters *PriceFilters) string {
	categories := make([]string, len(opts.Categories))
	for i, c := range opts.Categories {
		categories[i] = string(c)
	}
	return cache.GenerateKey("prices", categories, opts.SearchQuery, opts.MaxResults, opts.IncludeOutOfStock, filters)
}

func buildPricesResponse(results []models.PriceComparisonResult, now time.Time) PricesResponse {
	meta := PricesMeta{
		CategoriesProcessed: len(results),
		Sources:             []string{},
		Timestamp:           now,
	}
	seen := map[string]struct{}{}
	for _, r := range results {
		meta.TotalComponents += len(r.Results)
		for _, s := range r.Sources {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				meta.Sources = append(meta.Sources, s)
			}
		}
	}
	return PricesResponse{Success: true, Data: results, Meta: meta}
}

// ApplyFilters narrows every comparison to the aggregated prices matching f.
// The input is not modified.
func ApplyFilters(results []models.PriceComparisonResult, f *PriceFilters) []models.PriceComparisonResult {
	if f == nil {
		return results
	}

	out := make([]models.PriceComparisonResult, len(results))
	for i, r := range results {
		kept := make([]models.AggregatedPrice, 0, len(r.Results))
		for _, a := range r.Results {
			if f.matches(a) {
				kept = append(kept, a)
			}
		}
		r.Results = kept
		out[i] = r
	}
	return out
}

func (f *PriceFilters) matches(a models.AggregatedPrice) bool {
	price := a.LowestPrice.Value
	if f.MinPrice > 0 && price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && price > f.MaxPrice {
		return false
	}
	if f.InStockOnly && a.LowestPrice.Availability != models.InStock {
		return false
	}
	if len(f.Brands) == 0 {
		return true
	}
	for _, b := range f.Brands {
		if strings.EqualFold(strings.TrimSpace(b), a.Component.Brand) {
			return true
		}
	}
	return false
}

type ScrapeRequest struct {
	Store       string `json:"store"`
	Query       string `json:"query"`
	CategoryURL string `json:"categoryUrl,omitempty"`
	UseBrowser  bool   `json:"useBrowser,omitempty"`
}

// Scrape handles POST /api/v1/scrape: one orchestrated scrape, answered with
// the ScrapingResult envelope whether or not it succeeded.
func (h *Handlers) Scrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body", r.URL.Path)
		return
	}
	if strings.TrimSpace(req.Query) == "" && strings.TrimSpace(req.CategoryURL) == "" {
		WriteBadRequest(w, "query or categoryUrl is required", r.URL.Path)
		return
	}

	cfg, err := retailer.Resolve(req.Store, req.CategoryURL, req.UseBrowser)
	if err != nil {
		WriteBadRequest(w, err.Error(), r.URL.Path)
		return
	}

	result := h.deps.Scraper.Scrape(r.Context(), cfg, strings.TrimSpace(req.Query))
	if !result.Success {
		h.logger.Warn("scrape failed", "store", cfg.Name, "query", req.Query, "error", result.Error)
	}
	h.respondJSON(w, http.StatusOK, result)
}

// CreateJob handles POST /api/v1/jobs
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body", r.URL.Path)
		return
	}

	job, err := h.deps.Jobs.CreateJob(r.Context(), req)
	if err != nil {
		if errors.Is(err, scraper.ErrUnknownStore) || errors.Is(err, jobs.ErrQueryMissing) {
			WriteBadRequest(w, err.Error(), r.URL.Path)
			return
		}
		h.logger.Error("failed to create job", "error", err)
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}

	h.respondJSON(w, http.StatusCreated, job)
}

// GetJob handles GET /api/v1/jobs/{jobID}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.deps.Jobs.GetJob(chi.URLParam(r, "jobID"))
	if err != nil {
		WriteNotFound(w, err.Error(), r.URL.Path)
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.deps.Jobs.ListJobs())
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.deps.Jobs.GetStats())
}

// ListRetailers reports the stores available for one-off scrapes and the
// retailers fanned out to during aggregation.
func (h *Handlers) ListRetailers(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"stores":      retailer.StoreIDs(),
		"aggregation": h.deps.Prices.Retailers(),
		"categories":  models.AllCategories(),
	})
}

// GetActivity handles GET /api/v1/activity: per-store listings batches seen
// on the event stream.
func (h *Handlers) GetActivity(w http.ResponseWriter, r *http.Request) {
	activity := []events.StoreActivity{}
	if h.deps.Activity != nil {
		activity = h.deps.Activity.Snapshot()
	}
	h.respondJSON(w, http.StatusOK, activity)
}

// GetCacheStats handles GET /api/v1/cache/stats
func (h *Handlers) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]cache.Stats{
		"aggregation": h.deps.Prices.CacheStats(),
	}
	if h.deps.Responses != nil {
		stats["responses"] = h.deps.Responses.Stats()
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// ClearCache handles DELETE /api/v1/cache
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.deps.Prices.ClearCache()
	if h.deps.Responses != nil {
		h.deps.Responses.Clear()
	}
	h.logger.Info("caches cleared")
	w.WriteHeader(http.StatusNoContent)
}

// Health reports ok unless the outbox backs up.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.deps.Outbox != nil {
		pending, pendingErr := h.deps.Outbox.PendingCount(r.Context())
		deadLetter, deadErr := h.deps.Outbox.DeadLetterCount(r.Context())
		health["outbox"] = map[string]any{
			"pending":     pending,
			"dead_letter": deadLetter,
		}

		switch {
		case pendingErr != nil || deadErr != nil:
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			status = http.StatusServiceUnavailable
		case deadLetter > 100:
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		case pending > 1000:
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
