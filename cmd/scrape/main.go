package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/hardware-price-scraper/internal/aggregation"
	"github.com/maltedev/hardware-price-scraper/internal/app"
	"github.com/maltedev/hardware-price-scraper/internal/config"
	"github.com/maltedev/hardware-price-scraper/internal/logger"
	"github.com/maltedev/hardware-price-scraper/internal/models"
	"github.com/maltedev/hardware-price-scraper/internal/retailer"
)

func main() {
	var (
		store       = flag.String("store", retailer.DNSShopID, "Store to scrape: "+strings.Join(retailer.StoreIDs(), ", "))
		query       = flag.String("query", "", "Search query")
		categoryURL = flag.String("category-url", "", "Category page to scrape instead of the search page")
		useBrowser  = flag.Bool("browser", false, "Force the headless browser")
		aggregate   = flag.Bool("aggregate", false, "Aggregate prices across all retailers instead of a single scrape")
		categories  = flag.String("categories", "cpu", "Comma-separated categories for -aggregate")
		maxResults  = flag.Int("max-results", aggregation.DefaultMaxResults, "Maximum components per category for -aggregate")
		outOfStock  = flag.Bool("include-out-of-stock", false, "Include out-of-stock prices for -aggregate")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the JSON result
	log := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	var out any
	if *aggregate {
		out, err = runAggregate(ctx, a, *categories, *query, *maxResults, *outOfStock)
	} else {
		out, err = runScrape(ctx, a, *store, *query, *categoryURL, *useBrowser)
	}
	a.Close()
	if err != nil {
		log.Error("scrape failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Error("failed to encode result", "error", err)
		os.Exit(1)
	}
}

func runScrape(ctx context.Context, a *app.App, store, query, categoryURL string, useBrowser bool) (*models.ScrapingResult, error) {
	if strings.TrimSpace(query) == "" && strings.TrimSpace(categoryURL) == "" {
		return nil, fmt.Errorf("-query or -category-url is required")
	}

	cfg, err := retailer.Resolve(store, categoryURL, useBrowser)
	if err != nil {
		return nil, err
	}

	result := a.Scraper.Scrape(ctx, cfg, strings.TrimSpace(query))
	if !result.Success {
		a.Logger.Warn("scrape returned no products", "store", cfg.Name, "error", result.Error)
	}
	return result, nil
}

func runAggregate(ctx context.Context, a *app.App, rawCategories, query string, maxResults int, includeOutOfStock bool) ([]models.PriceComparisonResult, error) {
	opts := aggregation.Options{
		SearchQuery:       strings.TrimSpace(query),
		MaxResults:        maxResults,
		IncludeOutOfStock: includeOutOfStock,
	}
	for _, raw := range strings.Split(rawCategories, ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		c, err := models.ParseCategory(raw)
		if err != nil {
			return nil, err
		}
		opts.Categories = append(opts.Categories, c)
	}

	return a.Aggregation.AggregatePrices(ctx, opts)
}
