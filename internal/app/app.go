package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maltedev/hardware-price-scraper/internal/aggregation"
	"github.com/maltedev/hardware-price-scraper/internal/browser"
	"github.com/maltedev/hardware-price-scraper/internal/cache"
	"github.com/maltedev/hardware-price-scraper/internal/config"
	"github.com/maltedev/hardware-price-scraper/internal/database"
	"github.com/maltedev/hardware-price-scraper/internal/events"
	"github.com/maltedev/hardware-price-scraper/internal/httpclient"
	"github.com/maltedev/hardware-price-scraper/internal/models"
	"github.com/maltedev/hardware-price-scraper/internal/retailer"
	"github.com/maltedev/hardware-price-scraper/internal/scraper"
	"github.com/maltedev/hardware-price-scraper/internal/storage"
	"github.com/redis/go-redis/v9"
)

// App is the wired component graph shared by the server and the CLI.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Scraper     *scraper.Scraper
	Aggregation *aggregation.Service
	Components  *cache.MemoryCache[models.ComponentScrapeResult]
	Prices      *cache.MemoryCache[models.PriceComparisonResult]

	// Set only when the database is enabled.
	DB *database.DB
	// Set only when both the database and Redis are enabled.
	Relay    *database.Relay
	Consumer *events.Consumer
	Activity *events.ActivityTracker

	browser *browser.Manager
	redis   *redis.Client
}

// New connects every collaborator described by cfg. Optional parts (browser,
// database, Redis) are skipped when disabled.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, Activity: events.NewActivityTracker()}

	client, err := httpclient.New(HTTPOptions(cfg, logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	// interface values stay nil unless the optional part is configured
	var pages scraper.PageProvider
	if cfg.Browser.Enabled {
		a.browser, err = browser.NewManager(BrowserOptions(cfg, logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create browser manager: %w", err)
		}
		pages = a.browser
	}

	var store scraper.ListingStore
	if cfg.Database.Enabled {
		if err := a.connectDatabase(ctx); err != nil {
			a.Close()
			return nil, err
		}
		store = database.NewListingRepository(a.DB, logger)
	} else {
		fileStore, err := storage.NewListingStore(cfg.Cache.ListingsStorePath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open listing store: %w", err)
		}
		store = fileStore
	}

	a.Scraper = scraper.New(client, pages, store, ScraperOptions(cfg), logger)

	a.Components = cache.NewComponentCache[models.ComponentScrapeResult](cfg.Cache.ComponentTTL, cfg.Cache.ComponentMaxSize, logger)
	a.Prices = cache.NewGeneralCache[models.PriceComparisonResult](cfg.Cache.GeneralTTL, cfg.Cache.GeneralMaxSize, logger)

	a.Aggregation = aggregation.NewService(a.Prices, aggregation.Config{
		CacheTTL:    cfg.Cache.GeneralTTL,
		Concurrency: cfg.Scraper.ConcurrentLimit,
	}, logger)
	for _, catalog := range []retailer.Catalog{retailer.DNSShopCatalog(), retailer.CitilinkCatalog()} {
		next := retailer.NewCatalogScraper(catalog, a.Scraper, logger)
		a.Aggregation.Register(retailer.NewCachedScraper(next, a.Components))
	}

	return a, nil
}

func (a *App) connectDatabase(ctx context.Context) error {
	cfg := a.Config

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	if !cfg.Redis.Enabled {
		a.Logger.Warn("redis disabled, outbox events stay pending")
		return nil
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	a.Relay = database.NewRelay(database.NewOutboxRepository(db), a.redis, a.Logger, database.RelayConfig{
		PollInterval: cfg.Jobs.PollInterval,
		Retention:    cfg.Database.OutboxRetention,
		StreamMaxLen: cfg.Redis.StreamMaxLen,
	})
	a.Consumer = events.NewConsumer(a.redis, a.Activity.Handle, events.ConsumerConfig{}, a.Logger)
	return nil
}

// StartRelay runs the outbox relay until ctx ends. It returns immediately
// when no relay is configured.
func (a *App) StartRelay(ctx context.Context) {
	if a.Relay == nil {
		return
	}
	if err := a.Relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("relay stopped with error", "error", err)
	}
}

// StartConsumer follows the listings stream until ctx ends. It returns
// immediately when Redis is not configured.
func (a *App) StartConsumer(ctx context.Context) {
	if a.Consumer == nil {
		return
	}
	if err := a.Consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("listings consumer stopped with error", "error", err)
	}
}

// Close releases everything New acquired. It is safe on a partially built App.
func (a *App) Close() {
	if a.Components != nil {
		a.Components.Close()
	}
	if a.Prices != nil {
		a.Prices.Close()
	}
	// the scraper owns the browser once wired
	if a.Scraper != nil {
		if err := a.Scraper.Close(); err != nil {
			a.Logger.Error("failed to close scraper", "error", err)
		}
	} else if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.Logger.Error("failed to close browser", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Error("failed to close redis", "error", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// HTTPOptions maps the scraper settings onto the HTTP client.
func HTTPOptions(cfg *config.Config, logger *slog.Logger) httpclient.Options {
	opts := httpclient.Options{
		Delay:           cfg.Scraper.Delay,
		Timeout:         cfg.Scraper.Timeout,
		RotateUserAgent: cfg.Scraper.RotateUserAgent,
		UserAgents:      cfg.Scraper.UserAgents,
		SessionCookies:  cfg.Scraper.Cookies(),
		AcceptLanguage:  cfg.Browser.AcceptLanguage,
		Logger:          logger,
	}
	if p := cfg.Scraper.Proxy; p.Enabled() {
		opts.Proxy = &httpclient.ProxyConfig{
			Host:     p.Host,
			Port:     p.Port,
			Protocol: p.Protocol,
			Username: p.Username,
			Password: p.Password,
		}
	}
	return opts
}

func BrowserOptions(cfg *config.Config, logger *slog.Logger) browser.Options {
	opts := browser.Options{
		ExecutablePath: cfg.Browser.ExecutablePath,
		Headless:       cfg.Browser.Headless,
		Args:           cfg.Browser.Args,
		UserDataDir:    cfg.Browser.UserDataDir,
		Timeout:        cfg.Browser.Timeout,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		AcceptLanguage: cfg.Browser.AcceptLanguage,
		Locale:         cfg.Browser.Locale,
		Logger:         logger,
	}
	if len(cfg.Scraper.UserAgents) > 0 {
		opts.UserAgent = cfg.Scraper.UserAgents[0]
	}
	return opts
}

func ScraperOptions(cfg *config.Config) scraper.Options {
	opts := scraper.Options{
		UseBrowser:     cfg.Scraper.UseBrowser,
		SessionCookies: cfg.Scraper.Cookies(),
	}
	if p := cfg.Scraper.Proxy; p.Enabled() {
		opts.Proxy = &browser.Proxy{
			Server:   browser.ProxyServer(p.Protocol, p.Host, p.Port),
			Username: p.Username,
			Password: p.Password,
		}
	}
	return opts
}
