package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/hardware-price-scraper/internal/api"
	"github.com/maltedev/hardware-price-scraper/internal/app"
	"github.com/maltedev/hardware-price-scraper/internal/cache"
	"github.com/maltedev/hardware-price-scraper/internal/config"
	"github.com/maltedev/hardware-price-scraper/internal/jobs"
	"github.com/maltedev/hardware-price-scraper/internal/logger"
	"github.com/maltedev/hardware-price-scraper/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("starting hardware price scraper")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	go a.StartRelay(ctx)
	go a.StartConsumer(ctx)

	q := queue.NewInMemoryQueue()
	manager := jobs.NewManager(q, a.Scraper, jobs.Config{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Scraper.MaxRetries,
		RetryBase:  cfg.Jobs.RetryBase,
	}, log)
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		manager.Start(ctx)
	}()

	responses := cache.NewPriceCache[api.PricesResponse](cfg.Cache.PriceTTL, cfg.Cache.PriceMaxSize, log)
	defer responses.Close()

	deps := api.Dependencies{
		Prices:    a.Aggregation,
		Responses: responses,
		Scraper:   a.Scraper,
		Jobs:      manager,
		Activity:  a.Activity,
	}
	if a.Relay != nil {
		deps.Outbox = a.Relay
	}

	server := &http.Server{
		Addr: net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: api.NewRouter(api.NewHandlers(deps, log), api.RouterConfig{
			Timeout: cfg.Server.WriteTimeout,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}

		q.Close()
		cancel()
	}()

	log.Info("server starting", "addr", server.Addr, "browser", cfg.Browser.Enabled, "database", cfg.Database.Enabled)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		cancel()
		q.Close()
		<-workersDone
		a.Close()
		os.Exit(1)
	}

	<-workersDone
	log.Info("server stopped")
}
