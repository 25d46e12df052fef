// Package app wires the dispatch engine together: storage, services,
// dispatcher, scheduler, metrics and the HTTP API.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ostrix/blastd/internal/account"
	"github.com/ostrix/blastd/internal/api"
	"github.com/ostrix/blastd/internal/audience"
	"github.com/ostrix/blastd/internal/campaign"
	"github.com/ostrix/blastd/internal/config"
	"github.com/ostrix/blastd/internal/dispatch"
	"github.com/ostrix/blastd/internal/ingest"
	"github.com/ostrix/blastd/internal/metrics"
	"github.com/ostrix/blastd/internal/provider"
	"github.com/ostrix/blastd/internal/ratelimit"
	"github.com/ostrix/blastd/internal/sched"
	"github.com/ostrix/blastd/internal/store"
)

// App is the main application
type App struct {
	config        *config.Config
	db            *store.DB
	counters      *bolt.DB
	rateLimiter   *ratelimit.Limiter
	dispatcher    *dispatch.Dispatcher
	scheduler     *sched.Scheduler
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	// Open stores
	db, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	counters, err := openCounters(cfg.Storage.CountersPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open counters store: %w", err)
	}

	// Rate limiter
	var limiterDB *bolt.DB
	var limiterCfg *ratelimit.Config
	if cfg.RateLimit.Enabled {
		limiterDB = counters
		limiterCfg = &cfg.RateLimit.Limits
		logger.Info("rate limiting enabled")
	}
	rateLimiter, err := ratelimit.NewLimiter(limiterDB, limiterCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	// Credential crypto
	key, err := cfg.CryptoKey()
	if err != nil {
		return nil, err
	}
	crypto, err := account.NewCrypto(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential crypto: %w", err)
	}

	// Outbound provider
	sandbox := provider.NewSandbox(logger.With("component", "provider"))
	if cfg.Provider.ErrorRate > 0 {
		sandbox.SetErrorRate(cfg.Provider.ErrorRate)
		logger.Info("sandbox provider error injection enabled", "rate", cfg.Provider.ErrorRate)
	}

	// Services
	accounts := account.NewService(db, crypto, logger.With("component", "accounts"))
	resolver := audience.NewResolver(db, nil, logger.With("component", "audience"))
	campaigns := campaign.NewService(db, resolver, sandbox, logger.With("component", "campaigns"))
	importer := ingest.NewService(db, logger.With("component", "ingest"))

	dispatcher := dispatch.New(db, accounts, sandbox, rateLimiter,
		logger.With("component", "dispatch"), cfg.Dispatch)

	scheduler, err := sched.New(accounts, dispatcher, cfg.Scheduler, logger.With("component", "sched"))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	// Metrics
	var (
		metricsServer *metrics.Server
		collector     *metrics.Collector
	)
	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)

		collector, err = metrics.NewCollector(counters, m, &dispatchStats{db: db},
			cfg.Storage.DatabasePath, cfg.Metrics.FlushInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}
		metrics.SetGlobalCollector(collector)

		metricsServer = metrics.NewServerWithAllowedIPs(m,
			cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs,
			logger.With("component", "metrics"))
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr, "path", cfg.Metrics.Path)
	}

	apiServer := api.NewServer(api.Deps{
		DB:                 db,
		Accounts:           accounts,
		Campaigns:          campaigns,
		Ingest:             importer,
		DefaultCountryCode: cfg.Ingest.DefaultCountryCode,
		Config:             &cfg.API,
		Logger:             logger.With("component", "api"),
	})

	return &App{
		config:        cfg,
		db:            db,
		counters:      counters,
		rateLimiter:   rateLimiter,
		dispatcher:    dispatcher,
		scheduler:     scheduler,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		collector:     collector,
		logger:        logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting blastd",
		"hostname", a.config.Server.Hostname,
		"api_addr", a.config.API.ListenAddr,
		"database", a.config.Storage.DatabasePath,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.dispatcher.Start(ctx)
	a.scheduler.Start()
	if a.collector != nil {
		a.collector.Start(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop claiming and sending first so recipients settle before the
	// stores close.
	a.dispatcher.Stop()
	a.scheduler.Stop()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if a.collector != nil {
		metrics.SetGlobalCollector(nil)
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	// Persists quota counters
	if err := a.rateLimiter.Stop(); err != nil {
		a.logger.Error("rate limiter stop error", "error", err)
	}

	if err := a.counters.Close(); err != nil {
		a.logger.Error("counters store close error", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// openCounters opens the bbolt file shared by the rate limiter and the
// metrics collector.
func openCounters(path string) (*bolt.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
}

// dispatchStats reports the delivery backlog for the metrics gauges
type dispatchStats struct {
	db *store.DB
}

func (s *dispatchStats) DispatchStats(ctx context.Context) (*metrics.DispatchStats, error) {
	stats := &metrics.DispatchStats{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaigns WHERE status IN ('queued', 'sending')`,
	).Scan(&stats.ActiveCampaigns)
	if err != nil {
		return nil, err
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_recipients WHERE status = 'pending'`,
	).Scan(&stats.PendingRecipients)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
