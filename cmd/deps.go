package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"estate-harvester/config"
	"estate-harvester/locks"
	"estate-harvester/metrics"
	"estate-harvester/models"
	"estate-harvester/scraper"
	"estate-harvester/scraper/browser"
	"estate-harvester/scraper/htmlsource"
	"estate-harvester/scraper/jsonfeed"
	"estate-harvester/services"
	"estate-harvester/storage"
	"estate-harvester/utils"
)

// app holds the wired dependencies shared by the commands.
type app struct {
	cfg      *config.Config
	logger   utils.Logger
	store    storage.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	orch     *services.Orchestrator

	closers []func() error
}

// loadConfig reads the configuration and builds the logger.
func loadConfig() (*config.Config, utils.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if Debug {
		level = "debug"
	}
	logger, err := utils.NewLogger(level, cfg.LogDevelopment)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}

// openStore connects to PostgreSQL, or returns an in-memory store seeded
// with the configured sources when dryRun is set.
func openStore(ctx context.Context, cfg *config.Config, logger utils.Logger, dryRun bool) (storage.Store, error) {
	if dryRun {
		mem := storage.NewMemory()
		if _, err := seedSources(ctx, mem, cfg.Sources); err != nil {
			return nil, err
		}
		logger.Info("Dry run: using in-memory store", utils.Int("sources", len(cfg.Sources)))
		return mem, nil
	}
	return storage.OpenPostgres(ctx, cfg.DSN(), logger)
}

// seedSources upserts every configured source and returns how many were
// written.
func seedSources(ctx context.Context, store storage.SourceStore, sources []config.SourceConfig) (int, error) {
	for i, sc := range sources {
		s := &models.Source{
			Code:      sc.Code,
			Name:      sc.Name,
			BaseURL:   sc.BaseURL,
			Kind:      sc.Kind,
			FetchMode: sc.FetchMode,
			Options:   models.JSONMap(sc.Options),
			Active:    sc.IsActive(),
		}
		if s.Code == "" || s.Kind == "" {
			return i, fmt.Errorf("source #%d: code and kind are required", i+1)
		}
		if s.Name == "" {
			s.Name = s.Code
		}
		if err := store.UpsertSource(ctx, s); err != nil {
			return i, err
		}
	}
	return len(sources), nil
}

// newApp wires the orchestrator and everything beneath it.
func newApp(ctx context.Context, dryRun bool) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	store, err := openStore(ctx, cfg, logger, dryRun)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	registry := scraper.NewRegistry()
	registry.Register(htmlsource.Kind, htmlsource.New)
	registry.Register(jsonfeed.Kind, jsonfeed.New)

	chrome := browser.New(browser.Options{ChromeBin: cfg.ChromeBin, UserAgent: cfg.UserAgent, Logger: logger})
	a.closers = append(a.closers, func() error { chrome.Close(); return nil })

	locker, err := a.newLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var rejections services.RejectionRecorder
	if cfg.RejectionLogPath != "" {
		rl, err := storage.NewRejectionLog(cfg.RejectionLogPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rl.Close)
		rejections = rl
	}

	runner := services.NewSourceRunner(services.SourceRunnerConfig{
		Store:    store,
		Registry: registry,
		Fetchers: map[string]scraper.Fetcher{
			models.FetchModeHTTP:    scraper.NewHTTPFetcher(nil, cfg.UserAgent),
			models.FetchModeBrowser: chrome,
		},
		Cleaner:              services.NewCleaner(logger),
		Filter:               services.DefaultFilterPipeline(cfg.TargetAreas, cfg.PriceCeilings),
		Reconciler:           services.NewReconciler(store, cfg.MaxPhotos, cfg.ReconcileRetryDelay, logger),
		Locker:               locker,
		Rejections:           rejections,
		GlobalLimiter:        utils.NewLimiter(cfg.GlobalConcurrency, 0),
		PerSourceConcurrency: cfg.PerSourceConcurrency,
		RateInterval:         cfg.RateLimit(),
		Retry: utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries + 1,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			Logger:      logger,
		},
		FetchTimeout: cfg.FetchTimeout,
		Metrics:      a.metrics,
		Logger:       logger,
	})
	a.orch = services.NewOrchestrator(store, runner, cfg.MaxConcurrentSources, a.metrics, logger)
	return a, nil
}

// newLocker returns a Redis backed source lock when REDIS_ADDR is set so
// several harvester processes never run the same source at once.
func (a *app) newLocker(ctx context.Context) (locks.SourceLocker, error) {
	if a.cfg.RedisAddr == "" {
		return locks.NewMemoryLocker(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", a.cfg.RedisAddr, err)
	}
	a.closers = append(a.closers, client.Close)
	a.logger.Info("Using Redis source locks", utils.String("addr", a.cfg.RedisAddr))
	return locks.NewRedisLocker(client, a.cfg.SourceLockTTL, a.logger), nil
}

// Close releases everything newApp opened, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = utils.Zap(a.logger).Sync()
	return errors.Join(errs...)
}
