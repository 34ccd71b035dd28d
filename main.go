package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"signal-engine/config"
	"signal-engine/internal/api"
	"signal-engine/internal/candlecache"
	"signal-engine/internal/events"
	"signal-engine/internal/lifecycle"
	"signal-engine/internal/logging"
	"signal-engine/internal/market"
	"signal-engine/internal/metrics"
	"signal-engine/internal/provider"
	"signal-engine/internal/ratelimit"
	"signal-engine/internal/scan"
	"signal-engine/internal/scheduler"
	"signal-engine/internal/scoring"
	"signal-engine/internal/secrets"
	"signal-engine/internal/store"
)

// vendorScanOffset trails vendor scan ticks behind the candle boundary so
// the vendor has published the closed candle by the time we ask for it.
const vendorScanOffset = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		JSONFormat: cfg.Logging.JSONFormat,
	})
	logger.Info().Msg("structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver, err := secrets.New(secrets.Config{
		Enabled:    cfg.Vault.Enabled,
		Address:    cfg.Vault.Address,
		Token:      cfg.Vault.Token,
		MountPath:  cfg.Vault.MountPath,
		PathPrefix: cfg.Vault.PathPrefix,
		TLSEnabled: cfg.Vault.TLSEnabled,
		CACert:     cfg.Vault.CACert,
	}, logging.Component(logger, "secrets"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize secrets resolver")
	}

	bus := events.NewBus()

	var st *store.Store
	var writer events.DurableWriter
	if cfg.Database.Enabled {
		st, err = store.New(store.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		}, logging.Component(logger, "store"))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to run migrations")
		}
		writer = st
		logger.Info().Msg("event persistence enabled")
	}

	sink := events.NewSink(bus, writer, logging.Component(logger, "events"))
	go sink.Run(ctx)

	manager := lifecycle.New(sink, logging.Component(logger, "lifecycle"))
	mtr := metrics.New()

	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis universe cache enabled")
	}

	registry, err := scoring.NewRegistry(cfg.BuildSignalConfigs())
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid signal configuration")
	}

	cache := candlecache.New(cacheCapacity(registry))

	tasks, limiters, err := buildTasks(ctx, cfg, resolver, redisClient, cache, registry, manager, mtr, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build scan tasks")
	}
	if len(tasks) == 0 {
		logger.Fatal().Msg("no providers enabled, nothing to scan")
	}

	hub := api.NewWSHub(bus, logging.Component(logger, "websocket"))
	go hub.Run(ctx)

	tokens := api.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Lifetime())

	server := api.NewServer(api.ServerConfig{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		Debug:    cfg.Server.Debug,
		Manager:  manager,
		Sink:     sink,
		Registry: registry,
		Tasks:    tasks,
		Limiters: limiters,
		Store:    st,
		Metrics:  mtr,
		Tokens:   tokens,
		Hub:      hub,
		ReloadConfigs: func() ([]scoring.Config, error) {
			fresh, err := config.Load()
			if err != nil {
				return nil, err
			}
			return fresh.BuildSignalConfigs(), nil
		},
	}, logging.Component(logger, "api"))

	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	sched := scheduler.New(buildJobs(tasks, manager, limiters, st, mtr, logger), mtr, logging.Component(logger, "scheduler"))
	sched.Start(ctx)
	logger.Info().Int("tasks", len(tasks)).Msg("signal engine started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	if !sched.Wait(30 * time.Second) {
		logger.Warn().Msg("scan jobs did not drain within 30s")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	logger.Info().Msg("shutdown complete")
}

// cacheCapacity sizes the candle cache to the largest configured history.
func cacheCapacity(registry *scoring.Registry) int {
	capacity := 0
	for _, sc := range registry.All() {
		if sc.MaxCandlesCache > capacity {
			capacity = sc.MaxCandlesCache
		}
	}
	if capacity == 0 {
		capacity = 200
	}
	return capacity
}

type providerSpec struct {
	market market.Market
	cfg    config.ProviderConfig
}

// buildTasks constructs the provider adapter, fetcher, universe, and scan
// task for every enabled market.
func buildTasks(ctx context.Context, cfg *config.Config, resolver *secrets.Resolver,
	redisClient redis.UniversalClient, cache *candlecache.Cache, registry *scoring.Registry,
	manager *lifecycle.Manager, mtr *metrics.Metrics, logger zerolog.Logger,
) ([]*scan.Task, map[string]*ratelimit.Limiter, error) {

	specs := []providerSpec{
		{market.Spot, cfg.Providers.BinanceSpot},
		{market.Futures, cfg.Providers.BinanceFutures},
		{market.Forex, cfg.Providers.Forex},
		{market.Commodity, cfg.Providers.Commodity},
	}

	var tasks []*scan.Task
	limiters := make(map[string]*ratelimit.Limiter)

	for _, spec := range specs {
		if !spec.cfg.Enabled {
			continue
		}

		limiter := ratelimit.New(spec.cfg.MaxWeightPerMinute)
		p, err := buildProvider(ctx, spec, resolver, limiter, logging.Component(logger, "provider"))
		if err != nil {
			return nil, nil, fmt.Errorf("building %s provider: %w", spec.market, err)
		}
		limiters[p.Name()] = limiter

		fetcher := provider.NewFetcher(p, cfg.Scan.BatchSize, logging.Component(logger, "fetch"))
		universe := scan.NewUniverse(fetcher, redisClient, logging.Component(logger, "universe"))

		tasks = append(tasks, scan.NewTask(scan.Config{
			Fetcher:  fetcher,
			Universe: universe,
			Cache:    cache,
			Registry: registry,
			Manager:  manager,
			Metrics:  mtr,
			TopN:     cfg.TopN(spec.market),
		}, logging.Component(logger, "scan")))

		logger.Info().Str("provider", p.Name()).Int("top_n", cfg.TopN(spec.market)).
			Int("weight_budget", spec.cfg.MaxWeightPerMinute).Msg("provider enabled")
	}
	return tasks, limiters, nil
}

func buildProvider(ctx context.Context, spec providerSpec, resolver *secrets.Resolver,
	limiter *ratelimit.Limiter, log zerolog.Logger) (provider.Provider, error) {

	switch spec.market {
	case market.Spot, market.Futures:
		name := "binance-spot"
		baseURL := provider.SpotBaseURL
		if spec.market == market.Futures {
			name = "binance-futures"
			baseURL = provider.FuturesBaseURL
		}
		if spec.cfg.BaseURL != "" {
			baseURL = spec.cfg.BaseURL
		}
		return provider.NewBinance(provider.BinanceConfig{
			Market:     spec.market,
			BaseURL:    baseURL,
			APIKey:     resolveKey(ctx, resolver, name, spec.cfg.APIKey),
			QuoteAsset: spec.cfg.QuoteAsset,
			Limiter:    limiter,
		}, log)

	case market.Forex, market.Commodity:
		name := "forex-vendor"
		if spec.market == market.Commodity {
			name = "commodity-vendor"
		}
		return provider.NewVendor(provider.VendorConfig{
			Market:  spec.market,
			BaseURL: spec.cfg.BaseURL,
			APIKey:  resolveKey(ctx, resolver, name, spec.cfg.APIKey),
			Symbols: spec.cfg.Symbols,
			Limiter: limiter,
		}, log)
	}
	return nil, fmt.Errorf("unsupported market %s", spec.market)
}

// resolveKey prefers Vault (with env fallback inside the resolver) over
// the static config value.
func resolveKey(ctx context.Context, resolver *secrets.Resolver, name, fallback string) string {
	if creds := resolver.ProviderCredentials(ctx, name); creds.APIKey != "" {
		return creds.APIKey
	}
	return fallback
}

// buildJobs lays out the recurring job table: one scan job per task and
// timeframe, plus the expiry sweep and a health heartbeat.
func buildJobs(tasks []*scan.Task, manager *lifecycle.Manager, limiters map[string]*ratelimit.Limiter,
	st *store.Store, mtr *metrics.Metrics, logger zerolog.Logger) []scheduler.JobSpec {

	var jobs []scheduler.JobSpec
	for _, task := range tasks {
		task := task
		offset := time.Duration(0)
		switch task.Market() {
		case market.Forex, market.Commodity:
			offset = vendorScanOffset
		}
		for _, tf := range market.Timeframes {
			tf := tf
			jobs = append(jobs, scheduler.JobSpec{
				Name:     fmt.Sprintf("scan-%s-%s", task.Market(), tf),
				Interval: tf.Duration(),
				Offset:   offset,
				Run: func(jobCtx context.Context) error {
					return task.Run(jobCtx, tf)
				},
			})
		}
	}

	jobs = append(jobs, scheduler.JobSpec{
		Name:     "sweep-expired",
		Interval: 5 * time.Minute,
		Run: func(context.Context) error {
			if expired := manager.Sweep(time.Now().UTC()); expired > 0 {
				mtr.SweepExpired.Add(float64(expired))
			}
			return nil
		},
	})

	jobs = append(jobs, scheduler.JobSpec{
		Name:     "health-heartbeat",
		Interval: 10 * time.Minute,
		Run: func(jobCtx context.Context) error {
			ev := logger.Info().
				Int("active_signals", manager.Count()).
				Int("goroutines", runtime.NumGoroutine())
			for name, limiter := range limiters {
				used, _ := limiter.CurrentUsage()
				ev = ev.Int("weight_"+name, used)
				mtr.LimiterUsage.WithLabelValues(name).Set(float64(used))
			}
			if st != nil {
				pingCtx, cancel := context.WithTimeout(jobCtx, 5*time.Second)
				err := st.Pool.Ping(pingCtx)
				cancel()
				ev = ev.Bool("store_healthy", err == nil)
				if err != nil {
					logger.Warn().Err(err).Msg("store ping failed")
				}
			}
			ev.Msg("heartbeat")
			return nil
		},
	})
	return jobs
}
