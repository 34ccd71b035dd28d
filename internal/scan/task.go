package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signal-engine/internal/candlecache"
	"signal-engine/internal/indicator"
	"signal-engine/internal/lifecycle"
	"signal-engine/internal/market"
	"signal-engine/internal/metrics"
	"signal-engine/internal/provider"
	"signal-engine/internal/scoring"
)

// Task runs scan cycles for one provider. One Task serves every timeframe
// of that provider's market.
type Task struct {
	fetcher  *provider.Fetcher
	universe *Universe
	cache    *candlecache.Cache
	registry *scoring.Registry
	manager  *lifecycle.Manager
	metrics  *metrics.Metrics
	topN     int
	log      zerolog.Logger
	now      func() time.Time

	// retryBase seeds the outage backoff; tests shrink it.
	retryBase time.Duration

	mu          sync.Mutex
	lastSuccess map[market.Timeframe]time.Time
}

// Config assembles a Task's collaborators.
type Config struct {
	Fetcher  *provider.Fetcher
	Universe *Universe
	Cache    *candlecache.Cache
	Registry *scoring.Registry
	Manager  *lifecycle.Manager
	Metrics  *metrics.Metrics
	TopN     int
}

// NewTask builds a scan task.
func NewTask(cfg Config, log zerolog.Logger) *Task {
	return &Task{
		fetcher:     cfg.Fetcher,
		universe:    cfg.Universe,
		cache:       cfg.Cache,
		registry:    cfg.Registry,
		manager:     cfg.Manager,
		metrics:     cfg.Metrics,
		topN:        cfg.TopN,
		log:         log.With().Str("provider", cfg.Fetcher.Provider().Name()).Logger(),
		now:         time.Now,
		retryBase:   2 * time.Second,
		lastSuccess: make(map[market.Timeframe]time.Time),
	}
}

// LastSuccess reports when the given timeframe last completed a cycle.
func (t *Task) LastSuccess(tf market.Timeframe) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.lastSuccess[tf]
	return ts, ok
}

// Market returns the market this task scans.
func (t *Task) Market() market.Market {
	return t.fetcher.Provider().Market()
}

// Run executes one scan cycle. Per-symbol failures are recorded and
// skipped; only a full-universe fetch failure fails the cycle.
func (t *Task) Run(ctx context.Context, tf market.Timeframe) error {
	mk := t.Market()
	cfg, ok := t.registry.Lookup(mk, tf)
	if !ok {
		return fmt.Errorf("no config for %s/%s", mk, tf)
	}

	cycleID := uuid.NewString()
	log := t.log.With().Str("cycle", cycleID).Str("timeframe", string(tf)).Logger()
	started := t.now()

	err := t.runCycle(ctx, log, mk, tf, cfg)

	elapsed := t.now().Sub(started)
	t.metrics.ScanDuration.WithLabelValues(string(mk), string(tf)).Observe(elapsed.Seconds())
	status := "success"
	if err != nil {
		status = "failed"
	}
	t.metrics.ScanCycles.WithLabelValues(string(mk), string(tf), status).Inc()
	t.metrics.ActiveSignals.Set(float64(t.manager.Count()))

	if err != nil {
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("scan cycle failed")
		return err
	}

	t.mu.Lock()
	t.lastSuccess[tf] = t.now()
	t.mu.Unlock()
	log.Info().Dur("elapsed", elapsed).Msg("scan cycle done")
	return nil
}

func (t *Task) runCycle(ctx context.Context, log zerolog.Logger,
	mk market.Market, tf market.Timeframe, cfg *scoring.Config) error {

	symbols, err := t.universe.Symbols(ctx, t.topN)
	if err != nil {
		return fmt.Errorf("resolving universe: %w", err)
	}
	if len(symbols) == 0 {
		return errors.New("empty universe")
	}

	results, failures, err := t.fetchAll(ctx, symbols, tf, cfg.MaxCandlesCache)
	if err != nil {
		return err
	}

	for symbol, ferr := range failures {
		kind := provider.KindOf(ferr)
		t.metrics.FetchErrors.WithLabelValues(t.fetcher.Provider().Name(), string(kind)).Inc()
		t.metrics.SymbolsScanned.WithLabelValues(string(mk), string(tf), "failed").Inc()
		log.Warn().Str("symbol", symbol).Str("kind", string(kind)).Err(ferr).Msg("fetch failed")
	}

	now := t.now()
	for symbol, candles := range results {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.scanSymbol(log, mk, tf, symbol, candles, cfg, now)
		t.metrics.SymbolsScanned.WithLabelValues(string(mk), string(tf), "ok").Inc()
	}

	expired := t.manager.Sweep(t.now())
	if expired > 0 {
		t.metrics.SweepExpired.Add(float64(expired))
	}
	return nil
}

// fetchAll batch-fetches the universe, retrying the whole batch only when
// every symbol failed (provider outage).
func (t *Task) fetchAll(ctx context.Context, symbols []string, tf market.Timeframe,
	limit int) (map[string][]market.Candle, map[string]error, error) {

	var results map[string][]market.Candle
	var failures map[string]error

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(t.retryBase),
		backoff.WithMultiplier(2),
		backoff.WithMaxElapsedTime(0),
	), 2), ctx)

	err := backoff.Retry(func() error {
		results, failures = t.fetcher.BatchFetch(ctx, symbols, tf, limit)
		if len(results) == 0 && len(failures) > 0 {
			return errors.New("all symbol fetches failed")
		}
		return nil
	}, policy)
	if err != nil {
		return nil, failures, fmt.Errorf("provider outage: %w", err)
	}
	return results, failures, nil
}

func (t *Task) scanSymbol(log zerolog.Logger, mk market.Market, tf market.Timeframe,
	symbol string, candles []market.Candle, cfg *scoring.Config, now time.Time) {

	key := market.Key{Symbol: symbol, Timeframe: tf}
	t.cache.Update(key, candles, now)

	series := t.cache.Series(key)
	if len(series) == 0 {
		return
	}
	snapshot := indicator.ComputeSnapshot(series, cfg.Indicators)

	effective := cfg
	if cfg.UseVolatilityAware && snapshot.ATROK && snapshot.Close > 0 {
		adjusted := cfg.ForVolatility(snapshot.ATR / snapshot.Close)
		effective = &adjusted
	}

	outcome := scoring.Score(snapshot, effective)
	decision, err := scoring.Decide(snapshot, outcome, effective)
	if err != nil {
		// Unpriceable decisions are dropped; the existing signal (if any)
		// is still reconciled against the fresh scores.
		log.Warn().Str("symbol", symbol).Err(err).Msg("decision dropped")
		decision = nil
	}

	t.manager.Reconcile(symbol, mk, tf, decision, outcome, effective, now)
}
