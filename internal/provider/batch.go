package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"signal-engine/internal/market"
)

// DefaultBatchSize bounds concurrent sub-requests per batch fetch.
const DefaultBatchSize = 20

// retryAttempts covers the initial call plus two retries.
const retryAttempts = 3

// DefaultRateLimitDelay is assumed when a rate-limited response carries no
// Retry-After hint: sit out a full limiter window before trying again.
const DefaultRateLimitDelay = time.Minute

type fetchKey struct {
	Symbol    string
	Timeframe market.Timeframe
	Limit     int
}

type inflightCall struct {
	done    chan struct{}
	candles []market.Candle
	err     error
}

// Fetcher wraps a Provider with retry and in-flight request deduplication.
// Concurrent fetches for the same (symbol, timeframe, limit) share one
// upstream request.
type Fetcher struct {
	provider  Provider
	batchSize int
	log       zerolog.Logger

	mu       sync.Mutex
	inflight map[fetchKey]*inflightCall

	// retryBase is the initial backoff interval; rateLimitDelay is the
	// wait on rate limiting without a Retry-After. Tests shrink both.
	retryBase      time.Duration
	rateLimitDelay time.Duration
}

// NewFetcher wraps provider. batchSize bounds batch concurrency.
func NewFetcher(provider Provider, batchSize int, log zerolog.Logger) *Fetcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Fetcher{
		provider:       provider,
		batchSize:      batchSize,
		log:            log.With().Str("provider", provider.Name()).Logger(),
		inflight:       make(map[fetchKey]*inflightCall),
		retryBase:      time.Second,
		rateLimitDelay: DefaultRateLimitDelay,
	}
}

// Provider returns the wrapped provider.
func (f *Fetcher) Provider() Provider { return f.provider }

// Fetch fetches one series, joining an identical in-flight request when one
// exists. Transient and rate-limited failures are retried with exponential
// backoff; other kinds surface immediately.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	key := fetchKey{Symbol: symbol, Timeframe: tf, Limit: limit}

	f.mu.Lock()
	if call, ok := f.inflight[key]; ok {
		f.mu.Unlock()
		select {
		case <-call.done:
			return call.candles, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	f.inflight[key] = call
	f.mu.Unlock()

	call.candles, call.err = f.fetchWithRetry(ctx, symbol, tf, limit)

	f.mu.Lock()
	delete(f.inflight, key)
	f.mu.Unlock()
	close(call.done)

	return call.candles, call.err
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(f.retryBase),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0.2),
		backoff.WithMaxElapsedTime(0),
	), retryAttempts-1), ctx)

	var candles []market.Candle
	err := backoff.Retry(func() error {
		var err error
		candles, err = f.provider.FetchCandles(ctx, symbol, tf, limit)
		if err == nil {
			return nil
		}

		var pe *Error
		if !errors.As(err, &pe) {
			return backoff.Permanent(err)
		}
		// Provider-side failures (5xx, malformed payloads) retry on the
		// same schedule as transient network errors.
		if !pe.Retryable() && pe.Kind != KindProvider {
			return backoff.Permanent(err)
		}
		if pe.Kind == KindRateLimited {
			// Respect the server-requested delay; without one, assume a
			// full limiter window. The jittered backoff interval stacks
			// on top.
			delay := pe.RetryAfter
			if delay <= 0 {
				delay = f.rateLimitDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
		}
		f.log.Debug().Err(err).Str("symbol", symbol).Msg("retrying fetch")
		return err
	}, policy)
	if err != nil {
		return nil, err
	}
	return candles, nil
}

// BatchFetch fetches candles for every symbol with at most batchSize
// concurrent sub-requests. Successes land in the candle map, failures in
// the error map; the two partition the input symbols.
func (f *Fetcher) BatchFetch(ctx context.Context, symbols []string, tf market.Timeframe, limit int) (map[string][]market.Candle, map[string]error) {
	results := make(map[string][]market.Candle, len(symbols))
	failures := make(map[string]error)

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, f.batchSize)

	seen := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}

		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				failures[symbol] = ctx.Err()
				mu.Unlock()
				return
			}

			candles, err := f.Fetch(ctx, symbol, tf, limit)
			mu.Lock()
			if err != nil {
				failures[symbol] = err
			} else {
				results[symbol] = candles
			}
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()
	return results, failures
}
