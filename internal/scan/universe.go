// Package scan runs one full scan cycle for a (market, timeframe): pick
// the symbol universe, fetch candles, score, and reconcile signals.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"signal-engine/internal/provider"
)

// universeTTL bounds how long a ranked universe is reused before the
// provider is asked again.
const universeTTL = 10 * time.Minute

// Universe ranks a provider's symbols by 24h quote volume and serves the
// top N. Rankings are cached in Redis when a client is configured, so
// multiple timeframe scans within a few minutes share one provider call.
type Universe struct {
	fetcher *provider.Fetcher
	redis   redis.UniversalClient
	log     zerolog.Logger
}

// NewUniverse builds a universe source. redisClient may be nil.
func NewUniverse(fetcher *provider.Fetcher, redisClient redis.UniversalClient, log zerolog.Logger) *Universe {
	return &Universe{fetcher: fetcher, redis: redisClient, log: log}
}

func (u *Universe) cacheKey(topN int) string {
	return fmt.Sprintf("universe:%s:%d", u.fetcher.Provider().Name(), topN)
}

// Symbols returns up to topN symbols, highest quote volume first.
func (u *Universe) Symbols(ctx context.Context, topN int) ([]string, error) {
	if topN <= 0 {
		return nil, fmt.Errorf("universe size %d must be positive", topN)
	}

	if cached := u.fromCache(ctx, topN); cached != nil {
		return cached, nil
	}

	infos, err := u.fetcher.Provider().ListSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing symbols: %w", err)
	}
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].QuoteVolume > infos[j].QuoteVolume
	})
	if len(infos) > topN {
		infos = infos[:topN]
	}

	symbols := make([]string, len(infos))
	for i, info := range infos {
		symbols[i] = info.Symbol
	}
	u.toCache(ctx, topN, symbols)
	return symbols, nil
}

func (u *Universe) fromCache(ctx context.Context, topN int) []string {
	if u.redis == nil {
		return nil
	}
	raw, err := u.redis.Get(ctx, u.cacheKey(topN)).Bytes()
	if err != nil {
		if err != redis.Nil {
			u.log.Debug().Err(err).Msg("universe cache read failed")
		}
		return nil
	}
	var symbols []string
	if err := json.Unmarshal(raw, &symbols); err != nil {
		return nil
	}
	return symbols
}

func (u *Universe) toCache(ctx context.Context, topN int, symbols []string) {
	if u.redis == nil {
		return
	}
	raw, err := json.Marshal(symbols)
	if err != nil {
		return
	}
	if err := u.redis.Set(ctx, u.cacheKey(topN), raw, universeTTL).Err(); err != nil {
		u.log.Debug().Err(err).Msg("universe cache write failed")
	}
}
