package scoring

import (
	"fmt"
	"sync/atomic"

	"signal-engine/internal/market"
)

type configKey struct {
	Market    market.Market
	Timeframe market.Timeframe
}

// Registry holds the active config per (market, timeframe). Lookups are
// lock-free; Swap atomically replaces the whole set so a reload never
// exposes a half-updated view to in-flight scans.
type Registry struct {
	configs atomic.Pointer[map[configKey]*Config]
}

// NewRegistry builds a registry from validated configs. Every config must
// pass Validate; a duplicate (market, timeframe) pair is rejected.
func NewRegistry(configs []Config) (*Registry, error) {
	r := &Registry{}
	if err := r.Swap(configs); err != nil {
		return nil, err
	}
	return r, nil
}

// Swap validates and atomically installs a replacement config set.
// On error the previous set stays active.
func (r *Registry) Swap(configs []Config) error {
	next := make(map[configKey]*Config, len(configs))
	for i := range configs {
		cfg := configs[i]
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config %s/%s: %w", cfg.Market, cfg.Timeframe, err)
		}
		key := configKey{Market: cfg.Market, Timeframe: cfg.Timeframe}
		if _, dup := next[key]; dup {
			return fmt.Errorf("%w: duplicate config for %s/%s", ErrConfigInvalid, cfg.Market, cfg.Timeframe)
		}
		next[key] = &cfg
	}
	r.configs.Store(&next)
	return nil
}

// Lookup returns the active config for a (market, timeframe).
func (r *Registry) Lookup(m market.Market, tf market.Timeframe) (*Config, bool) {
	set := r.configs.Load()
	if set == nil {
		return nil, false
	}
	cfg, ok := (*set)[configKey{Market: m, Timeframe: tf}]
	return cfg, ok
}

// All returns the active config set.
func (r *Registry) All() []*Config {
	set := r.configs.Load()
	if set == nil {
		return nil
	}
	out := make([]*Config, 0, len(*set))
	for _, cfg := range *set {
		out = append(out, cfg)
	}
	return out
}
