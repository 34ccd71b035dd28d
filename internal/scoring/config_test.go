package scoring

import (
	"errors"
	"testing"

	"signal-engine/internal/market"
)

func TestDefaultConfigValid(t *testing.T) {
	for _, m := range []market.Market{market.Spot, market.Futures, market.Forex, market.Commodity} {
		for _, tf := range []market.Timeframe{market.TF15m, market.TF1h, market.TF4h, market.TF1d} {
			if err := Default(m, tf).Validate(); err != nil {
				t.Errorf("default config %s/%s should validate: %v", m, tf, err)
			}
		}
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"rsi band inverted", func(c *Config) { c.LongRSIMin = 70; c.LongRSIMax = 40 }},
		{"sl zero", func(c *Config) { c.SLATRMultiplier = 0 }},
		{"tp below sl", func(c *Config) { c.TPATRMultiplier = c.SLATRMultiplier }},
		{"min confidence zero", func(c *Config) { c.MinConfidence = 0 }},
		{"min confidence above one", func(c *Config) { c.MinConfidence = 1.5 }},
		{"cache too small", func(c *Config) { c.MaxCandlesCache = 30 }},
		{"negative weight", func(c *Config) { c.Weights.SuperTrend = -1 }},
		{"all weights zero", func(c *Config) { c.Weights = Weights{} }},
		{"expiry zero", func(c *Config) { c.SignalExpiry = 0 }},
		{"bad market", func(c *Config) { c.Market = "OPTIONS" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default(market.Spot, market.TF1h)
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrConfigInvalid) {
				t.Errorf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestCacheFloorTracksIndicatorHistory(t *testing.T) {
	cfg := Default(market.Spot, market.TF1h)
	cfg.MaxCandlesCache = cfg.Indicators.MinHistory() + 5
	if err := cfg.Validate(); err != nil {
		t.Errorf("cache at the exact floor should validate: %v", err)
	}
	cfg.MaxCandlesCache--
	if err := cfg.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("cache below the floor should fail, got %v", err)
	}
}

func TestVolatilityOverlay(t *testing.T) {
	base := Default(market.Spot, market.TF1h)
	base.UseVolatilityAware = true

	low := base.ForVolatility(0.005)
	if low.SLATRMultiplier >= base.SLATRMultiplier {
		t.Error("low volatility should tighten the stop")
	}

	med := base.ForVolatility(0.02)
	if med.SLATRMultiplier != base.SLATRMultiplier {
		t.Error("medium volatility keeps the base stops")
	}

	high := base.ForVolatility(0.05)
	if high.SLATRMultiplier <= base.SLATRMultiplier {
		t.Error("high volatility should widen the stop")
	}
	if high.MinConfidence <= base.MinConfidence {
		t.Error("high volatility should raise the confidence floor")
	}

	off := Default(market.Spot, market.TF1h).ForVolatility(0.05)
	if off.SLATRMultiplier != base.SLATRMultiplier {
		t.Error("overlay must be a no-op when volatility awareness is disabled")
	}
}

func TestRegistrySwapAtomicity(t *testing.T) {
	reg, err := NewRegistry([]Config{Default(market.Spot, market.TF1h)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, ok := reg.Lookup(market.Spot, market.TF1h)
	if !ok || cfg.Market != market.Spot {
		t.Fatal("expected the installed config to be visible")
	}

	// A bad swap must leave the old set in place.
	bad := Default(market.Spot, market.TF1h)
	bad.MinConfidence = 2
	if err := reg.Swap([]Config{bad}); err == nil {
		t.Fatal("expected swap of an invalid config to fail")
	}
	if _, ok := reg.Lookup(market.Spot, market.TF1h); !ok {
		t.Error("failed swap must not clear the active set")
	}

	// A good swap replaces the whole set.
	if err := reg.Swap([]Config{Default(market.Futures, market.TF4h)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reg.Lookup(market.Spot, market.TF1h); ok {
		t.Error("swapped-out config must disappear")
	}
	if _, ok := reg.Lookup(market.Futures, market.TF4h); !ok {
		t.Error("swapped-in config must be visible")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]Config{
		Default(market.Spot, market.TF1h),
		Default(market.Spot, market.TF1h),
	})
	if !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("expected duplicate rejection, got %v", err)
	}
}
