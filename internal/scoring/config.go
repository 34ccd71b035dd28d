// Package scoring holds the tunable signal configuration and the rule-based
// engine that turns an indicator snapshot into a LONG/SHORT decision.
package scoring

import (
	"errors"
	"fmt"
	"time"

	"signal-engine/internal/indicator"
	"signal-engine/internal/market"
)

// ErrConfigInvalid is returned when a configuration fails validation.
// Configuration failures are fatal at startup.
var ErrConfigInvalid = errors.New("signal config invalid")

// Weights are the per-condition score contributions.
type Weights struct {
	MACDCross    float64 `json:"macd_cross"`
	RSIBand      float64 `json:"rsi_band"`
	EMATrend     float64 `json:"ema_trend"` // close vs EMA50
	ADX          float64 `json:"adx"`
	HeikinAshi   float64 `json:"heikin_ashi"`
	VolumeSpike  float64 `json:"volume_spike"`
	EMAAlignment float64 `json:"ema_alignment"`
	DICross      float64 `json:"di_cross"`
	SuperTrend   float64 `json:"supertrend"`
	MFI          float64 `json:"mfi"`
	PSAR         float64 `json:"psar"`
}

// DefaultWeights returns the standard condition weights.
func DefaultWeights() Weights {
	return Weights{
		MACDCross:    1.5,
		RSIBand:      1.0,
		EMATrend:     1.0,
		ADX:          1.0,
		HeikinAshi:   1.5,
		VolumeSpike:  1.0,
		EMAAlignment: 0.5,
		DICross:      0.5,
		SuperTrend:   1.9,
		MFI:          1.3,
		PSAR:         1.1,
	}
}

// Total returns the maximum achievable score.
func (w Weights) Total() float64 {
	return w.MACDCross + w.RSIBand + w.EMATrend + w.ADX + w.HeikinAshi +
		w.VolumeSpike + w.EMAAlignment + w.DICross + w.SuperTrend + w.MFI + w.PSAR
}

func (w Weights) validate() error {
	for name, v := range map[string]float64{
		"macd_cross":    w.MACDCross,
		"rsi_band":      w.RSIBand,
		"ema_trend":     w.EMATrend,
		"adx":           w.ADX,
		"heikin_ashi":   w.HeikinAshi,
		"volume_spike":  w.VolumeSpike,
		"ema_alignment": w.EMAAlignment,
		"di_cross":      w.DICross,
		"supertrend":    w.SuperTrend,
		"mfi":           w.MFI,
		"psar":          w.PSAR,
	} {
		if v < 0 {
			return fmt.Errorf("%w: weight %s is negative", ErrConfigInvalid, name)
		}
	}
	if w.Total() == 0 {
		return fmt.Errorf("%w: all weights are zero", ErrConfigInvalid)
	}
	return nil
}

// Config carries every tunable parameter for one (market, timeframe).
// Immutable after construction; shared freely across scans.
type Config struct {
	Market    market.Market
	Timeframe market.Timeframe

	LongRSIMin  float64
	LongRSIMax  float64
	ShortRSIMin float64
	ShortRSIMax float64

	LongADXMin  float64
	ShortADXMin float64

	LongVolumeMultiplier  float64
	ShortVolumeMultiplier float64

	SLATRMultiplier float64
	TPATRMultiplier float64

	MinConfidence float64

	// ConfidenceDelta is the minimum confidence change that turns a
	// liveness refresh into an updated event.
	ConfidenceDelta float64

	MaxCandlesCache int
	SignalExpiry    time.Duration

	Weights    Weights
	Indicators indicator.Params

	UseVolatilityAware bool
}

// Default returns the baseline configuration for a (market, timeframe).
func Default(m market.Market, tf market.Timeframe) Config {
	return Config{
		Market:                m,
		Timeframe:             tf,
		LongRSIMin:            40,
		LongRSIMax:            70,
		ShortRSIMin:           30,
		ShortRSIMax:           60,
		LongADXMin:            25,
		ShortADXMin:           25,
		LongVolumeMultiplier:  1.5,
		ShortVolumeMultiplier: 1.5,
		SLATRMultiplier:       3.0,
		TPATRMultiplier:       7.0,
		MinConfidence:         0.70,
		ConfidenceDelta:       0.05,
		MaxCandlesCache:       200,
		SignalExpiry:          60 * time.Minute,
		Weights:               DefaultWeights(),
		Indicators:            indicator.DefaultParams(),
	}
}

// Validate checks the configuration invariants. Any violation is wrapped
// with ErrConfigInvalid.
func (c Config) Validate() error {
	if !c.Market.Valid() {
		return fmt.Errorf("%w: unknown market %q", ErrConfigInvalid, c.Market)
	}
	if !c.Timeframe.Valid() {
		return fmt.Errorf("%w: unknown timeframe %q", ErrConfigInvalid, c.Timeframe)
	}
	if c.LongRSIMin >= c.LongRSIMax {
		return fmt.Errorf("%w: long RSI band %f..%f not ordered", ErrConfigInvalid, c.LongRSIMin, c.LongRSIMax)
	}
	if c.ShortRSIMin >= c.ShortRSIMax {
		return fmt.Errorf("%w: short RSI band %f..%f not ordered", ErrConfigInvalid, c.ShortRSIMin, c.ShortRSIMax)
	}
	if c.SLATRMultiplier <= 0 {
		return fmt.Errorf("%w: sl_atr_multiplier must be positive", ErrConfigInvalid)
	}
	if c.TPATRMultiplier <= c.SLATRMultiplier {
		return fmt.Errorf("%w: tp_atr_multiplier %f must exceed sl_atr_multiplier %f",
			ErrConfigInvalid, c.TPATRMultiplier, c.SLATRMultiplier)
	}
	if c.MinConfidence <= 0 || c.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence %f outside (0,1]", ErrConfigInvalid, c.MinConfidence)
	}
	if c.ConfidenceDelta < 0 || c.ConfidenceDelta > 1 {
		return fmt.Errorf("%w: confidence_delta %f outside [0,1]", ErrConfigInvalid, c.ConfidenceDelta)
	}
	if min := c.Indicators.MinHistory() + 5; c.MaxCandlesCache < min {
		return fmt.Errorf("%w: max_candles_cache %d below minimum %d", ErrConfigInvalid, c.MaxCandlesCache, min)
	}
	if c.SignalExpiry <= 0 {
		return fmt.Errorf("%w: signal_expiry must be positive", ErrConfigInvalid)
	}
	return c.Weights.validate()
}

// VolatilityClass buckets a symbol by its recent ATR/price ratio.
type VolatilityClass string

const (
	VolatilityLow    VolatilityClass = "LOW"
	VolatilityMedium VolatilityClass = "MEDIUM"
	VolatilityHigh   VolatilityClass = "HIGH"
)

// ClassifyVolatility buckets an ATR/price ratio.
func ClassifyVolatility(atrPriceRatio float64) VolatilityClass {
	switch {
	case atrPriceRatio < 0.01:
		return VolatilityLow
	case atrPriceRatio < 0.03:
		return VolatilityMedium
	}
	return VolatilityHigh
}

// ForVolatility overlays the volatility-class preset on the base config.
// Low-volatility symbols run tighter stops and a lower bar; high-volatility
// symbols get wider stops and a stricter confidence floor.
func (c Config) ForVolatility(atrPriceRatio float64) Config {
	if !c.UseVolatilityAware {
		return c
	}

	out := c
	switch ClassifyVolatility(atrPriceRatio) {
	case VolatilityLow:
		out.SLATRMultiplier = c.SLATRMultiplier * 0.75
		out.TPATRMultiplier = c.TPATRMultiplier * 0.75
	case VolatilityHigh:
		out.SLATRMultiplier = c.SLATRMultiplier * 1.5
		out.TPATRMultiplier = c.TPATRMultiplier * 1.5
		out.MinConfidence = minF(c.MinConfidence+0.05, 1)
		out.LongVolumeMultiplier = c.LongVolumeMultiplier * 1.2
		out.ShortVolumeMultiplier = c.ShortVolumeMultiplier * 1.2
	}
	return out
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
