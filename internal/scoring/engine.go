package scoring

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"signal-engine/internal/indicator"
	"signal-engine/internal/market"
)

// ErrUnpriceable is returned when a decision clears the confidence bar but
// its stop-loss or take-profit would land at or below zero.
var ErrUnpriceable = errors.New("signal unpriceable")

// Scored is one direction's rule evaluation: which conditions held and the
// normalized confidence they add up to.
type Scored struct {
	Score      float64
	Confidence float64
	Conditions map[string]bool
}

// Outcome is the full rule evaluation for both directions.
type Outcome struct {
	Long  Scored
	Short Scored
}

// ConfidenceFor returns the re-scored confidence for a direction. Lifecycle
// reconciliation uses this to decide whether an existing signal still holds.
func (o Outcome) ConfidenceFor(dir market.Direction) float64 {
	if dir == market.Short {
		return o.Short.Confidence
	}
	return o.Long.Confidence
}

// Decision is an actionable signal candidate produced by the engine.
type Decision struct {
	Direction  market.Direction
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Confidence float64
	Conditions map[string]bool
	Reason     string
}

// Score evaluates every LONG and SHORT condition against the snapshot.
// An undefined indicator (OK=false) fails its condition; it never scores.
func Score(s indicator.Snapshot, cfg *Config) Outcome {
	w := cfg.Weights
	total := w.Total()

	long := map[string]bool{
		"macd_cross_up":    s.MACDOK && s.MACD.Histogram > 0 && s.MACD.PrevHistogram <= 0,
		"rsi_long_band":    s.RSIOK && ((s.RSI > cfg.LongRSIMin && s.RSI < cfg.LongRSIMax) || s.RSIRising),
		"close_above_ema":  s.EMASlowOK && s.Close > s.EMASlow,
		"adx_strong":       s.ADXOK && s.ADX.ADX > cfg.LongADXMin,
		"heikin_bullish":   s.HeikinAshiOK && s.HeikinAshi.Bullish == 1,
		"volume_spike":     s.VolumeOK && s.Volume.Ratio >= cfg.LongVolumeMultiplier,
		"ema_aligned_up":   s.EMAFastOK && s.EMAMidOK && s.EMASlowOK && s.EMAFast > s.EMAMid && s.EMAMid > s.EMASlow,
		"di_bullish":       s.ADXOK && s.ADX.PlusDI > s.ADX.MinusDI,
		"supertrend_up":    s.SuperTrendOK && s.SuperTrend.Direction == 1,
		"mfi_rising":       s.MFIOK && s.MFIPrevOK && s.MFI < 80 && s.MFI > s.MFIPrev,
		"psar_below_price": s.PSAROK && s.PSAR.Trend == 1 && s.PSAR.SAR < s.Close,
	}

	short := map[string]bool{
		"macd_cross_down":  s.MACDOK && s.MACD.Histogram < 0 && s.MACD.PrevHistogram >= 0,
		"rsi_short_band":   s.RSIOK && ((s.RSI > cfg.ShortRSIMin && s.RSI < cfg.ShortRSIMax) || s.RSIFalling),
		"close_below_ema":  s.EMASlowOK && s.Close < s.EMASlow,
		"adx_strong":       s.ADXOK && s.ADX.ADX > cfg.ShortADXMin,
		"heikin_bearish":   s.HeikinAshiOK && s.HeikinAshi.Bullish == -1,
		"volume_spike":     s.VolumeOK && s.Volume.Ratio >= cfg.ShortVolumeMultiplier,
		"ema_aligned_down": s.EMAFastOK && s.EMAMidOK && s.EMASlowOK && s.EMAFast < s.EMAMid && s.EMAMid < s.EMASlow,
		"di_bearish":       s.ADXOK && s.ADX.MinusDI > s.ADX.PlusDI,
		"supertrend_down":  s.SuperTrendOK && s.SuperTrend.Direction == -1,
		"mfi_falling":      s.MFIOK && s.MFIPrevOK && s.MFI > 20 && s.MFI < s.MFIPrev,
		"psar_above_price": s.PSAROK && s.PSAR.Trend == -1 && s.PSAR.SAR > s.Close,
	}

	longWeights := map[string]float64{
		"macd_cross_up":    w.MACDCross,
		"rsi_long_band":    w.RSIBand,
		"close_above_ema":  w.EMATrend,
		"adx_strong":       w.ADX,
		"heikin_bullish":   w.HeikinAshi,
		"volume_spike":     w.VolumeSpike,
		"ema_aligned_up":   w.EMAAlignment,
		"di_bullish":       w.DICross,
		"supertrend_up":    w.SuperTrend,
		"mfi_rising":       w.MFI,
		"psar_below_price": w.PSAR,
	}
	shortWeights := map[string]float64{
		"macd_cross_down":  w.MACDCross,
		"rsi_short_band":   w.RSIBand,
		"close_below_ema":  w.EMATrend,
		"adx_strong":       w.ADX,
		"heikin_bearish":   w.HeikinAshi,
		"volume_spike":     w.VolumeSpike,
		"ema_aligned_down": w.EMAAlignment,
		"di_bearish":       w.DICross,
		"supertrend_down":  w.SuperTrend,
		"mfi_falling":      w.MFI,
		"psar_above_price": w.PSAR,
	}

	return Outcome{
		Long:  tally(long, longWeights, total),
		Short: tally(short, shortWeights, total),
	}
}

func tally(conditions map[string]bool, weights map[string]float64, total float64) Scored {
	var score float64
	for name, met := range conditions {
		if met {
			score += weights[name]
		}
	}
	sc := Scored{Score: score, Conditions: conditions}
	if total > 0 {
		sc.Confidence = score / total
	}
	return sc
}

// Decide turns a scored outcome into a decision, or nil when neither
// direction clears min_confidence. An exact tie between directions that
// both clear the bar emits nothing. SL/TP are derived from the ATR; a
// non-positive level is rejected with ErrUnpriceable.
func Decide(s indicator.Snapshot, o Outcome, cfg *Config) (*Decision, error) {
	longOK := o.Long.Confidence >= cfg.MinConfidence
	shortOK := o.Short.Confidence >= cfg.MinConfidence
	if !longOK && !shortOK {
		return nil, nil
	}
	if longOK && shortOK && o.Long.Confidence == o.Short.Confidence {
		return nil, nil
	}

	dir := market.Long
	scored := o.Long
	if shortOK && (!longOK || o.Short.Confidence > o.Long.Confidence) {
		dir = market.Short
		scored = o.Short
	}

	if !s.ATROK || s.ATR <= 0 {
		return nil, fmt.Errorf("%w: ATR undefined at entry %s", ErrUnpriceable, market.FormatPrice(s.Close))
	}

	entry := s.Close
	var sl, tp float64
	if dir == market.Long {
		sl = entry - cfg.SLATRMultiplier*s.ATR
		tp = entry + cfg.TPATRMultiplier*s.ATR
	} else {
		sl = entry + cfg.SLATRMultiplier*s.ATR
		tp = entry - cfg.TPATRMultiplier*s.ATR
	}
	if sl <= 0 || tp <= 0 {
		return nil, fmt.Errorf("%w: %s entry %s sl %s tp %s", ErrUnpriceable,
			dir, market.FormatPrice(entry), market.FormatPrice(sl), market.FormatPrice(tp))
	}

	return &Decision{
		Direction:  dir,
		Entry:      entry,
		StopLoss:   sl,
		TakeProfit: tp,
		Confidence: scored.Confidence,
		Conditions: scored.Conditions,
		Reason:     reason(dir, scored),
	}, nil
}

func reason(dir market.Direction, sc Scored) string {
	met := make([]string, 0, len(sc.Conditions))
	for name, ok := range sc.Conditions {
		if ok {
			met = append(met, name)
		}
	}
	sort.Strings(met)
	return fmt.Sprintf("%s %d/%d conditions (confidence %.2f): %s",
		dir, len(met), len(sc.Conditions), sc.Confidence, strings.Join(met, ", "))
}
