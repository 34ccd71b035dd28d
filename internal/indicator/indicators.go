// Package indicator computes technical indicators from candle series.
// Every function is pure and deterministic in its inputs: no I/O, no state.
//
// Functions return an ok flag alongside their values. ok is false when the
// series is too short for the lookback or when a degenerate market (flat
// prices, zero volume) forces a neutral placeholder; callers treat !ok as a
// failed condition rather than an error.
package indicator

import (
	"math"

	"signal-engine/internal/market"
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// CalculateSMA calculates the Simple Moving Average of the closing prices.
func CalculateSMA(candles []market.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period), true
}

// CalculateEMA calculates the Exponential Moving Average of the closing
// prices with smoothing 2/(period+1), seeded with the SMA of the first
// period closes.
func CalculateEMA(candles []market.Candle, period int) (float64, bool) {
	closes := closePrices(candles)
	series := emaSeries(closes, period)
	if series == nil {
		return 0, false
	}
	return series[len(series)-1], true
}

// emaSeries returns the EMA of values aligned to the input; entries before
// index period-1 are NaN. Returns nil when values is shorter than period.
func emaSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	out := make([]float64, len(values))
	for i := 0; i < period-1; i++ {
		out[i] = math.NaN()
	}

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	ema := seed / float64(period)
	out[period-1] = ema

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out[i] = ema
	}
	return out
}

func closePrices(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// ============================================================================
// RSI (Wilder smoothing)
// ============================================================================

// CalculateRSI calculates the Relative Strength Index with Wilder smoothing.
// A flat series returns the neutral 50 with ok=false.
func CalculateRSI(candles []market.Candle, period int) (float64, bool) {
	series := rsiSeries(candles, period)
	if series == nil {
		return 50, false
	}
	last := series[len(series)-1]
	if math.IsNaN(last) {
		return 50, false
	}
	return last, true
}

// RSIRising reports whether the RSI has strictly increased over the last
// three candles.
func RSIRising(candles []market.Candle, period int) bool {
	series := rsiSeries(candles, period)
	if series == nil || len(series) < 3 {
		return false
	}
	a, b, c := series[len(series)-3], series[len(series)-2], series[len(series)-1]
	if math.IsNaN(a) || math.IsNaN(b) || math.IsNaN(c) {
		return false
	}
	return a < b && b < c
}

// RSIFalling reports whether RSI has strictly fallen over the last 3 candles.
func RSIFalling(candles []market.Candle, period int) bool {
	series := rsiSeries(candles, period)
	if series == nil || len(series) < 3 {
		return false
	}
	a, b, c := series[len(series)-3], series[len(series)-2], series[len(series)-1]
	if math.IsNaN(a) || math.IsNaN(b) || math.IsNaN(c) {
		return false
	}
	return a > b && b > c
}

// rsiSeries returns RSI values aligned to candles; entries before index
// period are NaN. Flat windows produce NaN entries. Returns nil when the
// series is shorter than period+1.
func rsiSeries(candles []market.Candle, period int) []float64 {
	if period <= 0 || len(candles) < period+1 {
		return nil
	}

	out := make([]float64, len(candles))
	for i := 0; i < period; i++ {
		out[i] = math.NaN()
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFrom(avgGain, avgLoss)

	for i := period + 1; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFrom(avgGain, avgLoss)
	}
	return out
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return math.NaN() // flat window
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ============================================================================
// ATR (Wilder smoothing)
// ============================================================================

// CalculateATR calculates the Average True Range with Wilder smoothing.
func CalculateATR(candles []market.Candle, period int) (float64, bool) {
	series := atrSeries(candles, period)
	if series == nil {
		return 0, false
	}
	return series[len(series)-1], true
}

// atrSeries returns ATR values aligned to candles; entries before index
// period are NaN. Returns nil when the series is shorter than period+1.
func atrSeries(candles []market.Candle, period int) []float64 {
	if period <= 0 || len(candles) < period+1 {
		return nil
	}

	out := make([]float64, len(candles))
	for i := 0; i < period; i++ {
		out[i] = math.NaN()
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += trueRange(candles[i], candles[i-1])
	}
	atr := sum / float64(period)
	out[period] = atr

	for i := period + 1; i < len(candles); i++ {
		atr = (atr*float64(period-1) + trueRange(candles[i], candles[i-1])) / float64(period)
		out[i] = atr
	}
	return out
}

func trueRange(cur, prev market.Candle) float64 {
	return math.Max(cur.High-cur.Low,
		math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
}

// ============================================================================
// MACD
// ============================================================================

// MACDResult holds the MACD line, signal line and histogram. PrevHistogram
// is the histogram of the previous candle, needed for crossover detection.
type MACDResult struct {
	Line          float64
	Signal        float64
	Histogram     float64
	PrevHistogram float64
}

// CalculateMACD calculates MACD with a proper EMA signal line over the MACD
// series. Requires slow+signal+1 candles so the previous histogram is
// defined too.
func CalculateMACD(candles []market.Candle, fast, slow, signal int) (MACDResult, bool) {
	if len(candles) < slow+signal+1 {
		return MACDResult{}, false
	}

	closes := closePrices(candles)
	fastEMA := emaSeries(closes, fast)
	slowEMA := emaSeries(closes, slow)
	if fastEMA == nil || slowEMA == nil {
		return MACDResult{}, false
	}

	// MACD line is defined from index slow-1 onward.
	line := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		line = append(line, fastEMA[i]-slowEMA[i])
	}

	signalSeries := emaSeries(line, signal)
	if signalSeries == nil {
		return MACDResult{}, false
	}

	last := len(line) - 1
	prev := last - 1
	if prev < signal-1 || math.IsNaN(signalSeries[prev]) {
		return MACDResult{}, false
	}

	return MACDResult{
		Line:          line[last],
		Signal:        signalSeries[last],
		Histogram:     line[last] - signalSeries[last],
		PrevHistogram: line[prev] - signalSeries[prev],
	}, true
}

// ============================================================================
// ADX / DI (Wilder smoothing)
// ============================================================================

// ADXResult holds the trend-strength index and the directional indicators.
type ADXResult struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// CalculateADXDI calculates ADX, +DI and -DI. Requires 2*period candles.
// A flat market returns the neutral {0,0,0} with ok=false.
func CalculateADXDI(candles []market.Candle, period int) (ADXResult, bool) {
	if period <= 0 || len(candles) < 2*period+1 {
		return ADXResult{}, false
	}

	n := len(candles)
	smTR, smPlusDM, smMinusDM := 0.0, 0.0, 0.0

	// Seed with plain sums over the first period movements.
	for i := 1; i <= period; i++ {
		tr, pdm, mdm := directionalMovement(candles[i], candles[i-1])
		smTR += tr
		smPlusDM += pdm
		smMinusDM += mdm
	}

	var adx float64
	dxCount := 0
	for i := period + 1; i < n; i++ {
		tr, pdm, mdm := directionalMovement(candles[i], candles[i-1])
		// Wilder smoothing of the running sums.
		smTR = smTR - smTR/float64(period) + tr
		smPlusDM = smPlusDM - smPlusDM/float64(period) + pdm
		smMinusDM = smMinusDM - smMinusDM/float64(period) + mdm

		if smTR == 0 {
			return ADXResult{}, false
		}
		plusDI := 100 * smPlusDM / smTR
		minusDI := 100 * smMinusDM / smTR

		diSum := plusDI + minusDI
		var dx float64
		if diSum > 0 {
			dx = 100 * math.Abs(plusDI-minusDI) / diSum
		}

		dxCount++
		if dxCount <= period {
			adx += dx
			if dxCount == period {
				adx /= float64(period)
			}
		} else {
			adx = (adx*float64(period-1) + dx) / float64(period)
		}
	}

	if dxCount < period {
		return ADXResult{}, false
	}
	if smTR == 0 {
		return ADXResult{}, false
	}

	return ADXResult{
		ADX:     adx,
		PlusDI:  100 * smPlusDM / smTR,
		MinusDI: 100 * smMinusDM / smTR,
	}, true
}

func directionalMovement(cur, prev market.Candle) (tr, plusDM, minusDM float64) {
	up := cur.High - prev.High
	down := prev.Low - cur.Low
	if up > down && up > 0 {
		plusDM = up
	}
	if down > up && down > 0 {
		minusDM = down
	}
	return trueRange(cur, prev), plusDM, minusDM
}

// ============================================================================
// HEIKIN-ASHI
// ============================================================================

// HeikinAshiResult holds the last smoothed candle. Bullish is +1 when the
// HA close is above the HA open, -1 otherwise.
type HeikinAshiResult struct {
	Open    float64
	Close   float64
	Bullish int
}

// CalculateHeikinAshi computes the Heikin-Ashi transform of the series and
// returns the last smoothed candle.
func CalculateHeikinAshi(candles []market.Candle) (HeikinAshiResult, bool) {
	if len(candles) < 2 {
		return HeikinAshiResult{}, false
	}

	haOpen := (candles[0].Open + candles[0].Close) / 2
	haClose := (candles[0].Open + candles[0].High + candles[0].Low + candles[0].Close) / 4
	for i := 1; i < len(candles); i++ {
		haOpen = (haOpen + haClose) / 2
		c := candles[i]
		haClose = (c.Open + c.High + c.Low + c.Close) / 4
	}

	bullish := -1
	if haClose > haOpen {
		bullish = 1
	}
	return HeikinAshiResult{Open: haOpen, Close: haClose, Bullish: bullish}, true
}

// ============================================================================
// SUPERTREND
// ============================================================================

// SuperTrendResult holds the trend direction (+1 up, -1 down) and the
// current band level.
type SuperTrendResult struct {
	Direction int
	Level     float64
}

// CalculateSuperTrend computes the SuperTrend indicator from ATR bands.
func CalculateSuperTrend(candles []market.Candle, period int, multiplier float64) (SuperTrendResult, bool) {
	atr := atrSeries(candles, period)
	if atr == nil {
		return SuperTrendResult{}, false
	}

	var finalUpper, finalLower float64
	direction := 1
	level := 0.0

	for i := period; i < len(candles); i++ {
		c := candles[i]
		mid := (c.High + c.Low) / 2
		basicUpper := mid + multiplier*atr[i]
		basicLower := mid - multiplier*atr[i]

		if i == period {
			finalUpper = basicUpper
			finalLower = basicLower
		} else {
			prevClose := candles[i-1].Close
			if basicUpper < finalUpper || prevClose > finalUpper {
				finalUpper = basicUpper
			}
			if basicLower > finalLower || prevClose < finalLower {
				finalLower = basicLower
			}
		}

		if c.Close > finalUpper {
			direction = 1
		} else if c.Close < finalLower {
			direction = -1
		}

		if direction == 1 {
			level = finalLower
		} else {
			level = finalUpper
		}
	}

	return SuperTrendResult{Direction: direction, Level: level}, true
}

// ============================================================================
// MFI (Money Flow Index)
// ============================================================================

// CalculateMFI calculates the Money Flow Index over the last period candles.
// A window with no money flow in either direction returns the neutral 50
// with ok=false.
func CalculateMFI(candles []market.Candle, period int) (float64, bool) {
	return mfiAt(candles, period, len(candles)-1)
}

// CalculateMFIPrev calculates the MFI one candle back, used for the
// rising/falling condition.
func CalculateMFIPrev(candles []market.Candle, period int) (float64, bool) {
	return mfiAt(candles, period, len(candles)-2)
}

func mfiAt(candles []market.Candle, period int, last int) (float64, bool) {
	if period <= 0 || last < period || last >= len(candles) {
		return 50, false
	}

	positive, negative := 0.0, 0.0
	for i := last - period + 1; i <= last; i++ {
		tp := typicalPrice(candles[i])
		prevTP := typicalPrice(candles[i-1])
		flow := tp * candles[i].Volume
		if tp > prevTP {
			positive += flow
		} else if tp < prevTP {
			negative += flow
		}
	}

	if positive == 0 && negative == 0 {
		return 50, false
	}
	if negative == 0 {
		return 100, true
	}
	ratio := positive / negative
	return 100 - 100/(1+ratio), true
}

func typicalPrice(c market.Candle) float64 {
	return (c.High + c.Low + c.Close) / 3
}

// ============================================================================
// PARABOLIC SAR
// ============================================================================

// PSARResult holds the stop-and-reverse level and the trend it implies
// (+1 when the SAR sits below price, -1 above).
type PSARResult struct {
	SAR   float64
	Trend int
}

// CalculateParabolicSAR computes the Parabolic SAR with the given
// acceleration step and maximum.
func CalculateParabolicSAR(candles []market.Candle, step, maxStep float64) (PSARResult, bool) {
	if len(candles) < 2 {
		return PSARResult{}, false
	}

	uptrend := candles[1].Close >= candles[0].Close
	var sar, ep float64
	if uptrend {
		sar = candles[0].Low
		ep = candles[1].High
	} else {
		sar = candles[0].High
		ep = candles[1].Low
	}
	af := step

	for i := 2; i < len(candles); i++ {
		c := candles[i]
		sar = sar + af*(ep-sar)

		if uptrend {
			// SAR may not enter the prior two candles' range.
			sar = math.Min(sar, math.Min(candles[i-1].Low, candles[i-2].Low))
			if c.Low < sar {
				uptrend = false
				sar = ep
				ep = c.Low
				af = step
				continue
			}
			if c.High > ep {
				ep = c.High
				af = math.Min(af+step, maxStep)
			}
		} else {
			sar = math.Max(sar, math.Max(candles[i-1].High, candles[i-2].High))
			if c.High > sar {
				uptrend = true
				sar = ep
				ep = c.High
				af = step
				continue
			}
			if c.Low < ep {
				ep = c.Low
				af = math.Min(af+step, maxStep)
			}
		}
	}

	trend := -1
	if uptrend {
		trend = 1
	}
	return PSARResult{SAR: sar, Trend: trend}, true
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// BollingerResult holds the upper, middle and lower bands.
type BollingerResult struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateBollinger calculates Bollinger Bands around the period SMA.
func CalculateBollinger(candles []market.Candle, period int, k float64) (BollingerResult, bool) {
	middle, ok := CalculateSMA(candles, period)
	if !ok {
		return BollingerResult{}, false
	}

	variance := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		diff := candles[i].Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return BollingerResult{
		Upper:  middle + k*stdDev,
		Middle: middle,
		Lower:  middle - k*stdDev,
	}, true
}

// ============================================================================
// VOLUME
// ============================================================================

// VolumeResult holds the average volume over the lookback (excluding the
// current candle), the current candle's volume and their ratio.
type VolumeResult struct {
	Average float64
	Current float64
	Ratio   float64
}

// CalculateVolumeStats compares the last candle's volume against the
// average of the preceding period candles.
func CalculateVolumeStats(candles []market.Candle, period int) (VolumeResult, bool) {
	if period <= 0 || len(candles) < period+1 {
		return VolumeResult{}, false
	}

	sum := 0.0
	for i := len(candles) - period - 1; i < len(candles)-1; i++ {
		sum += candles[i].Volume
	}
	avg := sum / float64(period)
	current := candles[len(candles)-1].Volume

	if avg == 0 {
		return VolumeResult{Average: 0, Current: current, Ratio: 0}, false
	}
	return VolumeResult{Average: avg, Current: current, Ratio: current / avg}, true
}
