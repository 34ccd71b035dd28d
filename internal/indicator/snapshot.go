package indicator

import "signal-engine/internal/market"

// Params bundles the lookback settings for a full snapshot.
type Params struct {
	RSIPeriod       int
	ATRPeriod       int
	EMAFast         int
	EMAMid          int
	EMASlow         int
	MACDFast        int
	MACDSlow        int
	MACDSignal      int
	ADXPeriod       int
	SuperTrendPer   int
	SuperTrendMult  float64
	MFIPeriod       int
	PSARStep        float64
	PSARMax         float64
	BollingerPeriod int
	BollingerK      float64
	VolumePeriod    int
}

// DefaultParams returns the standard lookback settings.
func DefaultParams() Params {
	return Params{
		RSIPeriod:       14,
		ATRPeriod:       14,
		EMAFast:         9,
		EMAMid:          21,
		EMASlow:         50,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		ADXPeriod:       14,
		SuperTrendPer:   10,
		SuperTrendMult:  3,
		MFIPeriod:       14,
		PSARStep:        0.02,
		PSARMax:         0.2,
		BollingerPeriod: 20,
		BollingerK:      2,
		VolumePeriod:    20,
	}
}

// MinHistory returns the number of candles required before every indicator
// in a snapshot is defined.
func (p Params) MinHistory() int {
	min := p.EMASlow
	if n := p.MACDSlow + p.MACDSignal + 1; n > min {
		min = n
	}
	if n := 2*p.ADXPeriod + 1; n > min {
		min = n
	}
	if n := p.BollingerPeriod; n > min {
		min = n
	}
	if n := p.VolumePeriod + 1; n > min {
		min = n
	}
	return min
}

// Snapshot carries every indicator evaluated on the most recent candle of a
// series. Each OK flag reports whether the indicator was defined; scoring
// treats an undefined indicator as a failed condition.
type Snapshot struct {
	Close float64

	RSI        float64
	RSIOK      bool
	RSIRising  bool
	RSIFalling bool

	ATR   float64
	ATROK bool

	EMAFast   float64
	EMAFastOK bool
	EMAMid    float64
	EMAMidOK  bool
	EMASlow   float64
	EMASlowOK bool

	MACD   MACDResult
	MACDOK bool

	ADX   ADXResult
	ADXOK bool

	HeikinAshi   HeikinAshiResult
	HeikinAshiOK bool

	SuperTrend   SuperTrendResult
	SuperTrendOK bool

	MFI       float64
	MFIOK     bool
	MFIPrev   float64
	MFIPrevOK bool

	PSAR   PSARResult
	PSAROK bool

	Bollinger   BollingerResult
	BollingerOK bool

	Volume   VolumeResult
	VolumeOK bool
}

// ComputeSnapshot evaluates the full indicator battery on the series.
func ComputeSnapshot(candles []market.Candle, p Params) Snapshot {
	var s Snapshot
	if len(candles) == 0 {
		return s
	}
	s.Close = candles[len(candles)-1].Close

	s.RSI, s.RSIOK = CalculateRSI(candles, p.RSIPeriod)
	s.RSIRising = RSIRising(candles, p.RSIPeriod)
	s.RSIFalling = RSIFalling(candles, p.RSIPeriod)
	s.ATR, s.ATROK = CalculateATR(candles, p.ATRPeriod)
	s.EMAFast, s.EMAFastOK = CalculateEMA(candles, p.EMAFast)
	s.EMAMid, s.EMAMidOK = CalculateEMA(candles, p.EMAMid)
	s.EMASlow, s.EMASlowOK = CalculateEMA(candles, p.EMASlow)
	s.MACD, s.MACDOK = CalculateMACD(candles, p.MACDFast, p.MACDSlow, p.MACDSignal)
	s.ADX, s.ADXOK = CalculateADXDI(candles, p.ADXPeriod)
	s.HeikinAshi, s.HeikinAshiOK = CalculateHeikinAshi(candles)
	s.SuperTrend, s.SuperTrendOK = CalculateSuperTrend(candles, p.SuperTrendPer, p.SuperTrendMult)
	s.MFI, s.MFIOK = CalculateMFI(candles, p.MFIPeriod)
	s.MFIPrev, s.MFIPrevOK = CalculateMFIPrev(candles, p.MFIPeriod)
	s.PSAR, s.PSAROK = CalculateParabolicSAR(candles, p.PSARStep, p.PSARMax)
	s.Bollinger, s.BollingerOK = CalculateBollinger(candles, p.BollingerPeriod, p.BollingerK)
	s.Volume, s.VolumeOK = CalculateVolumeStats(candles, p.VolumePeriod)
	return s
}
