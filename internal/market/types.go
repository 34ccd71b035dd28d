package market

import (
	"fmt"
	"strconv"
	"time"
)

// Market identifies which venue class a symbol trades on.
type Market string

const (
	Spot      Market = "SPOT"
	Futures   Market = "FUTURES"
	Forex     Market = "FOREX"
	Commodity Market = "COMMODITY"
)

// Markets lists all supported markets in scan order.
var Markets = []Market{Spot, Futures, Forex, Commodity}

// Valid reports whether m is a known market.
func (m Market) Valid() bool {
	switch m {
	case Spot, Futures, Forex, Commodity:
		return true
	}
	return false
}

// Timeframe represents the candle interval.
type Timeframe string

const (
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// Timeframes lists all supported timeframes, lowest priority first.
var Timeframes = []Timeframe{TF15m, TF1h, TF4h, TF1d}

// Priority returns the ordinal priority of a timeframe. Higher timeframes
// supersede lower ones when two signals collide on the same identity key.
// Unknown timeframes rank below everything.
func (tf Timeframe) Priority() int {
	switch tf {
	case TF15m:
		return 1
	case TF1h:
		return 2
	case TF4h:
		return 3
	case TF1d:
		return 4
	}
	return 0
}

// Duration returns the candle period of the timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	case TF1d:
		return 24 * time.Hour
	}
	return 0
}

// Valid reports whether tf is a supported timeframe.
func (tf Timeframe) Valid() bool {
	return tf.Priority() > 0
}

// ParseTimeframe converts an interval string to a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("unsupported timeframe %q", s)
	}
	return tf, nil
}

// Direction is the directional bias of a signal.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Candle is a single closed OHLCV observation.
type Candle struct {
	OpenTime  int64   `json:"open_time"` // milliseconds since epoch
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"close_time"`
}

// OpenAt returns the candle open time as a UTC time.
func (c Candle) OpenAt() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// FormatPrice renders a price as a decimal string with 8 fractional digits,
// the precision carried on the wire for entry/SL/TP levels.
func FormatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 8, 64)
}

// Key identifies one candle series.
type Key struct {
	Symbol    string
	Timeframe Timeframe
}

func (k Key) String() string {
	return k.Symbol + ":" + string(k.Timeframe)
}

// IdentityKey identifies an active signal. At most one signal exists per key.
type IdentityKey struct {
	Symbol    string
	Direction Direction
	Market    Market
}

func (k IdentityKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Symbol, k.Direction, k.Market)
}
