package provider

import (
	"context"

	"signal-engine/internal/market"
)

// MaxCandleLimit is the largest candle batch any provider accepts.
const MaxCandleLimit = 1000

// SymbolInfo is one tradable instrument with enough volume context to rank
// a scan universe.
type SymbolInfo struct {
	Symbol      string  `json:"symbol"`
	QuoteVolume float64 `json:"quote_volume"`
}

// Provider is a market data vendor for exactly one market. Implementations
// respect their own rate limiter inside every call and never return an
// unclosed last candle.
type Provider interface {
	Name() string
	Market() market.Market

	// ListSymbols returns the tradable universe for the provider's market.
	ListSymbols(ctx context.Context) ([]SymbolInfo, error)

	// FetchCandles returns up to limit closed candles with strictly
	// ascending open times, oldest first.
	FetchCandles(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error)
}

// dropUnclosed trims candles whose close time has not passed yet. Vendors
// routinely include the forming candle at the tail.
func dropUnclosed(candles []market.Candle, nowMs int64) []market.Candle {
	out := candles[:0]
	for _, c := range candles {
		if c.CloseTime < nowMs {
			out = append(out, c)
		}
	}
	return out
}
