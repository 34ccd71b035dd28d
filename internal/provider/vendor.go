package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/market"
	"signal-engine/internal/ratelimit"
)

// VendorConfig parameterizes an Alpha-Vantage-style adapter. The same
// client serves forex and commodities; commodities ride the FX endpoints
// as currency pairs (XAU/USD and friends).
type VendorConfig struct {
	Market     market.Market
	BaseURL    string
	APIKey     string
	Symbols    []string // configured universe, e.g. "EURUSD", "XAUUSD"
	Limiter    *ratelimit.Limiter
	HTTPClient *http.Client
}

// Vendor adapts an Alpha-Vantage-style FX REST API to the Provider
// interface. The vendor has no native 4h series; 4h candles are aggregated
// from four aligned 1h candles inside the adapter.
type Vendor struct {
	name       string
	market     market.Market
	baseURL    string
	apiKey     string
	symbols    []string
	limiter    *ratelimit.Limiter
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time
}

// NewVendor builds a forex or commodity adapter.
func NewVendor(cfg VendorConfig, log zerolog.Logger) (*Vendor, error) {
	v := &Vendor{
		market:     cfg.Market,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		symbols:    cfg.Symbols,
		limiter:    cfg.Limiter,
		httpClient: cfg.HTTPClient,
		now:        time.Now,
	}
	switch cfg.Market {
	case market.Forex:
		v.name = "forex-vendor"
	case market.Commodity:
		v.name = "commodity-vendor"
	default:
		return nil, fmt.Errorf("vendor adapter does not serve market %s", cfg.Market)
	}
	if v.limiter == nil {
		return nil, fmt.Errorf("vendor adapter requires a rate limiter")
	}
	if v.httpClient == nil {
		v.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	v.log = log.With().Str("provider", v.name).Logger()
	return v, nil
}

func (v *Vendor) Name() string          { return v.name }
func (v *Vendor) Market() market.Market { return v.market }

// ListSymbols returns the configured universe. The vendor has no volume
// ranking; scan order follows configuration order.
func (v *Vendor) ListSymbols(_ context.Context) ([]SymbolInfo, error) {
	out := make([]SymbolInfo, len(v.symbols))
	for i, s := range v.symbols {
		out[i] = SymbolInfo{Symbol: s}
	}
	return out, nil
}

// FetchCandles fetches closed candles for one pair. 15m and 1h map to
// FX_INTRADAY, 1d to FX_DAILY, and 4h is synthesized from 1h.
func (v *Vendor) FetchCandles(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	if limit <= 0 || limit > MaxCandleLimit {
		return nil, newError(KindInternal, v.name, symbol, fmt.Errorf("limit %d outside 1..%d", limit, MaxCandleLimit))
	}

	if tf == market.TF4h {
		// Four 1h candles per 4h candle, plus slack for partial buckets.
		hourly, err := v.FetchCandles(ctx, symbol, market.TF1h, clampLimit(limit*4+4))
		if err != nil {
			return nil, err
		}
		candles := aggregate4h(hourly)
		return tail(candles, limit), nil
	}

	from, to, err := splitPair(symbol)
	if err != nil {
		return nil, newError(KindSymbolUnknown, v.name, symbol, err)
	}

	if err := v.limiter.Acquire(ctx, 1); err != nil {
		return nil, newError(KindInternal, v.name, symbol, err)
	}

	params := url.Values{}
	params.Set("from_symbol", from)
	params.Set("to_symbol", to)
	params.Set("apikey", v.apiKey)
	params.Set("outputsize", "full")

	var seriesKey, layout string
	period := tf.Duration().Milliseconds()
	switch tf {
	case market.TF15m:
		params.Set("function", "FX_INTRADAY")
		params.Set("interval", "15min")
		seriesKey = "Time Series FX (15min)"
		layout = "2006-01-02 15:04:05"
	case market.TF1h:
		params.Set("function", "FX_INTRADAY")
		params.Set("interval", "60min")
		seriesKey = "Time Series FX (60min)"
		layout = "2006-01-02 15:04:05"
	case market.TF1d:
		params.Set("function", "FX_DAILY")
		seriesKey = "Time Series FX (Daily)"
		layout = "2006-01-02"
	default:
		return nil, newError(KindInternal, v.name, symbol, fmt.Errorf("unsupported timeframe %s", tf))
	}

	endpoint := fmt.Sprintf("%s/query?%s", v.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, newError(KindInternal, v.name, symbol, err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, newError(KindTransientNetwork, v.name, symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindTransientNetwork, v.name, symbol, err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return nil, newError(KindTransientNetwork, v.name, symbol, fmt.Errorf("HTTP %d", resp.StatusCode))
		}
		return nil, newError(KindProvider, v.name, symbol, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body))
	}

	candles, err := v.parseSeries(body, seriesKey, layout, period, symbol)
	if err != nil {
		return nil, err
	}
	candles = dropUnclosed(candles, v.now().UnixMilli())
	return tail(candles, limit), nil
}

// vendorBar is one OHLC record in the vendor's numbered-key format.
type vendorBar struct {
	Open  string `json:"1. open"`
	High  string `json:"2. high"`
	Low   string `json:"3. low"`
	Close string `json:"4. close"`
}

func (v *Vendor) parseSeries(body []byte, seriesKey, layout string, period int64, symbol string) ([]market.Candle, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, newError(KindProvider, v.name, symbol, fmt.Errorf("error parsing response: %w", err))
	}

	// The vendor reports errors inside a 200 response.
	for key, kind := range map[string]Kind{
		"Note":          KindRateLimited,
		"Information":   KindRateLimited,
		"Error Message": KindProvider,
	} {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		var msg string
		_ = json.Unmarshal(raw, &msg)
		if kind == KindProvider {
			lower := strings.ToLower(msg)
			if strings.Contains(lower, "apikey") || strings.Contains(lower, "api key") {
				kind = KindAuth
			} else if strings.Contains(lower, "invalid api call") {
				kind = KindSymbolUnknown
			}
		}
		return nil, newError(kind, v.name, symbol, fmt.Errorf("%s", msg))
	}

	raw, ok := envelope[seriesKey]
	if !ok {
		return nil, newError(KindProvider, v.name, symbol, fmt.Errorf("response missing %q", seriesKey))
	}
	var series map[string]vendorBar
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, newError(KindProvider, v.name, symbol, fmt.Errorf("error parsing series: %w", err))
	}

	candles := make([]market.Candle, 0, len(series))
	for ts, bar := range series {
		t, err := time.ParseInLocation(layout, ts, time.UTC)
		if err != nil {
			return nil, newError(KindProvider, v.name, symbol, fmt.Errorf("bad timestamp %q: %w", ts, err))
		}
		open := t.UnixMilli()
		candles = append(candles, market.Candle{
			OpenTime:  open,
			Open:      parsePrice(bar.Open),
			High:      parsePrice(bar.High),
			Low:       parsePrice(bar.Low),
			Close:     parsePrice(bar.Close),
			CloseTime: open + period - 1,
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime < candles[j].OpenTime })
	return candles, nil
}

// aggregate4h folds aligned 1h candles into 4h candles. Only complete
// buckets of four are emitted.
func aggregate4h(hourly []market.Candle) []market.Candle {
	const fourHours = 4 * 3600_000
	out := make([]market.Candle, 0, len(hourly)/4)

	var bucket []market.Candle
	var bucketStart int64 = -1
	flush := func() {
		if len(bucket) != 4 {
			bucket = bucket[:0]
			return
		}
		agg := market.Candle{
			OpenTime:  bucketStart,
			Open:      bucket[0].Open,
			High:      bucket[0].High,
			Low:       bucket[0].Low,
			Close:     bucket[3].Close,
			CloseTime: bucketStart + fourHours - 1,
		}
		for _, c := range bucket {
			if c.High > agg.High {
				agg.High = c.High
			}
			if c.Low < agg.Low {
				agg.Low = c.Low
			}
			agg.Volume += c.Volume
		}
		out = append(out, agg)
		bucket = bucket[:0]
	}

	for _, c := range hourly {
		start := c.OpenTime - (c.OpenTime % fourHours)
		if start != bucketStart {
			flush()
			bucketStart = start
		}
		bucket = append(bucket, c)
	}
	flush()
	return out
}

func splitPair(symbol string) (from, to string, err error) {
	if i := strings.IndexByte(symbol, '/'); i > 0 {
		return symbol[:i], symbol[i+1:], nil
	}
	if len(symbol) == 6 {
		return symbol[:3], symbol[3:], nil
	}
	return "", "", fmt.Errorf("cannot split pair %q", symbol)
}

func parsePrice(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func clampLimit(n int) int {
	if n > MaxCandleLimit {
		return MaxCandleLimit
	}
	return n
}

func tail(candles []market.Candle, limit int) []market.Candle {
	if len(candles) <= limit {
		return candles
	}
	return candles[len(candles)-limit:]
}
