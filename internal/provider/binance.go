package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/market"
	"signal-engine/internal/ratelimit"
)

const (
	SpotBaseURL    = "https://api.binance.com"
	FuturesBaseURL = "https://fapi.binance.com"
)

// BinanceConfig parameterizes one Binance adapter. The same client serves
// spot and futures: only the market, base URL, and API prefix differ.
type BinanceConfig struct {
	Market     market.Market
	BaseURL    string
	APIKey     string
	QuoteAsset string // universe filter, e.g. "USDT"
	Limiter    *ratelimit.Limiter
	HTTPClient *http.Client
}

// Binance adapts the Binance klines REST API to the Provider interface.
type Binance struct {
	name       string
	market     market.Market
	baseURL    string
	apiPrefix  string
	apiKey     string
	quoteAsset string
	limiter    *ratelimit.Limiter
	httpClient *http.Client
	log        zerolog.Logger
}

// NewBinance builds a spot or futures adapter.
func NewBinance(cfg BinanceConfig, log zerolog.Logger) (*Binance, error) {
	b := &Binance{
		market:     cfg.Market,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		quoteAsset: cfg.QuoteAsset,
		limiter:    cfg.Limiter,
		httpClient: cfg.HTTPClient,
	}
	switch cfg.Market {
	case market.Spot:
		b.name = "binance-spot"
		b.apiPrefix = "/api/v3"
		if b.baseURL == "" {
			b.baseURL = SpotBaseURL
		}
	case market.Futures:
		b.name = "binance-futures"
		b.apiPrefix = "/fapi/v1"
		if b.baseURL == "" {
			b.baseURL = FuturesBaseURL
		}
	default:
		return nil, fmt.Errorf("binance adapter does not serve market %s", cfg.Market)
	}
	if b.limiter == nil {
		return nil, fmt.Errorf("binance adapter requires a rate limiter")
	}
	if b.httpClient == nil {
		b.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	b.log = log.With().Str("provider", b.name).Logger()
	return b, nil
}

func (b *Binance) Name() string          { return b.name }
func (b *Binance) Market() market.Market { return b.market }

// klinesWeight follows the Binance schedule: heavier for larger limits.
func klinesWeight(limit int) int {
	switch {
	case limit <= 100:
		return 1
	case limit <= 500:
		return 2
	}
	return 5
}

const tickerWeight = 40

// FetchCandles fetches closed klines for one symbol.
func (b *Binance) FetchCandles(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	if limit <= 0 || limit > MaxCandleLimit {
		return nil, newError(KindInternal, b.name, symbol, fmt.Errorf("limit %d outside 1..%d", limit, MaxCandleLimit))
	}
	if err := b.limiter.Acquire(ctx, klinesWeight(limit)); err != nil {
		return nil, newError(KindInternal, b.name, symbol, err)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", string(tf))
	params.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s%s/klines?%s", b.baseURL, b.apiPrefix, params.Encode())

	body, err := b.get(ctx, endpoint, symbol)
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, newError(KindProvider, b.name, symbol, fmt.Errorf("error parsing klines: %w", err))
	}

	candles := make([]market.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 7 {
			return nil, newError(KindProvider, b.name, symbol, fmt.Errorf("kline row has %d fields", len(k)))
		}
		candles = append(candles, market.Candle{
			OpenTime:  asInt64(k[0]),
			Open:      asFloat(k[1]),
			High:      asFloat(k[2]),
			Low:       asFloat(k[3]),
			Close:     asFloat(k[4]),
			Volume:    asFloat(k[5]),
			CloseTime: asInt64(k[6]),
		})
	}
	return dropUnclosed(candles, time.Now().UnixMilli()), nil
}

// ticker24 is the slice of the 24hr ticker payload the universe ranking
// needs.
type ticker24 struct {
	Symbol      string  `json:"symbol"`
	QuoteVolume float64 `json:"quoteVolume,string"`
}

// ListSymbols returns every symbol quoted in the configured asset, with its
// 24h quote volume for ranking.
func (b *Binance) ListSymbols(ctx context.Context) ([]SymbolInfo, error) {
	if err := b.limiter.Acquire(ctx, tickerWeight); err != nil {
		return nil, newError(KindInternal, b.name, "", err)
	}

	endpoint := fmt.Sprintf("%s%s/ticker/24hr", b.baseURL, b.apiPrefix)
	body, err := b.get(ctx, endpoint, "")
	if err != nil {
		return nil, err
	}

	var tickers []ticker24
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, newError(KindProvider, b.name, "", fmt.Errorf("error parsing tickers: %w", err))
	}

	symbols := make([]SymbolInfo, 0, len(tickers))
	for _, t := range tickers {
		if b.quoteAsset != "" && !strings.HasSuffix(t.Symbol, b.quoteAsset) {
			continue
		}
		symbols = append(symbols, SymbolInfo{Symbol: t.Symbol, QuoteVolume: t.QuoteVolume})
	}
	return symbols, nil
}

func (b *Binance) get(ctx context.Context, endpoint, symbol string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, newError(KindInternal, b.name, symbol, err)
	}
	if b.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, newError(KindTransientNetwork, b.name, symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindTransientNetwork, b.name, symbol, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, b.classify(resp, body, symbol)
	}
	return body, nil
}

// apiError is the Binance error envelope.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

const binanceInvalidSymbol = -1121

func (b *Binance) classify(resp *http.Response, body []byte, symbol string) error {
	var payload apiError
	_ = json.Unmarshal(body, &payload)
	base := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418:
		e := newError(KindRateLimited, b.name, symbol, base)
		if after := resp.Header.Get("Retry-After"); after != "" {
			if secs, err := strconv.Atoi(after); err == nil {
				e.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		b.log.Warn().Int("status", resp.StatusCode).Dur("retry_after", e.RetryAfter).Msg("rate limited")
		return e
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return newError(KindAuth, b.name, symbol, base)
	case payload.Code == binanceInvalidSymbol:
		return newError(KindSymbolUnknown, b.name, symbol, base)
	}
	// 5xx and unrecognized API errors are provider-side failures; the
	// fetch layer retries them like transient ones.
	return newError(KindProvider, b.name, symbol, base)
}

func asFloat(v interface{}) float64 {
	switch x := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	case float64:
		return x
	default:
		return 0
	}
}

func asInt64(v interface{}) int64 {
	switch x := v.(type) {
	case float64:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	default:
		return 0
	}
}
