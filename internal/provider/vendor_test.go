package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/market"
	"signal-engine/internal/ratelimit"
)

func newForexAdapter(t *testing.T, handler http.HandlerFunc) *Vendor {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	v, err := NewVendor(VendorConfig{
		Market:  market.Forex,
		BaseURL: server.URL,
		APIKey:  "demo",
		Symbols: []string{"EURUSD", "GBPUSD"},
		Limiter: ratelimit.New(60),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return v
}

func TestVendorFetchHourly(t *testing.T) {
	v := newForexAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("function") != "FX_INTRADAY" || q.Get("interval") != "60min" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("from_symbol") != "EUR" || q.Get("to_symbol") != "USD" {
			t.Errorf("bad pair split: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{
			"Time Series FX (60min)": {
				"2025-06-01 10:00:00": {"1. open":"1.0850","2. high":"1.0870","3. low":"1.0840","4. close":"1.0860"},
				"2025-06-01 11:00:00": {"1. open":"1.0860","2. high":"1.0880","3. low":"1.0850","4. close":"1.0875"}
			}
		}`))
	})
	v.now = func() time.Time { return time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC) }

	candles, err := v.FetchCandles(context.Background(), "EURUSD", market.TF1h, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].OpenTime >= candles[1].OpenTime {
		t.Error("candles must be ascending")
	}
	if candles[1].Close != 1.0875 {
		t.Errorf("bad parse: %+v", candles[1])
	}
}

func TestVendorDropsFormingCandle(t *testing.T) {
	v := newForexAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"Time Series FX (60min)": {
				"2025-06-01 10:00:00": {"1. open":"1.0850","2. high":"1.0870","3. low":"1.0840","4. close":"1.0860"},
				"2025-06-01 11:00:00": {"1. open":"1.0860","2. high":"1.0880","3. low":"1.0850","4. close":"1.0875"}
			}
		}`))
	})
	// Clock inside the 11:00 candle: it is still forming.
	v.now = func() time.Time { return time.Date(2025, 6, 1, 11, 30, 0, 0, time.UTC) }

	candles, err := v.FetchCandles(context.Background(), "EURUSD", market.TF1h, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 1 {
		t.Errorf("forming candle must be dropped, got %d", len(candles))
	}
}

func TestVendorSynthesizes4h(t *testing.T) {
	v := newForexAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("interval") != "60min" {
			t.Errorf("4h must be fetched as 1h, got %s", r.URL.RawQuery)
		}
		series := "{"
		// Eight aligned hours: 00:00..07:00 → two complete 4h buckets.
		for h := 0; h < 8; h++ {
			if h > 0 {
				series += ","
			}
			series += fmt.Sprintf(`"2025-06-01 %02d:00:00": {"1. open":"%d","2. high":"%d","3. low":"%d","4. close":"%d"}`,
				h, 100+h, 110+h, 90+h, 101+h)
		}
		series += "}"
		w.Write([]byte(`{"Time Series FX (60min)": ` + series + `}`))
	})
	v.now = func() time.Time { return time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC) }

	candles, err := v.FetchCandles(context.Background(), "EURUSD", market.TF4h, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 aggregated candles, got %d", len(candles))
	}
	first := candles[0]
	if first.Open != 100 || first.Close != 104 {
		t.Errorf("bucket must open at its first hour and close at its fourth: %+v", first)
	}
	if first.High != 113 || first.Low != 90 {
		t.Errorf("bucket must span the extremes of its hours: %+v", first)
	}
	if first.CloseTime-first.OpenTime != 4*3600_000-1 {
		t.Errorf("bucket must span exactly 4 hours: %+v", first)
	}
}

func TestVendor4hDropsIncompleteBucket(t *testing.T) {
	hourly := []market.Candle{}
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	// One full bucket and a dangling fifth hour.
	for h := 0; h < 5; h++ {
		open := base + int64(h)*3600_000
		hourly = append(hourly, market.Candle{OpenTime: open, Open: 1, High: 1, Low: 1, Close: 1, CloseTime: open + 3600_000 - 1})
	}
	out := aggregate4h(hourly)
	if len(out) != 1 {
		t.Errorf("incomplete trailing bucket must be dropped, got %d", len(out))
	}
}

func TestVendorRateLimitNote(t *testing.T) {
	v := newForexAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note": "Thank you for using our API! Our standard API rate limit is 25 requests per day."}`))
	})

	_, err := v.FetchCandles(context.Background(), "EURUSD", market.TF1h, 10)
	if got := KindOf(err); got != KindRateLimited {
		t.Errorf("a Note payload means rate limiting, got %s (%v)", got, err)
	}
}

func TestVendorInvalidCall(t *testing.T) {
	v := newForexAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Error Message": "Invalid API call. Please retry or visit the documentation."}`))
	})

	_, err := v.FetchCandles(context.Background(), "EURUSD", market.TF1h, 10)
	if got := KindOf(err); got != KindSymbolUnknown {
		t.Errorf("an invalid API call means the symbol is unknown, got %s", got)
	}
}

func TestVendorListSymbolsIsConfigured(t *testing.T) {
	v := newForexAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	symbols, err := v.ListSymbols(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(symbols) != 2 || symbols[0].Symbol != "EURUSD" {
		t.Errorf("universe must follow configuration, got %+v", symbols)
	}
}

func TestSplitPair(t *testing.T) {
	cases := []struct {
		in       string
		from, to string
		ok       bool
	}{
		{"EURUSD", "EUR", "USD", true},
		{"XAU/USD", "XAU", "USD", true},
		{"BAD", "", "", false},
	}
	for _, tc := range cases {
		from, to, err := splitPair(tc.in)
		if tc.ok != (err == nil) || from != tc.from || to != tc.to {
			t.Errorf("splitPair(%q) = %q %q %v", tc.in, from, to, err)
		}
	}
}
