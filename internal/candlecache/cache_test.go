package candlecache

import (
	"testing"
	"time"

	"signal-engine/internal/market"
)

var testKey = market.Key{Symbol: "BTCUSDT", Timeframe: market.TF1h}

const hourMs = int64(3600_000)

// hourly builds contiguous 1h candles starting at startMs.
func hourly(startMs int64, closes ...float64) []market.Candle {
	candles := make([]market.Candle, len(closes))
	for i, c := range closes {
		open := startMs + int64(i)*hourMs
		candles[i] = market.Candle{
			OpenTime:  open,
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    100,
			CloseTime: open + hourMs - 1,
		}
	}
	return candles
}

func farFuture(candles []market.Candle) time.Time {
	last := candles[len(candles)-1]
	return time.UnixMilli(last.CloseTime + 1)
}

func TestUpdateAndLatest(t *testing.T) {
	cache := New(200)
	candles := hourly(0, 100, 101, 102)

	changed := cache.Update(testKey, candles, farFuture(candles))
	if !changed {
		t.Error("first update should report a changed last candle")
	}

	latest, ok := cache.Latest(testKey)
	if !ok {
		t.Fatal("expected a latest candle")
	}
	if latest.Close != 102 {
		t.Errorf("expected latest close 102, got %f", latest.Close)
	}
}

func TestUpdateDeduplicates(t *testing.T) {
	cache := New(200)
	candles := hourly(0, 100, 101, 102)
	now := farFuture(candles)

	cache.Update(testKey, candles, now)
	changed := cache.Update(testKey, candles, now)
	if changed {
		t.Error("re-submitting the same candles should not change the series")
	}
	if got := cache.Len(testKey); got != 3 {
		t.Errorf("expected 3 candles after duplicate update, got %d", got)
	}
}

func TestSeriesStrictlyAscending(t *testing.T) {
	cache := New(200)
	first := hourly(0, 100, 101)
	second := hourly(2*hourMs, 102, 103)
	now := farFuture(second)

	cache.Update(testKey, first, now)
	cache.Update(testKey, second, now)

	series := cache.Series(testKey)
	if len(series) != 4 {
		t.Fatalf("expected 4 candles, got %d", len(series))
	}
	for i := 1; i < len(series); i++ {
		if series[i].OpenTime != series[i-1].OpenTime+hourMs {
			t.Errorf("candle %d breaks the hourly grid", i)
		}
	}
}

func TestCapEvictsOldest(t *testing.T) {
	cache := New(5)
	closes := make([]float64, 8)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	candles := hourly(0, closes...)
	cache.Update(testKey, candles, farFuture(candles))

	series := cache.Series(testKey)
	if len(series) != 5 {
		t.Fatalf("expected series capped at 5, got %d", len(series))
	}
	if series[0].Close != 103 {
		t.Errorf("expected oldest retained close 103, got %f", series[0].Close)
	}
}

func TestUnclosedCandleNeverCached(t *testing.T) {
	cache := New(200)
	candles := hourly(0, 100, 101, 102)
	// now falls inside the last candle's interval, so it is still open.
	now := time.UnixMilli(candles[2].OpenTime + hourMs/2)

	cache.Update(testKey, candles, now)
	if got := cache.Len(testKey); got != 2 {
		t.Errorf("expected only the 2 closed candles cached, got %d", got)
	}
}

func TestGapRestartsSeries(t *testing.T) {
	cache := New(200)
	first := hourly(0, 100, 101)
	// Skip two hours: the grid is broken, the series must restart.
	gapped := hourly(4*hourMs, 105, 106)
	now := farFuture(gapped)

	cache.Update(testKey, first, now)
	cache.Update(testKey, gapped, now)

	series := cache.Series(testKey)
	if len(series) != 2 {
		t.Fatalf("expected restarted series of 2 candles, got %d", len(series))
	}
	if series[0].Close != 105 {
		t.Errorf("expected restarted series to start at 105, got %f", series[0].Close)
	}
}

func TestIndependentKeys(t *testing.T) {
	cache := New(200)
	other := market.Key{Symbol: "ETHUSDT", Timeframe: market.TF1h}
	candles := hourly(0, 100)
	cache.Update(testKey, candles, farFuture(candles))

	if _, ok := cache.Latest(other); ok {
		t.Error("unrelated key should be empty")
	}
	if got := len(cache.Keys()); got != 1 {
		t.Errorf("expected 1 cached key, got %d", got)
	}
}
