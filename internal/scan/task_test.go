package scan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/candlecache"
	"signal-engine/internal/events"
	"signal-engine/internal/lifecycle"
	"signal-engine/internal/market"
	"signal-engine/internal/metrics"
	"signal-engine/internal/provider"
	"signal-engine/internal/scoring"
)

// stubProvider serves scripted candles per symbol.
type stubProvider struct {
	mu      sync.Mutex
	symbols []provider.SymbolInfo
	candles map[string][]market.Candle
	errs    map[string]error
	lists   int
}

func (s *stubProvider) Name() string          { return "stub" }
func (s *stubProvider) Market() market.Market { return market.Spot }

func (s *stubProvider) ListSymbols(context.Context) ([]provider.SymbolInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	return s.symbols, nil
}

func (s *stubProvider) FetchCandles(_ context.Context, symbol string, _ market.Timeframe, limit int) ([]market.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[symbol]; err != nil {
		return nil, err
	}
	candles := s.candles[symbol]
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.SignalEvent
}

func (r *recordingSink) Emit(ev events.SignalEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) byKind(kind events.Kind) []events.SignalEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.SignalEvent
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// uptrend builds a steadily rising hourly series ending just before now.
func uptrend(n int, now time.Time) []market.Candle {
	end := now.Truncate(time.Hour)
	start := end.Add(-time.Duration(n) * time.Hour)
	candles := make([]market.Candle, n)
	price := 100.0
	for i := 0; i < n; i++ {
		open := start.Add(time.Duration(i) * time.Hour).UnixMilli()
		candles[i] = market.Candle{
			OpenTime:  open,
			Open:      price - 1,
			High:      price + 2,
			Low:       price - 2,
			Close:     price,
			Volume:    1000,
			CloseTime: open + 3600_000 - 1,
		}
		price += 2
	}
	return candles
}

func newTestTask(t *testing.T, stub *stubProvider, minConfidence float64) (*Task, *recordingSink) {
	t.Helper()
	cfg := scoring.Default(market.Spot, market.TF1h)
	cfg.MinConfidence = minConfidence
	cfg.MaxCandlesCache = 60
	registry, err := scoring.NewRegistry([]scoring.Config{cfg})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sink := &recordingSink{}
	fetcher := provider.NewFetcher(stub, 4, zerolog.Nop())
	task := NewTask(Config{
		Fetcher:  fetcher,
		Universe: NewUniverse(fetcher, nil, zerolog.Nop()),
		Cache:    candlecache.New(60),
		Registry: registry,
		Manager:  lifecycle.New(sink, zerolog.Nop()),
		Metrics:  metrics.New(),
		TopN:     10,
	}, zerolog.Nop())
	task.retryBase = time.Millisecond
	return task, sink
}

func TestRunEmitsSignalsForTrendingSymbols(t *testing.T) {
	now := time.Now()
	stub := &stubProvider{
		symbols: []provider.SymbolInfo{
			{Symbol: "BTCUSDT", QuoteVolume: 2e6},
			{Symbol: "ETHUSDT", QuoteVolume: 1e6},
		},
		candles: map[string][]market.Candle{
			"BTCUSDT": uptrend(60, now),
			"ETHUSDT": uptrend(60, now),
		},
	}
	task, sink := newTestTask(t, stub, 0.45)

	if err := task.Run(context.Background(), market.TF1h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created := sink.byKind(events.KindCreated)
	if len(created) != 2 {
		t.Fatalf("expected 2 created events, got %d", len(created))
	}
	for _, ev := range created {
		if ev.Signal.Direction != market.Long {
			t.Errorf("uptrend must score LONG, got %s for %s", ev.Signal.Direction, ev.Signal.Symbol)
		}
	}

	if _, ok := task.LastSuccess(market.TF1h); !ok {
		t.Error("successful cycle must record its completion time")
	}
}

func TestRunSkipsFailingSymbol(t *testing.T) {
	now := time.Now()
	stub := &stubProvider{
		symbols: []provider.SymbolInfo{
			{Symbol: "BTCUSDT", QuoteVolume: 2e6},
			{Symbol: "NOPEUSDT", QuoteVolume: 1e6},
		},
		candles: map[string][]market.Candle{"BTCUSDT": uptrend(60, now)},
		errs:    map[string]error{"NOPEUSDT": &provider.Error{Kind: provider.KindSymbolUnknown, Provider: "stub", Symbol: "NOPEUSDT"}},
	}
	task, sink := newTestTask(t, stub, 0.45)

	if err := task.Run(context.Background(), market.TF1h); err != nil {
		t.Fatalf("one bad symbol must not fail the cycle: %v", err)
	}
	if got := len(sink.byKind(events.KindCreated)); got != 1 {
		t.Errorf("expected 1 created event, got %d", got)
	}
}

func TestRunFailsWhenAllFetchesFail(t *testing.T) {
	stub := &stubProvider{
		symbols: []provider.SymbolInfo{{Symbol: "BTCUSDT", QuoteVolume: 1}},
		errs:    map[string]error{"BTCUSDT": &provider.Error{Kind: provider.KindAuth, Provider: "stub"}},
	}
	task, sink := newTestTask(t, stub, 0.45)

	if err := task.Run(context.Background(), market.TF1h); err == nil {
		t.Fatal("a full provider outage must fail the cycle")
	}
	if len(sink.byKind(events.KindCreated)) != 0 {
		t.Error("a failed cycle must emit nothing")
	}
}

func TestRunReplayIsIdempotent(t *testing.T) {
	now := time.Now()
	stub := &stubProvider{
		symbols: []provider.SymbolInfo{{Symbol: "BTCUSDT", QuoteVolume: 1}},
		candles: map[string][]market.Candle{"BTCUSDT": uptrend(60, now)},
	}
	task, sink := newTestTask(t, stub, 0.45)

	if err := task.Run(context.Background(), market.TF1h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := task.Run(context.Background(), market.TF1h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := len(sink.byKind(events.KindCreated)); got != 1 {
		t.Errorf("replaying the same candles must create once, got %d", got)
	}
	if got := len(sink.byKind(events.KindUpdated)); got != 0 {
		t.Errorf("replaying the same candles must not update, got %d", got)
	}
}

func TestRunWithoutConfigFails(t *testing.T) {
	stub := &stubProvider{symbols: []provider.SymbolInfo{{Symbol: "BTCUSDT"}}}
	task, _ := newTestTask(t, stub, 0.45)

	if err := task.Run(context.Background(), market.TF4h); err == nil {
		t.Error("a timeframe without config must fail")
	}
}
