package lifecycle

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/events"
	"signal-engine/internal/market"
	"signal-engine/internal/scoring"
)

type captureSink struct {
	mu     sync.Mutex
	events []events.SignalEvent
}

func (c *captureSink) Emit(ev events.SignalEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureSink) all() []events.SignalEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.SignalEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *captureSink) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func newTestManager() (*Manager, *captureSink) {
	sink := &captureSink{}
	return New(sink, zerolog.Nop()), sink
}

func testCfg() *scoring.Config {
	cfg := scoring.Default(market.Spot, market.TF1h)
	return &cfg
}

func longDecision(confidence float64) *scoring.Decision {
	return &scoring.Decision{
		Direction:  market.Long,
		Entry:      65000,
		StopLoss:   64000,
		TakeProfit: 67000,
		Confidence: confidence,
		Conditions: map[string]bool{"supertrend_up": true},
		Reason:     "LONG test decision",
	}
}

func outcomeWith(long, short float64) scoring.Outcome {
	return scoring.Outcome{
		Long:  scoring.Scored{Confidence: long},
		Short: scoring.Scored{Confidence: short},
	}
}

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func TestCreateOnFirstDecision(t *testing.T) {
	m, sink := newTestManager()
	m.Reconcile("BTCUSDT", market.Spot, market.TF1h, longDecision(0.73), outcomeWith(0.73, 0), testCfg(), t0)

	evs := sink.all()
	if len(evs) != 1 || evs[0].Kind != events.KindCreated {
		t.Fatalf("expected one created event, got %+v", evs)
	}
	if evs[0].Signal.Entry != "65000.00000000" {
		t.Errorf("entry should be an 8dp decimal string, got %s", evs[0].Signal.Entry)
	}
	if m.Count() != 1 {
		t.Errorf("expected 1 active signal, got %d", m.Count())
	}
}

func TestNoDecisionNoSignalIsNoop(t *testing.T) {
	m, sink := newTestManager()
	m.Reconcile("BTCUSDT", market.Spot, market.TF1h, nil, outcomeWith(0.2, 0.1), testCfg(), t0)
	if len(sink.all()) != 0 || m.Count() != 0 {
		t.Error("reconciling nothing against nothing must do nothing")
	}
}

func TestReplaySameDecisionIsLivenessRefresh(t *testing.T) {
	m, sink := newTestManager()
	cfg := testCfg()
	d := longDecision(0.73)

	m.Reconcile("BTCUSDT", market.Spot, market.TF1h, d, outcomeWith(0.73, 0), cfg, t0)
	sink.reset()

	// Identical decision a tick later: bump liveness, emit nothing.
	later := t0.Add(time.Minute)
	m.Reconcile("BTCUSDT", market.Spot, market.TF1h, d, outcomeWith(0.73, 0), cfg, later)
	if len(sink.all()) != 0 {
		t.Errorf("replay within tolerance must be silent, got %+v", sink.all())
	}
	if got := m.Active()[0].LastUpdated; !got.Equal(later) {
		t.Errorf("liveness refresh must bump last_updated, got %v", got)
	}
}

func TestUpdatedOnConfidenceShift(t *testing.T) {
	m, sink := newTestManager()
	cfg := testCfg()
	m.Reconcile("BTCUSDT", market.Spot, market.TF1h, longDecision(0.73), outcomeWith(0.73, 0), cfg, t0)
	sink.reset()

	d := longDecision(0.80) // delta 0.07 >= 0.05
	m.Reconcile("BTCUSDT", market.Spot, market.TF1h, d, outcomeWith(0.80, 0), cfg, t0.Add(time.Hour))

	evs := sink.all()
	if len(evs) != 1 || evs[0].Kind != events.KindUpdated {
		t.Fatalf("expected one updated event, got %+v", evs)
	}
	if evs[0].Signal.Confidence != 0.80 {
		t.Errorf("updated event should carry the new confidence, got %f", evs[0].Signal.Confidence)
	}
}

func TestUpdatedOnLevelShift(t *testing.T) {
	m, sink := newTestManager()
	cfg := testCfg()
	m.Reconcile("BTCUSDT", market.Spot, market.TF1h, longDecision(0.73), outcomeWith(0.73, 0), cfg, t0)
	sink.reset()

	d := longDecision(0.74) // confidence within tolerance
	d.StopLoss = 63500      // but the stop moved
	m.Reconcile("BTCUSDT", market.Spot, market.TF1h, d, outcomeWith(0.74, 0), cfg, t0.Add(time.Hour))

	evs := sink.all()
	if len(evs) != 1 || evs[0].Kind != events.KindUpdated {
		t.Fatalf("a moved stop is a material change, got %+v", evs)
	}
}

func TestTimeframeSupersession(t *testing.T) {
	m, sink := newTestManager()
	cfg1h := testCfg()
	m.Reconcile("ETHUSDT", market.Spot, market.TF1h, longDecision(0.72), outcomeWith(0.72, 0), cfg1h, t0)
	sink.reset()

	cfg4h := scoring.Default(market.Spot, market.TF4h)
	m.Reconcile("ETHUSDT", market.Spot, market.TF4h, longDecision(0.68), outcomeWith(0.68, 0), &cfg4h, t0.Add(time.Hour))

	evs := sink.all()
	if len(evs) != 2 {
		t.Fatalf("expected deleted+created, got %+v", evs)
	}
	if evs[0].Kind != events.KindDeleted || evs[0].Reason == nil || *evs[0].Reason != events.ReasonSuperseded {
		t.Errorf("first event must be deleted(superseded), got %+v", evs[0])
	}
	if evs[1].Kind != events.KindCreated || evs[1].Signal.Timeframe != market.TF4h {
		t.Errorf("second event must be created on 4h, got %+v", evs[1])
	}
	// Lower confidence wins anyway: priority beats confidence.
	if evs[1].Signal.Confidence != 0.68 {
		t.Errorf("4h confidence 0.68 should be kept, got %f", evs[1].Signal.Confidence)
	}
}

func TestLowerTimeframeNeverDisplaces(t *testing.T) {
	m, sink := newTestManager()
	cfg4h := scoring.Default(market.Spot, market.TF4h)
	m.Reconcile("ETHUSDT", market.Spot, market.TF4h, longDecision(0.68), outcomeWith(0.68, 0), &cfg4h, t0)
	sink.reset()

	m.Reconcile("ETHUSDT", market.Spot, market.TF1h, longDecision(0.95), outcomeWith(0.95, 0), testCfg(), t0.Add(time.Hour))
	if len(sink.all()) != 0 {
		t.Errorf("1h decision must not displace the 4h signal, got %+v", sink.all())
	}
	if got := m.Active()[0].Timeframe; got != market.TF4h {
		t.Errorf("4h signal must survive, got %s", got)
	}
}

func TestReversalReplacesSignal(t *testing.T) {
	m, sink := newTestManager()
	cfg := testCfg()
	m.Reconcile("BTCUSDT", market.Spot, market.TF1h, longDecision(0.73), outcomeWith(0.73, 0), cfg, t0)
	sink.reset()

	short := &scoring.Decision{
		Direction:  market.Short,
		Entry:      64000,
		StopLoss:   65000,
		TakeProfit: 60000,
		Confidence: 0.75,
		Reason:     "SHORT test decision",
	}
	m.Reconcile("BTCUSDT", market.Spot, market.TF1h, short, outcomeWith(0.1, 0.75), cfg, t0.Add(time.Hour))

	evs := sink.all()
	if len(evs) != 2 {
		t.Fatalf("expected deleted+created, got %+v", evs)
	}
	if evs[0].Reason == nil || *evs[0].Reason != events.ReasonReversed {
		t.Errorf("reversal must emit deleted(reversed), got %+v", evs[0])
	}
	if evs[1].Signal.Direction != market.Short {
		t.Errorf("replacement must be SHORT, got %s", evs[1].Signal.Direction)
	}
}

func TestInvalidationOnConfidenceCollapse(t *testing.T) {
	m, sink := newTestManager()
	cfg := testCfg() // min_confidence 0.70, floor 0.49
	m.Reconcile("SOLUSDT", market.Spot, market.TF4h, longDecision(0.73), outcomeWith(0.73, 0), cfg, t0)
	sink.reset()

	// Next scan produces no decision and rescored LONG at 0.45 < 0.49.
	m.Reconcile("SOLUSDT", market.Spot, market.TF4h, nil, outcomeWith(0.45, 0.1), cfg, t0.Add(4*time.Hour))

	evs := sink.all()
	if len(evs) != 1 || evs[0].Kind != events.KindDeleted {
		t.Fatalf("expected deleted(invalidated), got %+v", evs)
	}
	if *evs[0].Reason != events.ReasonInvalidated {
		t.Errorf("expected reason invalidated, got %s", *evs[0].Reason)
	}
	if m.Count() != 0 {
		t.Error("invalidated signal must leave the table")
	}
}

func TestRescoredAboveFloorSurvives(t *testing.T) {
	m, sink := newTestManager()
	cfg := testCfg()
	m.Reconcile("SOLUSDT", market.Spot, market.TF4h, longDecision(0.73), outcomeWith(0.73, 0), cfg, t0)
	sink.reset()

	// 0.55 is below min_confidence but above the 0.49 floor: signal stays.
	m.Reconcile("SOLUSDT", market.Spot, market.TF4h, nil, outcomeWith(0.55, 0.1), cfg, t0.Add(time.Minute))
	if len(sink.all()) != 0 || m.Count() != 1 {
		t.Error("a rescore above the invalidation floor must keep the signal")
	}
}

func TestExpiryViaReconcile(t *testing.T) {
	m, sink := newTestManager()
	cfg := testCfg() // expiry 60m
	m.Reconcile("DOGEUSDT", market.Spot, market.TF1h, longDecision(0.73), outcomeWith(0.73, 0), cfg, t0)
	sink.reset()

	m.Reconcile("DOGEUSDT", market.Spot, market.TF1h, nil, outcomeWith(0.60, 0.1), cfg, t0.Add(61*time.Minute))
	evs := sink.all()
	if len(evs) != 1 || *evs[0].Reason != events.ReasonExpired {
		t.Fatalf("expected deleted(expired), got %+v", evs)
	}
}

func TestSweepExpiresStaleSignals(t *testing.T) {
	m, sink := newTestManager()
	cfg := testCfg() // expiry 60m
	m.Reconcile("DOGEUSDT", market.Spot, market.TF1h, longDecision(0.73), outcomeWith(0.73, 0), cfg, t0)
	m.Reconcile("BTCUSDT", market.Spot, market.TF1h, longDecision(0.80), outcomeWith(0.80, 0), cfg, t0.Add(30*time.Minute))
	sink.reset()

	// At 10:00 + 61m only DOGEUSDT is past its expiry.
	expired := m.Sweep(t0.Add(61 * time.Minute))
	if expired != 1 {
		t.Fatalf("expected 1 expiry, got %d", expired)
	}
	evs := sink.all()
	if len(evs) != 1 || evs[0].Signal.Symbol != "DOGEUSDT" || *evs[0].Reason != events.ReasonExpired {
		t.Errorf("expected DOGEUSDT deleted(expired), got %+v", evs)
	}
	if m.Count() != 1 {
		t.Errorf("fresh signal must survive the sweep, got %d active", m.Count())
	}
}

func TestConcurrentReconcilesDistinctSymbols(t *testing.T) {
	m, _ := newTestManager()
	cfg := testCfg()
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "DOGEUSDT", "ADAUSDT"}

	var wg sync.WaitGroup
	for _, sym := range symbols {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(sym string, i int) {
				defer wg.Done()
				m.Reconcile(sym, market.Spot, market.TF1h, longDecision(0.73),
					outcomeWith(0.73, 0), cfg, t0.Add(time.Duration(i)*time.Second))
			}(sym, i)
		}
	}
	wg.Wait()

	if m.Count() != len(symbols) {
		t.Errorf("expected %d active signals, got %d", len(symbols), m.Count())
	}
}
