// Package lifecycle maintains the authoritative table of active signals and
// emits created/updated/deleted events as scans reconcile fresh decisions
// against it.
package lifecycle

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/events"
	"signal-engine/internal/market"
	"signal-engine/internal/scoring"
)

// ActiveSignal is one live entry in the table. Only the manager mutates it.
type ActiveSignal struct {
	Symbol      string            `json:"symbol"`
	Direction   market.Direction  `json:"direction"`
	Market      market.Market     `json:"market"`
	Timeframe   market.Timeframe  `json:"timeframe"`
	Entry       float64           `json:"entry"`
	StopLoss    float64           `json:"sl"`
	TakeProfit  float64           `json:"tp"`
	Confidence  float64           `json:"confidence"`
	Conditions  map[string]bool   `json:"conditions_met"`
	CreatedAt   time.Time         `json:"created_at"`
	LastUpdated time.Time         `json:"last_updated"`
	Description string            `json:"description"`

	expiry time.Duration
}

// Identity returns the signal's deduplication key.
func (s *ActiveSignal) Identity() market.IdentityKey {
	return market.IdentityKey{Symbol: s.Symbol, Direction: s.Direction, Market: s.Market}
}

func (s *ActiveSignal) payload() events.SignalPayload {
	return events.SignalPayload{
		Symbol:      s.Symbol,
		Market:      s.Market,
		Direction:   s.Direction,
		Timeframe:   s.Timeframe,
		Entry:       market.FormatPrice(s.Entry),
		SL:          market.FormatPrice(s.StopLoss),
		TP:          market.FormatPrice(s.TakeProfit),
		Confidence:  s.Confidence,
		Description: s.Description,
		CreatedAt:   s.CreatedAt.UTC(),
		LastUpdated: s.LastUpdated.UTC(),
	}
}

// Emitter receives lifecycle events. *events.Sink satisfies it.
type Emitter interface {
	Emit(events.SignalEvent)
}

// symbolKey addresses the table: at most one active signal per
// (symbol, market), whatever its direction or timeframe.
type symbolKey struct {
	Symbol string
	Market market.Market
}

// Manager is the signal table. Mutation for a given (symbol, market) is
// serialized through a per-key lock; scans over different symbols never
// contend.
type Manager struct {
	mu      sync.RWMutex
	locks   map[symbolKey]*sync.Mutex
	signals map[symbolKey]*ActiveSignal
	sink    Emitter
	log     zerolog.Logger
}

// New creates an empty manager publishing through sink.
func New(sink Emitter, log zerolog.Logger) *Manager {
	return &Manager{
		locks:   make(map[symbolKey]*sync.Mutex),
		signals: make(map[symbolKey]*ActiveSignal),
		sink:    sink,
		log:     log,
	}
}

func (m *Manager) keyLock(key symbolKey) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

func (m *Manager) get(key symbolKey) *ActiveSignal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.signals[key]
}

func (m *Manager) put(key symbolKey, s *ActiveSignal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals[key] = s
}

func (m *Manager) remove(key symbolKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.signals, key)
}

// Reconcile merges one scan decision (or its absence) into the table.
// outcome carries the fresh rule scores for both directions so an existing
// signal can be re-validated even when no new decision was emitted.
func (m *Manager) Reconcile(symbol string, mk market.Market, tf market.Timeframe,
	decision *scoring.Decision, outcome scoring.Outcome, cfg *scoring.Config, now time.Time) {

	key := symbolKey{Symbol: symbol, Market: mk}
	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	old := m.get(key)

	if old == nil {
		if decision != nil {
			m.insert(key, symbol, mk, tf, decision, cfg, now)
		}
		return
	}

	if decision == nil {
		rescored := outcome.ConfidenceFor(old.Direction)
		switch {
		case rescored < 0.7*cfg.MinConfidence:
			m.delete(key, old, events.ReasonInvalidated, now)
		case now.Sub(old.LastUpdated) >= old.expiry:
			m.delete(key, old, events.ReasonExpired, now)
		}
		return
	}

	pNew, pOld := tf.Priority(), old.Timeframe.Priority()
	switch {
	case pNew < pOld:
		// Lower-timeframe decision never displaces a higher-timeframe signal.
		return
	case pNew > pOld:
		m.delete(key, old, events.ReasonSuperseded, now)
		m.insert(key, symbol, mk, tf, decision, cfg, now)
		return
	}

	if decision.Direction != old.Direction {
		m.delete(key, old, events.ReasonReversed, now)
		m.insert(key, symbol, mk, tf, decision, cfg, now)
		return
	}

	if m.materialChange(old, decision, cfg) {
		m.mu.Lock()
		old.Entry = decision.Entry
		old.StopLoss = decision.StopLoss
		old.TakeProfit = decision.TakeProfit
		old.Confidence = decision.Confidence
		old.Conditions = decision.Conditions
		old.Description = decision.Reason
		old.LastUpdated = now
		old.expiry = cfg.SignalExpiry
		m.mu.Unlock()
		m.sink.Emit(events.NewEvent(events.KindUpdated, "", old.payload(), now))
		m.log.Info().Str("signal", old.Identity().String()).
			Float64("confidence", old.Confidence).Msg("signal updated")
		return
	}

	// Liveness-only refresh: keep the signal alive, emit nothing.
	m.mu.Lock()
	old.LastUpdated = now
	m.mu.Unlock()
}

func (m *Manager) materialChange(old *ActiveSignal, d *scoring.Decision, cfg *scoring.Config) bool {
	if diff := d.Confidence - old.Confidence; diff >= cfg.ConfidenceDelta || -diff >= cfg.ConfidenceDelta {
		return true
	}
	// A level change is material once it shows up at wire precision.
	return market.FormatPrice(d.Entry) != market.FormatPrice(old.Entry) ||
		market.FormatPrice(d.StopLoss) != market.FormatPrice(old.StopLoss) ||
		market.FormatPrice(d.TakeProfit) != market.FormatPrice(old.TakeProfit)
}

func (m *Manager) insert(key symbolKey, symbol string, mk market.Market, tf market.Timeframe,
	d *scoring.Decision, cfg *scoring.Config, now time.Time) {

	s := &ActiveSignal{
		Symbol:      symbol,
		Direction:   d.Direction,
		Market:      mk,
		Timeframe:   tf,
		Entry:       d.Entry,
		StopLoss:    d.StopLoss,
		TakeProfit:  d.TakeProfit,
		Confidence:  d.Confidence,
		Conditions:  d.Conditions,
		CreatedAt:   now,
		LastUpdated: now,
		Description: d.Reason,
		expiry:      cfg.SignalExpiry,
	}
	m.put(key, s)
	m.sink.Emit(events.NewEvent(events.KindCreated, "", s.payload(), now))
	m.log.Info().Str("signal", s.Identity().String()).
		Str("timeframe", string(tf)).
		Float64("confidence", s.Confidence).
		Msg("signal created")
}

func (m *Manager) delete(key symbolKey, s *ActiveSignal, reason events.Reason, now time.Time) {
	m.remove(key)
	m.sink.Emit(events.NewEvent(events.KindDeleted, reason, s.payload(), now))
	m.log.Info().Str("signal", s.Identity().String()).
		Str("reason", string(reason)).Msg("signal deleted")
}

// Sweep removes every signal whose last update is older than its expiry.
// It snapshots the key set, then deletes per key under that key's lock so
// in-flight reconciles are never raced.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.RLock()
	keys := make([]symbolKey, 0, len(m.signals))
	for k := range m.signals {
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	expired := 0
	for _, key := range keys {
		lock := m.keyLock(key)
		lock.Lock()
		if s := m.get(key); s != nil && now.Sub(s.LastUpdated) >= s.expiry {
			m.delete(key, s, events.ReasonExpired, now)
			expired++
		}
		lock.Unlock()
	}
	return expired
}

// Active returns a snapshot of every live signal.
func (m *Manager) Active() []ActiveSignal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ActiveSignal, 0, len(m.signals))
	for _, s := range m.signals {
		out = append(out, *s)
	}
	return out
}

// Count returns the number of live signals.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.signals)
}
