// Package events defines the signal lifecycle event wire format and the
// fan-out machinery that delivers events to broadcast subscribers and to
// the durable store.
package events

import (
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"signal-engine/internal/market"
)

// Kind is the lifecycle transition an event reports.
type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
)

// Reason qualifies a deleted event.
type Reason string

const (
	ReasonInvalidated Reason = "invalidated"
	ReasonExpired     Reason = "expired"
	ReasonSuperseded  Reason = "superseded"
	ReasonReversed    Reason = "reversed"
)

// SignalPayload is the signal snapshot carried by every event. Prices are
// decimal strings with 8 fractional digits.
type SignalPayload struct {
	Symbol      string           `json:"symbol"`
	Market      market.Market    `json:"market"`
	Direction   market.Direction `json:"direction"`
	Timeframe   market.Timeframe `json:"timeframe"`
	Entry       string           `json:"entry"`
	SL          string           `json:"sl"`
	TP          string           `json:"tp"`
	Confidence  float64          `json:"confidence"`
	Description string           `json:"description"`
	CreatedAt   time.Time        `json:"created_at"`
	LastUpdated time.Time        `json:"last_updated"`
}

// Identity returns the deduplication key of the underlying signal.
func (p SignalPayload) Identity() market.IdentityKey {
	return market.IdentityKey{Symbol: p.Symbol, Direction: p.Direction, Market: p.Market}
}

// SignalEvent is the unit published to subscribers and the durable store.
// Reason is nil except on deleted events.
type SignalEvent struct {
	Kind   Kind          `json:"kind"`
	Reason *Reason       `json:"reason"`
	TS     time.Time     `json:"ts"`
	Signal SignalPayload `json:"signal"`
}

// NewEvent builds an event stamped at ts.
func NewEvent(kind Kind, reason Reason, payload SignalPayload, ts time.Time) SignalEvent {
	ev := SignalEvent{Kind: kind, TS: ts.UTC(), Signal: payload}
	if reason != "" {
		r := reason
		ev.Reason = &r
	}
	return ev
}

// IdempotencyKey derives a stable key from (kind, identity, ts) so the
// durable writer can deduplicate at-least-once deliveries.
func (e SignalEvent) IdempotencyKey() string {
	material := fmt.Sprintf("%s|%s|%d", e.Kind, e.Signal.Identity(), e.TS.UnixNano())
	sum := blake2b.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
