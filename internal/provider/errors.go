// Package provider normalizes market data vendors behind one interface:
// symbol discovery, candle fetch, and batched fetch with retry, in-flight
// deduplication, and provider-level rate limiting.
package provider

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a provider failure. Scan tasks branch on the kind, never
// on provider-specific error text.
type Kind string

const (
	KindTransientNetwork Kind = "TRANSIENT_NETWORK"
	KindRateLimited      Kind = "RATE_LIMITED"
	KindAuth             Kind = "AUTH"
	KindSymbolUnknown    Kind = "SYMBOL_UNKNOWN"
	KindProvider         Kind = "PROVIDER"
	KindInternal         Kind = "INTERNAL"
)

// Error is a classified provider failure.
type Error struct {
	Kind     Kind
	Provider string
	Symbol   string
	Err      error

	// RetryAfter is the server-requested delay on rate limiting, zero
	// when the server did not send one.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Provider, e.Kind, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth another attempt.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransientNetwork || e.Kind == KindRateLimited
}

// KindOf extracts the failure kind, defaulting to INTERNAL for errors that
// did not come from a provider.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

func newError(kind Kind, provider, symbol string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Symbol: symbol, Err: err}
}
