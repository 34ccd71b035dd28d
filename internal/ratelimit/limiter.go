// Package ratelimit serializes request-weight consumption against a rolling
// per-minute budget shared by all callers of one provider.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// window is the rolling interval the budget applies to.
	window = time.Minute

	// wakeBuffer pads the computed sleep so the oldest entry has really
	// aged out by the time the caller re-evaluates the window.
	wakeBuffer = 100 * time.Millisecond
)

type entry struct {
	at     time.Time
	weight int
}

// Limiter tracks the cumulative request weight consumed in any rolling
// 60-second window and blocks callers that would push the sum past the
// budget. There is no failure path: callers attach their own context
// timeout if they need one.
type Limiter struct {
	mu      sync.Mutex
	budget  int
	entries []entry

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter with the given per-minute weight budget.
func New(budget int) *Limiter {
	return &Limiter{
		budget: budget,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acquire blocks until adding weight to the rolling window keeps the total
// within budget, then records the consumption. Exactly one caller at a time
// evaluates the window state; the rest queue on the mutex. Returns early
// only if ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context, weight int) error {
	if weight <= 0 {
		return nil
	}

	for {
		l.mu.Lock()
		now := l.now()
		l.evict(now)

		sum := 0
		for _, e := range l.entries {
			sum += e.weight
		}

		if sum+weight <= l.budget {
			l.entries = append(l.entries, entry{at: now, weight: weight})
			l.mu.Unlock()
			return nil
		}

		// Window is full. Sleep until the oldest entry ages out.
		var wait time.Duration
		if len(l.entries) > 0 {
			wait = window - now.Sub(l.entries[0].at)
		}
		if wait < 0 {
			wait = 0
		}
		wait += wakeBuffer
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// evict drops entries older than the rolling window. Caller holds the lock.
func (l *Limiter) evict(now time.Time) {
	cut := 0
	for cut < len(l.entries) && now.Sub(l.entries[cut].at) >= window {
		cut++
	}
	if cut > 0 {
		l.entries = append(l.entries[:0], l.entries[cut:]...)
	}
}

// CurrentUsage returns the weight consumed in the current window and the age
// of the oldest tracked entry. Non-blocking diagnostics.
func (l *Limiter) CurrentUsage() (weight int, windowAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)
	for _, e := range l.entries {
		weight += e.weight
	}
	if len(l.entries) > 0 {
		windowAge = now.Sub(l.entries[0].at)
	}
	return weight, windowAge
}

// Budget returns the configured per-minute weight budget.
func (l *Limiter) Budget() int {
	return l.budget
}

// Reset clears the window.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}
