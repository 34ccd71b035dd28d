// Package candlecache keeps the most recent closed candles per
// (symbol, timeframe) key. Entries are independent: access is striped per
// key so concurrent scans over different series never contend.
package candlecache

import (
	"sort"
	"sync"
	"time"

	"signal-engine/internal/market"
)

// DefaultCapacity is the ring depth used when none is configured.
const DefaultCapacity = 200

type entry struct {
	mu      sync.RWMutex
	candles []market.Candle
}

// Cache holds one capped candle series per (symbol, timeframe).
type Cache struct {
	mu       sync.RWMutex
	capacity int
	entries  map[market.Key]*entry
}

// New creates a cache whose series are capped at capacity candles.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[market.Key]*entry),
	}
}

func (c *Cache) entryFor(key market.Key) *entry {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[key]; ok {
		return e
	}
	e = &entry{}
	c.entries[key] = e
	return e
}

// Update merges new candles into the series for key. Candles that are not
// yet closed at now are dropped, duplicates (same open time) are discarded,
// and the oldest candles are evicted to preserve the cap. When an incoming
// candle breaks the fixed-period grid of the cached series (a data gap),
// the series restarts from the incoming batch so the cached sequence stays
// strictly contiguous. Returns whether the most recent candle changed.
func (c *Cache) Update(key market.Key, candles []market.Candle, now time.Time) bool {
	period := key.Timeframe.Duration().Milliseconds()
	if period <= 0 || len(candles) == 0 {
		return false
	}

	closed := make([]market.Candle, 0, len(candles))
	cutoff := now.UnixMilli()
	for _, cd := range candles {
		if cd.CloseTime < cutoff {
			closed = append(closed, cd)
		}
	}
	if len(closed) == 0 {
		return false
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].OpenTime < closed[j].OpenTime })

	e := c.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	var prevLast int64 = -1
	if n := len(e.candles); n > 0 {
		prevLast = e.candles[n-1].OpenTime
	}

	for _, cd := range closed {
		n := len(e.candles)
		if n == 0 {
			e.candles = append(e.candles, cd)
			continue
		}
		last := e.candles[n-1].OpenTime
		switch {
		case cd.OpenTime <= last:
			// Duplicate or stale; already cached.
		case cd.OpenTime == last+period:
			e.candles = append(e.candles, cd)
		default:
			// Gap in the grid: restart so the series stays contiguous.
			e.candles = e.candles[:0]
			e.candles = append(e.candles, cd)
		}
	}

	if overflow := len(e.candles) - c.capacity; overflow > 0 {
		e.candles = append(e.candles[:0], e.candles[overflow:]...)
	}

	if len(e.candles) == 0 {
		return false
	}
	return e.candles[len(e.candles)-1].OpenTime != prevLast
}

// Latest returns the most recent cached candle for key.
func (c *Cache) Latest(key market.Key) (market.Candle, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return market.Candle{}, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.candles) == 0 {
		return market.Candle{}, false
	}
	return e.candles[len(e.candles)-1], true
}

// Series returns a consistent snapshot of the cached series for key.
func (c *Cache) Series(key market.Key) []market.Candle {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]market.Candle, len(e.candles))
	copy(out, e.candles)
	return out
}

// Len returns the number of cached candles for key.
func (c *Cache) Len(key market.Key) int {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.candles)
}

// Keys returns every (symbol, timeframe) key currently cached.
func (c *Cache) Keys() []market.Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]market.Key, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}
