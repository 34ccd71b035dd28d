package events

import (
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is the per-subscriber channel depth.
const DefaultSubscriberBuffer = 256

// Bus fans events out to any number of subscribers. Publishing never
// blocks: when a subscriber's buffer is full its oldest pending event is
// dropped and counted. Slow consumers lose history, never stall producers.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]chan SignalEvent
	dropped atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan SignalEvent)}
}

// Subscribe registers a consumer and returns its channel plus a cancel
// function. Cancel closes the channel; pending events are discarded.
func (b *Bus) Subscribe(buffer int) (<-chan SignalEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan SignalEvent, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(ev SignalEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		// Buffer full: drop the oldest, then retry once. The second send
		// can only fail if a consumer raced a slot away, in which case the
		// new event is dropped instead.
		select {
		case <-ch:
			b.dropped.Add(1)
		default:
		}
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were discarded on full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers reports the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
