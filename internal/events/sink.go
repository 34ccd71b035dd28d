package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// DurableWriter persists an event. Writes must be idempotent on the
// event's IdempotencyKey so retried deliveries are harmless.
type DurableWriter interface {
	WriteEvent(ctx context.Context, ev SignalEvent) error
}

// DefaultDurableQueue is the depth of the durable write queue.
const DefaultDurableQueue = 1024

// Sink is the single publication point for signal events. The broadcast
// side never blocks; the durable side queues to a single writer goroutine
// that retries with exponential backoff for at-least-once delivery.
type Sink struct {
	bus    *Bus
	writer DurableWriter
	queue  chan SignalEvent
	log    zerolog.Logger

	emitted      atomic.Uint64
	writeFailed  atomic.Uint64
	queueStalled atomic.Uint64
}

// NewSink wires a sink over the broadcast bus and an optional durable
// writer. A nil writer disables persistence.
func NewSink(bus *Bus, writer DurableWriter, log zerolog.Logger) *Sink {
	return &Sink{
		bus:    bus,
		writer: writer,
		queue:  make(chan SignalEvent, DefaultDurableQueue),
		log:    log,
	}
}

// Emit publishes to broadcast subscribers and queues the durable write.
// The broadcast side never blocks. The durable side is at-least-once: when
// the queue is full, Emit blocks until the writer catches up rather than
// losing persistence.
func (s *Sink) Emit(ev SignalEvent) {
	s.emitted.Add(1)
	s.bus.Publish(ev)

	if s.writer == nil {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.queueStalled.Add(1)
		s.log.Warn().
			Str("kind", string(ev.Kind)).
			Str("identity", ev.Signal.Identity().String()).
			Msg("durable queue full, blocking until the writer drains")
		s.queue <- ev
	}
}

// Run drains the durable queue until ctx is cancelled, then flushes what
// is already queued. Each write is retried with exponential backoff.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case ev := <-s.queue:
			s.write(ctx, ev)
		}
	}
}

func (s *Sink) flush() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-s.queue:
			s.write(flushCtx, ev)
		default:
			return
		}
	}
}

func (s *Sink) write(ctx context.Context, ev SignalEvent) {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
		backoff.WithMaxElapsedTime(30*time.Second),
	), ctx)

	err := backoff.Retry(func() error {
		return s.writer.WriteEvent(ctx, ev)
	}, policy)
	if err != nil {
		s.writeFailed.Add(1)
		s.log.Error().Err(err).
			Str("kind", string(ev.Kind)).
			Str("identity", ev.Signal.Identity().String()).
			Msg("durable write abandoned after retries")
	}
}

// Stats reports sink counters for the status endpoint.
type Stats struct {
	Emitted          uint64 `json:"emitted"`
	BroadcastDropped uint64 `json:"broadcast_dropped"`
	DurableStalled   uint64 `json:"durable_stalled"`
	WriteFailed      uint64 `json:"write_failed"`
}

// Stats returns a snapshot of the sink counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Emitted:          s.emitted.Load(),
		BroadcastDropped: s.bus.Dropped(),
		DurableStalled:   s.queueStalled.Load(),
		WriteFailed:      s.writeFailed.Load(),
	}
}
