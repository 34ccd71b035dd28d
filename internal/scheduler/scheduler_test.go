package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/metrics"
)

func TestNextTickAlignment(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 17, 30, 0, time.UTC)

	cases := []struct {
		interval time.Duration
		offset   time.Duration
		want     time.Time
	}{
		{15 * time.Minute, 0, time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)},
		{time.Hour, 0, time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)},
		{4 * time.Hour, 0, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		{24 * time.Hour, 0, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)},
		// Vendor jobs trail the boundary by 10 minutes.
		{time.Hour, 10 * time.Minute, time.Date(2025, 6, 1, 11, 10, 0, 0, time.UTC)},
		{5 * time.Minute, 0, time.Date(2025, 6, 1, 10, 20, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := nextTick(now, tc.interval, tc.offset); !got.Equal(tc.want) {
			t.Errorf("nextTick(%v, %v) = %v, want %v", tc.interval, tc.offset, got, tc.want)
		}
	}
}

func TestNextTickIsStrictlyInFuture(t *testing.T) {
	// Exactly on the boundary: the next tick is the following one.
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	want := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	if got := nextTick(now, time.Hour, 0); !got.Equal(want) {
		t.Errorf("nextTick on the boundary = %v, want %v", got, want)
	}

	// Offset already passed this period.
	now = time.Date(2025, 6, 1, 10, 15, 0, 0, time.UTC)
	want = time.Date(2025, 6, 1, 11, 10, 0, 0, time.UTC)
	if got := nextTick(now, time.Hour, 10*time.Minute); !got.Equal(want) {
		t.Errorf("nextTick past the offset = %v, want %v", got, want)
	}
}

func TestSchedulerRunsJob(t *testing.T) {
	var runs atomic.Int32
	s := New([]JobSpec{{
		Name:     "counter",
		Interval: 50 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}}, metrics.New(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(180 * time.Millisecond)
	cancel()
	if !s.Wait(time.Second) {
		t.Fatal("scheduler did not drain")
	}

	if got := runs.Load(); got < 2 {
		t.Errorf("expected at least 2 runs in 180ms at 50ms cadence, got %d", got)
	}
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32

	m := metrics.New()
	s := New([]JobSpec{{
		Name:     "slow",
		Interval: 30 * time.Millisecond,
		Run: func(context.Context) error {
			if runs.Add(1) == 1 {
				close(started)
				<-release // hold the first run across several ticks
			}
			return nil
		},
	}}, m, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	<-started
	time.Sleep(120 * time.Millisecond) // several ticks fire while held
	close(release)
	time.Sleep(50 * time.Millisecond)
	cancel()
	if !s.Wait(time.Second) {
		t.Fatal("scheduler did not drain")
	}

	if runs.Load() > 4 {
		t.Errorf("held job must suppress concurrent runs, got %d", runs.Load())
	}
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	var runs atomic.Int32
	s := New([]JobSpec{{
		Name:     "fast",
		Interval: 20 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}}, metrics.New(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(60 * time.Millisecond)
	cancel()
	if !s.Wait(time.Second) {
		t.Fatal("scheduler did not drain")
	}

	settled := runs.Load()
	time.Sleep(80 * time.Millisecond)
	if runs.Load() != settled {
		t.Error("cancelled scheduler must stop issuing ticks")
	}
}

func TestSchedulerAbortsRunAtDeadline(t *testing.T) {
	finished := make(chan error, 1)
	var entered atomic.Bool
	s := New([]JobSpec{{
		Name:     "stuck",
		Interval: 20 * time.Millisecond,
		Run: func(runCtx context.Context) error {
			if !entered.CompareAndSwap(false, true) {
				return nil
			}
			<-runCtx.Done() // simulate a hung provider call
			finished <- runCtx.Err()
			return runCtx.Err()
		},
	}}, metrics.New(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	// The run context expires at 5x the interval (100ms) while the parent
	// stays alive.
	select {
	case err := <-finished:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hung job was never aborted")
	}
	if ctx.Err() != nil {
		t.Fatal("parent context must be unaffected")
	}

	cancel()
	if !s.Wait(time.Second) {
		t.Fatal("scheduler did not drain")
	}
}

func TestSchedulerSurvivesPanickingJob(t *testing.T) {
	var runs atomic.Int32
	s := New([]JobSpec{{
		Name:     "explosive",
		Interval: 30 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			panic("boom")
		},
	}}, metrics.New(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(110 * time.Millisecond)
	cancel()
	if !s.Wait(time.Second) {
		t.Fatal("scheduler did not drain")
	}

	if runs.Load() < 2 {
		t.Errorf("a panicking job must not kill its schedule, got %d runs", runs.Load())
	}
}
