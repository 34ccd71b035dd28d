// Package scheduler drives scan, sweep, and health jobs on wall-clock
// aligned ticks.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/metrics"
)

// JobSpec declares one recurring job. Ticks fire at wall-clock multiples
// of Interval plus Offset (UTC), so an hourly job runs on the hour and a
// vendor job can trail the candle boundary by a few minutes.
type JobSpec struct {
	Name     string
	Interval time.Duration
	Offset   time.Duration
	Run      func(ctx context.Context) error
}

type job struct {
	spec    JobSpec
	running atomic.Bool
}

// Scheduler owns a set of jobs and enforces at-most-one running instance
// per job: a tick that fires while the previous run is still active is
// skipped and counted as a miss.
type Scheduler struct {
	jobs    []*job
	metrics *metrics.Metrics
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// New builds a scheduler over the given jobs.
func New(specs []JobSpec, m *metrics.Metrics, log zerolog.Logger) *Scheduler {
	s := &Scheduler{metrics: m, log: log}
	for _, spec := range specs {
		s.jobs = append(s.jobs, &job{spec: spec})
	}
	return s
}

// nextTick returns the first aligned instant strictly after now.
func nextTick(now time.Time, interval, offset time.Duration) time.Time {
	next := now.Truncate(interval).Add(offset)
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}

// Start launches one ticking goroutine per job and returns immediately.
// Jobs stop when ctx is cancelled; Wait blocks until running instances
// finish.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.tick(ctx, j)
	}
}

func (s *Scheduler) tick(ctx context.Context, j *job) {
	defer s.wg.Done()
	log := s.log.With().Str("job", j.spec.Name).Logger()

	timer := time.NewTimer(time.Until(nextTick(time.Now(), j.spec.Interval, j.spec.Offset)))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if j.running.CompareAndSwap(false, true) {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer j.running.Store(false)
				s.runJob(ctx, j, log)
			}()
		} else {
			s.metrics.MissedTicks.WithLabelValues(j.spec.Name).Inc()
			log.Warn().Msg("tick skipped, previous run still active")
		}

		timer.Reset(time.Until(nextTick(time.Now(), j.spec.Interval, j.spec.Offset)))
	}
}

func (s *Scheduler) runJob(ctx context.Context, j *job, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("job panicked")
		}
	}()

	// Hard deadline: a run may overlap-skip at most a few ticks before it
	// is aborted outright.
	runCtx, cancel := context.WithTimeout(ctx, 5*j.spec.Interval)
	defer cancel()

	started := time.Now()
	if err := j.spec.Run(runCtx); err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			log.Error().Dur("elapsed", time.Since(started)).Msg("job aborted at deadline")
			return
		}
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("job failed")
		}
		return
	}
	if elapsed := time.Since(started); elapsed > 2*j.spec.Interval {
		log.Warn().Dur("elapsed", elapsed).Msg("job overran twice its interval")
	}
}

// Wait blocks until every tick loop and running job has returned, or the
// timeout elapses.
func (s *Scheduler) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
