package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc runs one scan cycle. It is never invoked concurrently with itself.
type TickFunc func(ctx context.Context, started time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// AlignToStart fires on wall-clock multiples of Interval.
	AlignToStart bool
	// RunImmediately runs the first cycle without waiting for a slot.
	RunImmediately bool
	StartupDelay   time.Duration
}

// Scheduler drives cycles at a fixed interval. A cycle that overruns its
// slot delays the next one instead of overlapping it.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking tick once per slot until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunImmediately {
		s.runTick(ctx, tick, time.Now().UTC())
	}

	next := s.nextTick(time.Now().UTC())
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delay := time.Until(next); delay < 0 {
			missed := int(-delay/s.opts.Interval) + 1
			s.logger.Warn().Int("missed_slots", missed).Msg("cycle overran interval")
			next = s.nextTick(time.Now().UTC())
		}

		s.logger.Debug().Time("next_cycle", next).Msg("waiting for next cycle")
		if err := sleep(ctx, time.Until(next)); err != nil {
			return err
		}

		s.runTick(ctx, tick, next)
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) runTick(ctx context.Context, tick TickFunc, started time.Time) {
	if err := tick(ctx, started); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Time("cycle", started).Msg("cycle failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	slot := now.Truncate(s.opts.Interval)
	if !slot.After(now) {
		slot = slot.Add(s.opts.Interval)
	}
	return slot
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(max(d, 0))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
