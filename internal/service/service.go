package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"spread-scanner/internal/alerting"
	"spread-scanner/internal/export"
	"spread-scanner/internal/scanner"
	"spread-scanner/internal/storage"
)

// Runner is the scan engine driven by the service.
type Runner interface {
	RunContinuous(ctx context.Context, cfg scanner.Config, interval time.Duration, onCycle scanner.CycleHandler) error
}

// SnapshotCache keeps the latest cycle for other processes.
type SnapshotCache interface {
	SaveCycle(ctx context.Context, doc export.Cycle) error
}

// Deps are the optional collaborators of the service. Nil members are skipped.
type Deps struct {
	Store     storage.CycleStore
	Alerts    storage.AlertStore
	Locker    storage.AdvisoryLocker
	Exporters []export.Exporter
	Snapshots SnapshotCache
	Notifier  alerting.Notifier
	Throttle  *alerting.Throttle
}

// Options tune the service.
type Options struct {
	Interval        time.Duration
	AdvisoryLockKey int64
	Retention       time.Duration
	// PruneEvery bounds how often retention runs; defaults to one hour.
	PruneEvery time.Duration
}

// Service runs continuous scanning and fans each cycle out to persistence,
// exporters, the snapshot cache and alerting.
type Service struct {
	runner Runner
	cfg    scanner.Config
	deps   Deps
	opts   Options
	logger zerolog.Logger

	lastPrune time.Time
}

// New constructs the scanning service.
func New(runner Runner, cfg scanner.Config, deps Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.PruneEvery <= 0 {
		opts.PruneEvery = time.Hour
	}
	if deps.Locker == nil {
		if l, ok := deps.Store.(storage.AdvisoryLocker); ok {
			deps.Locker = l
		}
	}
	return &Service{
		runner: runner,
		cfg:    cfg,
		deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// Run waits for the advisory lock, then scans until ctx is cancelled. The
// lock is held for the lifetime of the run so only one instance scans.
func (s *Service) Run(ctx context.Context) error {
	if s.runner == nil {
		return fmt.Errorf("scanner not configured")
	}
	unlock, err := s.waitForLock(ctx)
	if err != nil {
		return err
	}
	if unlock != nil {
		defer unlock()
	}
	s.seedThrottle(ctx)
	return s.runner.RunContinuous(ctx, s.cfg, s.opts.Interval, s.HandleCycle)
}

// HandleCycle distributes one completed cycle. Sink failures are logged and
// never stop the scan loop.
func (s *Service) HandleCycle(ctx context.Context, res scanner.CycleResult) error {
	log := s.logger.With().Str("cycle", res.ID).Logger()

	if s.deps.Store != nil {
		if err := s.deps.Store.SaveCycle(ctx, storage.NewCycleRecord(res), storage.NewOpportunityRecords(res)); err != nil {
			log.Error().Err(err).Msg("failed to persist cycle")
		}
	}

	for _, exp := range s.deps.Exporters {
		if exp == nil {
			continue
		}
		if err := exp.Export(ctx, res); err != nil {
			log.Error().Err(err).Msg("export failed")
		}
	}

	if s.deps.Snapshots != nil {
		if err := s.deps.Snapshots.SaveCycle(ctx, export.NewCycle(res)); err != nil {
			log.Warn().Err(err).Msg("failed to cache latest cycle")
		}
	}

	s.alert(ctx, res, log)
	s.prune(ctx, res.FinishedAt)
	return nil
}

func (s *Service) alert(ctx context.Context, res scanner.CycleResult, log zerolog.Logger) {
	if s.deps.Notifier == nil || s.deps.Throttle == nil {
		return
	}
	selected := s.deps.Throttle.Select(res.Opportunities, res.FinishedAt)
	if len(selected) == 0 {
		return
	}
	note := alerting.Notification{
		CycleID:       res.ID,
		At:            res.FinishedAt,
		ThresholdPct:  s.deps.Throttle.Threshold(),
		Opportunities: selected,
		Channels:      []string{"telegram"},
	}
	if s.deps.Alerts != nil {
		for _, r := range selected {
			record := storage.AlertRecord{
				CycleID:      res.ID,
				Symbol:       r.Symbol,
				BuyVenue:     r.BuyVenue,
				SellVenue:    r.SellVenue,
				NetSpreadPct: r.NetSpreadPct,
				ThresholdPct: note.ThresholdPct,
				Channels:     note.Channels,
			}
			if _, err := s.deps.Alerts.InsertAlert(ctx, record); err != nil {
				log.Error().Err(err).Str("symbol", r.Symbol).Msg("failed to persist alert record")
			}
		}
	}
	if err := s.deps.Notifier.Notify(ctx, note); err != nil {
		log.Error().Err(err).Msg("failed to dispatch alert")
	}
}

func (s *Service) prune(ctx context.Context, now time.Time) {
	if s.opts.Retention <= 0 || now.Sub(s.lastPrune) < s.opts.PruneEvery {
		return
	}
	s.lastPrune = now
	cutoff := now.Add(-s.opts.Retention)
	if s.deps.Store != nil {
		deleted, err := s.deps.Store.DeleteCyclesBefore(ctx, cutoff)
		if err != nil {
			s.logger.Error().Err(err).Msg("cycle retention failed")
		} else if deleted > 0 {
			s.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("old cycles pruned")
		}
	}
	if s.deps.Alerts != nil {
		if err := s.deps.Alerts.DeleteAlertsBefore(ctx, cutoff); err != nil {
			s.logger.Error().Err(err).Msg("alert retention failed")
		}
	}
}

func (s *Service) seedThrottle(ctx context.Context) {
	if s.deps.Throttle == nil || s.deps.Alerts == nil {
		return
	}
	last, err := s.deps.Alerts.LastAlertsSince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to restore alert cooldowns")
		return
	}
	s.deps.Throttle.Seed(last)
}

// waitForLock polls the advisory lock once per interval. Without a locker
// or key it returns immediately.
func (s *Service) waitForLock(ctx context.Context) (func(), error) {
	if s.opts.AdvisoryLockKey == 0 || s.deps.Locker == nil {
		return nil, nil
	}
	poll := s.opts.Interval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	for {
		unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.AdvisoryLockKey)
		if err != nil {
			return nil, fmt.Errorf("acquire advisory lock: %w", err)
		}
		if acquired {
			s.logger.Info().Int64("key", s.opts.AdvisoryLockKey).Msg("advisory lock acquired")
			return unlock, nil
		}
		s.logger.Info().Dur("retry_in", poll).Msg("advisory lock held elsewhere, standing by")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}
