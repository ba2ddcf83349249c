package scoring

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs the batch scorer on an interval and on demand.
type Scheduler struct {
	scorer   *BatchScorer
	interval time.Duration
	trigger  chan struct{}
	logger   *zap.Logger
}

// NewScheduler creates a Scheduler. A zero interval disables periodic runs;
// Trigger still works.
func NewScheduler(scorer *BatchScorer, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		scorer:   scorer,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		logger:   logger,
	}
}

// Trigger requests a run. It reports false when a run is already active or
// already queued.
func (s *Scheduler) Trigger() bool {
	if s.scorer.Running() {
		return false
	}
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Start runs the scheduling loop until ctx is cancelled. A run in flight when
// ctx is cancelled stops after its current page.
func (s *Scheduler) Start(ctx context.Context) error {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			s.runOnce(ctx)
		case <-s.trigger:
			s.runOnce(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	sum, err := s.scorer.Run(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Info("scoring: skipped, run in progress")
	case errors.Is(err, context.Canceled):
		s.logger.Info("scoring: stopped by shutdown")
	case err != nil:
		s.logger.Error("scoring: run failed", zap.Error(err))
	default:
		s.logger.Info("scoring: scheduled run complete",
			zap.String("run_id", sum.RunID.String()),
			zap.Int("processed", sum.Processed),
		)
	}
}
