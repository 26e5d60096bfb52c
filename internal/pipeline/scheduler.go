package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Scheduler runs SyncAll on a fixed interval. Results are published when a
// publisher is configured; a nil publisher only stores them.
type Scheduler struct {
	syncer    Syncer
	publisher ResultPublisher
	interval  time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewScheduler creates a Scheduler. interval must be positive.
func NewScheduler(s Syncer, p ResultPublisher, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		syncer:    s,
		publisher: p,
		interval:  interval,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run blocks until ctx is cancelled. A pass that is still running when the
// next tick fires delays that tick rather than overlapping it.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	summary, err := s.syncer.SyncAll(ctx)
	if err != nil {
		s.logger.Error("scheduled sync all failed", "error", err, "run_id", summary.RunID)
	}
	if s.publisher == nil || len(summary.Results) == 0 || ctx.Err() != nil {
		return
	}
	if err := s.publisher.Publish(ctx, summary.RunID, summary.Results); err != nil {
		s.logger.Error("publish scheduled results failed", "error", err, "run_id", summary.RunID)
		return
	}
	s.metrics.ResultsProduced.Add(float64(len(summary.Results)))
}
