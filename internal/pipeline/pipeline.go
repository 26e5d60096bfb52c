// Package pipeline consumes sync triggers and runs scheduled sync-all passes,
// publishing per-polygon results downstream.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/domain"
	"github.com/couchcryptid/field-env-sync/internal/observability"
)

// Extractor reads the next raw trigger from the source.
type Extractor interface {
	Extract(ctx context.Context) (domain.RawEvent, error)
}

// Syncer runs polygon synchronization.
type Syncer interface {
	SyncParcel(ctx context.Context, parcel domain.Parcel) (domain.PolygonResult, error)
	SyncAll(ctx context.Context) (domain.SyncSummary, error)
}

// ResultPublisher writes per-polygon results to the destination.
type ResultPublisher interface {
	Publish(ctx context.Context, runID string, results []domain.PolygonResult) error
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Pipeline drives the extract-sync-publish loop for trigger messages.
type Pipeline struct {
	extractor Extractor
	syncer    Syncer
	publisher ResultPublisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
}

// New creates a Pipeline with the given stages and observability.
func New(e Extractor, s Syncer, p ResultPublisher, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		extractor: e,
		syncer:    s,
		publisher: p,
		logger:    logger,
		metrics:   metrics,
	}
}

// Ready reports whether at least one trigger has been handled end to end.
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// CheckReadiness returns nil once the pipeline has handled a trigger.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any triggers yet")
	}
	return nil
}

// Run handles triggers until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started")
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processNext(ctx, &backoff) {
			return nil
		}
	}
}

// processNext handles one trigger. Returns false if the pipeline should stop.
func (p *Pipeline) processNext(ctx context.Context, backoff *time.Duration) bool {
	raw, err := p.extractor.Extract(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract failed", "error", err)
		return p.backoffOrStop(ctx, backoff)
	}
	p.metrics.TriggersConsumed.Inc()
	*backoff = initialBackoff

	req, err := domain.ParseSyncRequest(raw)
	if err != nil {
		p.logger.Warn("invalid trigger, skipping message",
			"error", err,
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		p.metrics.TriggerErrors.Inc()
		p.commitOffset(ctx, raw)
		return true
	}

	runID, results := p.dispatch(ctx, req)
	if ctx.Err() != nil {
		return false
	}

	if !p.publish(ctx, runID, results, backoff) {
		return false
	}
	p.metrics.ResultsProduced.Add(float64(len(results)))

	p.commitOffset(ctx, raw)
	p.ready.Store(true)
	return true
}

// publish retries the same results until the publisher accepts them or ctx
// ends. The trigger stays uncommitted meanwhile; fetching past it would let the
// next commit skip its offset.
func (p *Pipeline) publish(ctx context.Context, runID string, results []domain.PolygonResult, backoff *time.Duration) bool {
	for {
		err := p.publisher.Publish(ctx, runID, results)
		if err == nil {
			*backoff = initialBackoff
			return true
		}
		p.logger.Error("publish results failed", "error", err, "run_id", runID, "results", len(results))
		if !p.backoffOrStop(ctx, backoff) {
			return false
		}
	}
}

// dispatch runs the requested sync. Errors are carried in the results so that
// every trigger yields something downstream.
func (p *Pipeline) dispatch(ctx context.Context, req domain.SyncRequest) (string, []domain.PolygonResult) {
	switch req.Action {
	case domain.ActionSyncAll:
		summary, err := p.syncer.SyncAll(ctx)
		if err != nil {
			p.logger.Error("triggered sync all failed", "error", err, "run_id", summary.RunID)
		}
		return summary.RunID, summary.Results
	default:
		result, err := p.syncer.SyncParcel(ctx, req.Parcel())
		if err != nil {
			p.logger.Warn("triggered sync failed", "parcel_id", req.ParcelID, "error", err)
			if result.Error == "" {
				result.Error = err.Error()
			}
		}
		return "", []domain.PolygonResult{result}
	}
}

func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
