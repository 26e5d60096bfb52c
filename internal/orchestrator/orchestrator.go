// Package orchestrator runs per-polygon synchronization of the satellite,
// weather, and soil categories and fans it out across all parcels.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/domain"
	"github.com/couchcryptid/field-env-sync/internal/observability"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// EndpointResolver yields the upstream base URL.
type EndpointResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// Upstream is the slice of the upstream client used for category fetches.
type Upstream interface {
	SearchImagery(ctx context.Context, baseURL, polygonID string, start, end time.Time) ([]domain.SatelliteScene, error)
	CurrentWeather(ctx context.Context, baseURL, polygonID string) (domain.CurrentWeather, error)
	Soil(ctx context.Context, baseURL, polygonID string) (domain.SoilSnapshot, error)
}

// StatsFetcher fetches per-scene index statistics.
type StatsFetcher interface {
	IndexStats(ctx context.Context, statsURL string) (domain.IndexStats, error)
}

// PolygonRegistry resolves parcels to upstream polygons.
type PolygonRegistry interface {
	GetByParcelID(ctx context.Context, parcelID string) (domain.Polygon, error)
	EnsurePolygon(ctx context.Context, parcel domain.Parcel) (domain.Polygon, error)
	ListPolygons(ctx context.Context) ([]domain.Polygon, error)
}

// Options tunes orchestration.
type Options struct {
	// Concurrency caps how many parcels SyncAll syncs at once.
	Concurrency int
	// SatelliteLookback is the imagery search window ending now.
	SatelliteLookback time.Duration
	// MaxRetries bounds retries of one upstream call; 0 disables retrying.
	MaxRetries int
	// RetryInitialInterval is the first backoff delay between retries.
	RetryInitialInterval time.Duration
	// RateLimit and Burst pace all upstream calls made by the orchestrator.
	RateLimit rate.Limit
	Burst     int
	// Limiter, if set, is used instead of one built from RateLimit and Burst
	// so other components can share the same pacing.
	Limiter *rate.Limiter
}

// DefaultOptions returns the settings used when config leaves them unset.
func DefaultOptions() Options {
	return Options{
		Concurrency:          4,
		SatelliteLookback:    30 * 24 * time.Hour,
		MaxRetries:           2,
		RetryInitialInterval: 500 * time.Millisecond,
		RateLimit:            rate.Limit(1),
		Burst:                5,
	}
}

// Orchestrator implements SyncPolygon and SyncAll.
type Orchestrator struct {
	resolver EndpointResolver
	upstream Upstream
	stats    StatsFetcher
	registry PolygonRegistry
	records  domain.RecordStore
	parcels  domain.ParcelSource
	limiter  *rate.Limiter
	opts     Options
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New creates an Orchestrator.
func New(
	resolver EndpointResolver,
	upstream Upstream,
	stats StatsFetcher,
	registry PolygonRegistry,
	records domain.RecordStore,
	parcels domain.ParcelSource,
	opts Options,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(opts.RateLimit, opts.Burst)
	}
	return &Orchestrator{
		resolver: resolver,
		upstream: upstream,
		stats:    stats,
		registry: registry,
		records:  records,
		parcels:  parcels,
		limiter:  limiter,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
	}
}

// SyncPolygon syncs all categories for the parcel with the given id. The
// parcel's geometry is read from the parcel source if a polygon must be created.
func (o *Orchestrator) SyncPolygon(ctx context.Context, parcelID string) (domain.PolygonResult, error) {
	return o.SyncParcel(ctx, domain.Parcel{ID: parcelID})
}

// SyncParcel syncs all categories for parcel. The returned error is non-nil only
// when the endpoint cannot be resolved, the polygon cannot be materialized, or
// every category failed; partial failures are reported in the result's outcomes.
func (o *Orchestrator) SyncParcel(ctx context.Context, parcel domain.Parcel) (domain.PolygonResult, error) {
	baseURL, err := o.resolver.Resolve(ctx)
	if err != nil {
		return domain.PolygonResult{ParcelID: parcel.ID, Error: err.Error()}, err
	}
	return o.syncParcel(ctx, baseURL, parcel)
}

func (o *Orchestrator) syncParcel(ctx context.Context, baseURL string, parcel domain.Parcel) (domain.PolygonResult, error) {
	start := time.Now()
	result := domain.PolygonResult{ParcelID: parcel.ID}
	log := o.logger.With("parcel_id", parcel.ID)

	poly, err := o.materialize(ctx, parcel)
	if err != nil {
		unavailable := &domain.PolygonUnavailableError{ParcelID: parcel.ID, Err: err}
		result.Error = unavailable.Error()
		result.Duration = time.Since(start)
		log.Warn("polygon unavailable, skipping categories", "error", err)
		return result, unavailable
	}
	result.PolygonID = poly.UpstreamID
	log = log.With("polygon_id", poly.UpstreamID)

	outcomes := make(map[domain.Category]domain.CategoryOutcome, len(domain.Categories))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range domain.Categories {
		wg.Add(1)
		go func(c domain.Category) {
			defer wg.Done()
			outcome := o.syncCategory(ctx, baseURL, poly, c)
			mu.Lock()
			outcomes[c] = outcome
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	result.Outcomes = outcomes
	result.Duration = time.Since(start)
	o.metrics.PolygonSyncDuration.Observe(result.Duration.Seconds())

	failures := make(map[domain.Category]error)
	for c, outcome := range outcomes {
		if outcome.Status == domain.OutcomeFailed {
			failures[c] = outcome.Err
			log.Warn("category sync failed", "category", c, "reason", outcome.Reason, "upstream_status", outcome.UpstreamStatus)
		}
	}

	if len(failures) == len(domain.Categories) {
		syncErr := &domain.SyncFailedError{ParcelID: parcel.ID, Failures: failures}
		result.Error = syncErr.Error()
		log.Error("polygon sync failed", "error", syncErr)
		return result, syncErr
	}

	log.Info("polygon synced",
		"failed_categories", len(failures),
		"duration", result.Duration,
	)
	return result, nil
}

// materialize returns the parcel's polygon, creating it when missing. Geometry
// comes from the parcel when given, otherwise from the parcel source.
func (o *Orchestrator) materialize(ctx context.Context, parcel domain.Parcel) (domain.Polygon, error) {
	poly, err := o.registry.GetByParcelID(ctx, parcel.ID)
	if err == nil && !poly.NeedsBackfill() {
		return poly, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Polygon{}, err
	}

	if err != nil && len(parcel.Geometry) == 0 {
		if o.parcels == nil {
			return domain.Polygon{}, fmt.Errorf("parcel %s has no polygon and no geometry was supplied", parcel.ID)
		}
		known, lookupErr := o.parcels.Parcel(ctx, parcel.ID)
		if lookupErr != nil {
			return domain.Polygon{}, fmt.Errorf("lookup parcel: %w", lookupErr)
		}
		if parcel.Name != "" {
			known.Name = parcel.Name
		}
		parcel = known
	}
	return o.registry.EnsurePolygon(ctx, parcel)
}

// SyncAll resolves the endpoint once and syncs every known parcel with at most
// Options.Concurrency parcels in flight. Cancelling ctx stops new parcels from
// starting; parcels already started run to completion or fail on the cancelled
// context.
func (o *Orchestrator) SyncAll(ctx context.Context) (domain.SyncSummary, error) {
	summary := domain.SyncSummary{
		RunID:     uuid.NewString(),
		StartedAt: domain.Now().UTC(),
	}
	log := o.logger.With("run_id", summary.RunID)

	baseURL, err := o.resolver.Resolve(ctx)
	if err != nil {
		o.metrics.SyncAllRuns.WithLabelValues("failed").Inc()
		summary.FinishedAt = domain.Now().UTC()
		return summary, err
	}

	parcels, err := o.knownParcels(ctx)
	if err != nil {
		o.metrics.SyncAllRuns.WithLabelValues("failed").Inc()
		summary.FinishedAt = domain.Now().UTC()
		return summary, err
	}
	summary.Parcels = len(parcels)
	log.Info("sync all started", "parcels", len(parcels), "concurrency", o.opts.Concurrency)

	sem := semaphore.NewWeighted(int64(o.opts.Concurrency))
	results := make([]domain.PolygonResult, len(parcels))
	started := make([]bool, len(parcels))
	var wg sync.WaitGroup

	for i, parcel := range parcels {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		started[i] = true
		wg.Add(1)
		go func(i int, parcel domain.Parcel) {
			defer wg.Done()
			defer sem.Release(1)
			results[i], _ = o.syncParcel(ctx, baseURL, parcel)
		}(i, parcel)
	}
	wg.Wait()

	for i, res := range results {
		if !started[i] {
			summary.Skipped++
			continue
		}
		if res.Succeeded() {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		summary.Results = append(summary.Results, res)
	}
	sort.SliceStable(summary.Results, func(a, b int) bool {
		return summary.Results[a].ParcelID < summary.Results[b].ParcelID
	})
	summary.FinishedAt = domain.Now().UTC()

	if ctx.Err() != nil {
		o.metrics.SyncAllRuns.WithLabelValues("cancelled").Inc()
		log.Warn("sync all cancelled",
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"skipped", summary.Skipped,
		)
		return summary, fmt.Errorf("sync all: %w", ctx.Err())
	}

	o.metrics.SyncAllRuns.WithLabelValues("completed").Inc()
	log.Info("sync all finished",
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", summary.FinishedAt.Sub(summary.StartedAt),
	)
	return summary, nil
}

// knownParcels lists the catalogue plus every parcel that already has a
// registered polygon, so polygons created from inline geometry are synced too.
func (o *Orchestrator) knownParcels(ctx context.Context) ([]domain.Parcel, error) {
	var catalogue []domain.Parcel
	if o.parcels != nil {
		var err error
		if catalogue, err = o.parcels.ListParcels(ctx); err != nil {
			return nil, fmt.Errorf("list parcels: %w", err)
		}
	}
	polygons, err := o.registry.ListPolygons(ctx)
	if err != nil {
		return nil, fmt.Errorf("list polygons: %w", err)
	}
	return domain.KnownParcels(catalogue, polygons), nil
}
