// Package registry maps parcels onto upstream polygons, creating each
// polygon at most once.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/domain"
	"github.com/couchcryptid/field-env-sync/internal/observability"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ensureTimeout bounds one shared ensure flight, which outlives the callers' contexts.
const ensureTimeout = 2 * time.Minute

// EndpointResolver yields the upstream base URL.
type EndpointResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// PolygonAPI is the slice of the upstream client the registry needs.
type PolygonAPI interface {
	CreatePolygon(ctx context.Context, baseURL, name string, geometry []byte) (domain.UpstreamPolygon, error)
	GetPolygon(ctx context.Context, baseURL, id string) (domain.UpstreamPolygon, error)
}

// Registry implements ensure/get over a PolygonStore.
type Registry struct {
	store    domain.PolygonStore
	api      PolygonAPI
	resolver EndpointResolver
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
	group    singleflight.Group
}

// New creates a Registry. Upstream calls wait on limiter, which is normally
// shared with the orchestrator; nil leaves them unpaced.
func New(store domain.PolygonStore, api PolygonAPI, resolver EndpointResolver, limiter *rate.Limiter, logger *slog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		store:    store,
		api:      api,
		resolver: resolver,
		limiter:  limiter,
		timeout:  ensureTimeout,
		logger:   logger,
		metrics:  metrics,
	}
}

// GetByParcelID returns the stored polygon for parcelID or domain.ErrNotFound. No network I/O.
func (r *Registry) GetByParcelID(ctx context.Context, parcelID string) (domain.Polygon, error) {
	return r.store.PolygonByParcel(ctx, parcelID)
}

// ListPolygons returns every registered polygon ordered by parcel id. No network I/O.
func (r *Registry) ListPolygons(ctx context.Context) ([]domain.Polygon, error) {
	return r.store.ListPolygons(ctx)
}

// EnsurePolygon returns the parcel's polygon, registering it upstream if none exists.
// Concurrent calls for one parcel share a single flight; the store is consulted
// inside the flight so a caller arriving after creation reuses the stored row.
//
// The flight runs detached from the callers' contexts, bounded by its own
// timeout. A caller whose context ends stops waiting and gets the context
// error; the flight still completes and stores what it created.
func (r *Registry) EnsurePolygon(ctx context.Context, parcel domain.Parcel) (domain.Polygon, error) {
	ch := r.group.DoChan(parcel.ID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.ensure(fctx, parcel)
	})

	select {
	case <-ctx.Done():
		return domain.Polygon{}, fmt.Errorf("ensure polygon for %s: %w", parcel.ID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return domain.Polygon{}, res.Err
		}
		if res.Shared {
			r.logger.Debug("polygon ensure shared", "parcel_id", parcel.ID)
		}
		return res.Val.(domain.Polygon), nil
	}
}

func (r *Registry) ensure(ctx context.Context, parcel domain.Parcel) (domain.Polygon, error) {
	existing, err := r.store.PolygonByParcel(ctx, parcel.ID)
	if err == nil {
		if existing.NeedsBackfill() {
			return r.backfill(ctx, existing), nil
		}
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Polygon{}, fmt.Errorf("lookup polygon: %w", err)
	}

	if len(parcel.Geometry) == 0 {
		return domain.Polygon{}, fmt.Errorf("parcel %s has no geometry", parcel.ID)
	}

	baseURL, err := r.resolver.Resolve(ctx)
	if err != nil {
		return domain.Polygon{}, err
	}

	name := parcel.Name
	if name == "" {
		name = parcel.ID
	}
	// Creation is not retried: a create whose reply was lost may already exist upstream.
	if err := r.wait(ctx); err != nil {
		return domain.Polygon{}, err
	}
	up, err := r.api.CreatePolygon(ctx, baseURL, name, parcel.Geometry)
	if err != nil {
		return domain.Polygon{}, err
	}
	r.metrics.PolygonsCreated.Inc()

	p := domain.Polygon{
		ParcelID:   parcel.ID,
		UpstreamID: up.ID,
		Name:       name,
		Geometry:   parcel.Geometry,
		CreatedAt:  domain.Now().UTC(),
	}
	applyDerived(&p, up)

	if err := r.store.SavePolygon(ctx, p); err != nil {
		// The upstream polygon exists now but is not recorded; the next ensure
		// will register a second one.
		r.logger.Error("polygon created upstream but not stored",
			"parcel_id", parcel.ID,
			"upstream_id", up.ID,
			"error", err,
		)
		return domain.Polygon{}, err
	}

	r.logger.Info("polygon registered", "parcel_id", parcel.ID, "upstream_id", up.ID, "area_ha", p.AreaHa)
	return p, nil
}

// backfill fills area and centroid from the upstream record. Failures are
// logged and the polygon is returned unchanged.
func (r *Registry) backfill(ctx context.Context, p domain.Polygon) domain.Polygon {
	baseURL, err := r.resolver.Resolve(ctx)
	if err != nil {
		return p
	}
	if err := r.wait(ctx); err != nil {
		return p
	}
	up, err := r.api.GetPolygon(ctx, baseURL, p.UpstreamID)
	if err != nil {
		r.logger.Warn("polygon backfill fetch failed", "parcel_id", p.ParcelID, "error", err)
		return p
	}

	updated := p
	applyDerived(&updated, up)
	if updated.AreaHa == p.AreaHa && updated.CenterLat == p.CenterLat && updated.CenterLon == p.CenterLon {
		return p
	}
	if err := r.store.UpdatePolygonDerived(ctx, updated); err != nil {
		r.logger.Warn("polygon backfill store failed", "parcel_id", p.ParcelID, "error", err)
		return p
	}
	return updated
}

func (r *Registry) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for upstream rate limit: %w", err)
	}
	return nil
}

func applyDerived(p *domain.Polygon, up domain.UpstreamPolygon) {
	if up.Area > 0 {
		p.AreaHa = up.Area
	}
	if len(up.Center) == 2 {
		p.CenterLon = up.Center[0]
		p.CenterLat = up.Center[1]
	}
}
