// Package app wires configuration into the sync subsystem's components.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/field-env-sync/internal/adapter/agro"
	"github.com/couchcryptid/field-env-sync/internal/adapter/memory"
	"github.com/couchcryptid/field-env-sync/internal/adapter/postgres"
	"github.com/couchcryptid/field-env-sync/internal/config"
	"github.com/couchcryptid/field-env-sync/internal/domain"
	"github.com/couchcryptid/field-env-sync/internal/observability"
	"github.com/couchcryptid/field-env-sync/internal/orchestrator"
	"github.com/couchcryptid/field-env-sync/internal/registry"
	"golang.org/x/time/rate"
)

// Store is the full persistence surface: records, polygons, and the parcel catalogue.
type Store interface {
	domain.RecordStore
	domain.PolygonStore
	domain.ParcelSource
}

// App holds the wired components shared by the service and the CLI.
type App struct {
	Store        Store
	Client       *agro.Client
	Resolver     *agro.Resolver
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator

	db *postgres.Store
}

// Build opens storage and constructs the sync components. The upstream
// endpoint is not resolved here; callers decide when to probe.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*App, error) {
	a := &App{}

	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if cfg.DBAutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				db.Close() //nolint:errcheck // already failing
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}
		a.db = db
		a.Store = db
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		a.Store = memory.NewStore()
	}

	a.Client = agro.NewClient(cfg.AgroAPIKey, cfg.UpstreamTimeout, logger, metrics)
	a.Resolver = agro.NewResolver(cfg.AgroBaseURLs, a.Client, cfg.ProbeTimeout, logger, metrics)
	opts := Options(cfg)
	a.Registry = registry.New(a.Store, a.Client, a.Resolver, opts.Limiter, logger, metrics)

	stats := agro.NewCachedStatsFetcher(a.Client, cfg.StatsCacheSize, metrics)
	a.Orchestrator = orchestrator.New(
		a.Resolver,
		a.Client,
		stats,
		a.Registry,
		a.Store,
		a.Store,
		opts,
		logger,
		metrics,
	)
	return a, nil
}

// Options maps config onto orchestrator options. The limiter it builds is also
// handed to the registry so polygon registration shares the upstream pacing.
func Options(cfg *config.Config) orchestrator.Options {
	opts := orchestrator.DefaultOptions()
	opts.Concurrency = cfg.SyncConcurrency
	opts.SatelliteLookback = cfg.SatelliteLookback
	opts.MaxRetries = cfg.SyncRetryMax
	opts.RateLimit = rate.Limit(cfg.UpstreamRPS)
	opts.Burst = max(cfg.UpstreamBurst, 1)
	opts.Limiter = rate.NewLimiter(opts.RateLimit, opts.Burst)
	return opts
}

// CheckReadiness is ready once the upstream endpoint is resolved and, when
// configured, the database answers.
func (a *App) CheckReadiness(ctx context.Context) error {
	var errs []error
	if err := a.Resolver.CheckReadiness(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.db != nil {
		if err := a.db.CheckReadiness(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases storage.
func (a *App) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
