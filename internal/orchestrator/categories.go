package orchestrator

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchcryptid/field-env-sync/internal/domain"
)

// syncCategory fetches, normalizes, and upserts one category. It never returns
// an error; failures are folded into the outcome.
func (o *Orchestrator) syncCategory(ctx context.Context, baseURL string, poly domain.Polygon, c domain.Category) domain.CategoryOutcome {
	var (
		records []domain.EnvironmentalRecord
		err     error
	)
	switch c {
	case domain.CategorySatellite:
		records, err = o.fetchSatellite(ctx, baseURL, poly)
	case domain.CategoryWeatherCurrent:
		records, err = o.fetchWeather(ctx, baseURL, poly)
	case domain.CategorySoil:
		records, err = o.fetchSoil(ctx, baseURL, poly)
	}
	if err == nil {
		err = o.upsertAll(ctx, records)
	}
	if err != nil {
		o.metrics.CategorySyncs.WithLabelValues(string(c), string(domain.OutcomeFailed)).Inc()
		return domain.Failed(c, &domain.CategoryError{PolygonID: poly.UpstreamID, Category: c, Err: err})
	}

	o.metrics.CategorySyncs.WithLabelValues(string(c), string(domain.OutcomeSucceeded)).Inc()
	o.metrics.RecordsUpserted.WithLabelValues(string(c)).Add(float64(len(records)))

	var latest *domain.EnvironmentalRecord
	if n := len(records); n > 0 {
		latest = &records[n-1]
	}
	return domain.Succeeded(c, len(records), latest)
}

// fetchSatellite returns one record per scene in the lookback window, ordered
// by acquisition time so that same-day scenes resolve to the latest one.
func (o *Orchestrator) fetchSatellite(ctx context.Context, baseURL string, poly domain.Polygon) ([]domain.EnvironmentalRecord, error) {
	end := domain.Now().UTC()
	start := end.Add(-o.opts.SatelliteLookback)

	scenes, err := retry(ctx, o, domain.CategorySatellite, func() ([]domain.SatelliteScene, error) {
		return o.upstream.SearchImagery(ctx, baseURL, poly.UpstreamID, start, end)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(scenes, func(i, j int) bool { return scenes[i].Dt < scenes[j].Dt })

	records := make([]domain.EnvironmentalRecord, 0, len(scenes))
	for _, scene := range scenes {
		stats := make(map[string]domain.IndexStats, len(domain.TrackedIndices))
		for _, index := range domain.TrackedIndices {
			statsURL, ok := scene.Stats[index]
			if !ok || statsURL == "" {
				continue
			}
			s, err := retry(ctx, o, domain.CategorySatellite, func() (domain.IndexStats, error) {
				return o.stats.IndexStats(ctx, statsURL)
			})
			if err != nil {
				return nil, err
			}
			stats[index] = s
		}
		records = append(records, domain.NormalizeSatellite(poly.UpstreamID, scene, stats))
	}
	return records, nil
}

func (o *Orchestrator) fetchWeather(ctx context.Context, baseURL string, poly domain.Polygon) ([]domain.EnvironmentalRecord, error) {
	w, err := retry(ctx, o, domain.CategoryWeatherCurrent, func() (domain.CurrentWeather, error) {
		return o.upstream.CurrentWeather(ctx, baseURL, poly.UpstreamID)
	})
	if err != nil {
		return nil, err
	}
	return []domain.EnvironmentalRecord{domain.NormalizeWeather(poly.UpstreamID, w)}, nil
}

func (o *Orchestrator) fetchSoil(ctx context.Context, baseURL string, poly domain.Polygon) ([]domain.EnvironmentalRecord, error) {
	s, err := retry(ctx, o, domain.CategorySoil, func() (domain.SoilSnapshot, error) {
		return o.upstream.Soil(ctx, baseURL, poly.UpstreamID)
	})
	if err != nil {
		return nil, err
	}
	return []domain.EnvironmentalRecord{domain.NormalizeSoil(poly.UpstreamID, s)}, nil
}

func (o *Orchestrator) upsertAll(ctx context.Context, records []domain.EnvironmentalRecord) error {
	for _, rec := range records {
		if err := o.records.Upsert(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// retry paces fn through the shared rate limiter and retries it with
// exponential backoff while the failure is a retryable upstream error.
func retry[T any](ctx context.Context, o *Orchestrator, c domain.Category, fn func() (T, error)) (T, error) {
	attempt := 0
	op := func() (T, error) {
		if attempt > 0 {
			o.metrics.UpstreamRetries.WithLabelValues(string(c)).Inc()
		}
		attempt++

		var zero T
		if err := o.limiter.Wait(ctx); err != nil {
			return zero, backoff.Permanent(err)
		}
		v, err := fn()
		if err != nil && (ctx.Err() != nil || !retryable(err)) {
			return zero, backoff.Permanent(err)
		}
		return v, err
	}
	return backoff.RetryWithData(op, o.backoffPolicy(ctx))
}

func (o *Orchestrator) backoffPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if o.opts.RetryInitialInterval > 0 {
		eb.InitialInterval = o.opts.RetryInitialInterval
	}
	eb.MaxInterval = 10 * time.Second
	eb.MaxElapsedTime = 0

	maxRetries := o.opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(maxRetries)), ctx)
}

func retryable(err error) bool {
	var upErr *domain.UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Retryable()
	}
	return false
}
