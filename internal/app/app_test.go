package app_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/app"
	"github.com/couchcryptid/field-env-sync/internal/config"
	"github.com/couchcryptid/field-env-sync/internal/domain"
	"github.com/couchcryptid/field-env-sync/internal/mockupstream"
	"github.com/couchcryptid/field-env-sync/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const geometry = `{"type":"Polygon","coordinates":[[[-121.19,37.68],[-121.17,37.68],[-121.17,37.70],[-121.19,37.70],[-121.19,37.68]]]}`

func testConfig(candidates ...string) *config.Config {
	return &config.Config{
		AgroAPIKey:        "mock-key",
		AgroBaseURLs:      candidates,
		ProbeTimeout:      time.Second,
		UpstreamTimeout:   5 * time.Second,
		UpstreamRPS:       1000,
		UpstreamBurst:     100,
		StatsCacheSize:    100,
		SyncConcurrency:   2,
		SyncRetryMax:      1,
		SatelliteLookback: 10 * 24 * time.Hour,
	}
}

func build(t *testing.T, cfg *config.Config) *app.App {
	t.Helper()
	a, err := app.Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestEndToEnd_SyncOneWithMemoryStore(t *testing.T) {
	mock := mockupstream.New("mock-key", nil)
	live := httptest.NewServer(mock.Handler())
	defer live.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer dead.Close()

	a := build(t, testConfig(dead.URL, live.URL+mockupstream.BasePath))
	ctx := context.Background()

	require.Error(t, a.CheckReadiness(ctx), "not ready before resolution")

	res, err := a.Orchestrator.SyncParcel(ctx, domain.Parcel{ID: "field-1", Name: "North", Geometry: []byte(geometry)})
	require.NoError(t, err)
	require.NoError(t, a.CheckReadiness(ctx))

	ep, ok := a.Resolver.Endpoint()
	require.True(t, ok)
	assert.Equal(t, live.URL+mockupstream.BasePath, ep.BaseURL)

	for _, c := range domain.Categories {
		assert.Equal(t, domain.OutcomeSucceeded, res.Outcomes[c].Status, "category %s: %s", c, res.Outcomes[c].Reason)
	}

	sat, err := a.Store.Latest(ctx, res.PolygonID, domain.CategorySatellite)
	require.NoError(t, err)
	assert.Contains(t, sat.Fields, "ndvi_mean")
	assert.Contains(t, sat.Fields, "ndwi_mean")
	assert.NotEmpty(t, sat.ImageryURL)
	assert.NotEmpty(t, sat.Raw)

	weather, err := a.Store.Latest(ctx, res.PolygonID, domain.CategoryWeatherCurrent)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, weather.Fields["temperature_c"], 1e-9)
	assert.InDelta(t, 0.4, weather.Fields["precipitation_mm"], 1e-9)

	// A second pass reuses the polygon and overwrites same-day records.
	_, err = a.Orchestrator.SyncPolygon(ctx, "field-1")
	require.NoError(t, err)
	assert.Equal(t, 1, mock.PolygonCount())

	summary, err := a.Orchestrator.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Parcels)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestEndToEnd_NoLiveCandidate(t *testing.T) {
	mock := mockupstream.New("a-different-key", nil)
	live := httptest.NewServer(mock.Handler())
	defer live.Close()

	a := build(t, testConfig(live.URL+mockupstream.BasePath))

	_, err := a.Orchestrator.SyncParcel(context.Background(), domain.Parcel{ID: "field-1", Geometry: []byte(geometry)})
	require.ErrorIs(t, err, domain.ErrEndpointUnavailable)
	assert.Contains(t, err.Error(), "401 Unauthorized")
	assert.Zero(t, mock.PolygonCount())
}

func TestOptions(t *testing.T) {
	cfg := testConfig()
	opts := app.Options(cfg)
	assert.Equal(t, 2, opts.Concurrency)
	assert.Equal(t, 1, opts.MaxRetries)
	assert.Equal(t, 10*24*time.Hour, opts.SatelliteLookback)
	assert.Equal(t, 100, opts.Burst)
	require.NotNil(t, opts.Limiter)
	assert.Equal(t, rate.Limit(1000), opts.Limiter.Limit())
	assert.Equal(t, 100, opts.Limiter.Burst())
}
