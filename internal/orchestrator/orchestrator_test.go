package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/adapter/memory"
	"github.com/couchcryptid/field-env-sync/internal/domain"
	"github.com/couchcryptid/field-env-sync/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const geometry = `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`

// --- mocks ---

type staticResolver struct {
	err   error
	calls atomic.Int32
}

func (r *staticResolver) Resolve(context.Context) (string, error) {
	r.calls.Add(1)
	if r.err != nil {
		return "", r.err
	}
	return "http://upstream", nil
}

type fakeUpstream struct {
	scenes     []domain.SatelliteScene
	sceneErr   error
	weatherErr []error // consumed one per call; nil entries succeed
	soilErr    error
	soilDelay  time.Duration

	imageryCalls atomic.Int32
	weatherCalls atomic.Int32
	soilCalls    atomic.Int32

	mu       sync.Mutex
	inFlight int
	maxSeen  int
}

func (f *fakeUpstream) SearchImagery(_ context.Context, _, _ string, _, _ time.Time) ([]domain.SatelliteScene, error) {
	f.imageryCalls.Add(1)
	if f.sceneErr != nil {
		return nil, f.sceneErr
	}
	return append([]domain.SatelliteScene(nil), f.scenes...), nil
}

func (f *fakeUpstream) CurrentWeather(context.Context, string, string) (domain.CurrentWeather, error) {
	n := int(f.weatherCalls.Add(1))
	if n <= len(f.weatherErr) && f.weatherErr[n-1] != nil {
		return domain.CurrentWeather{}, f.weatherErr[n-1]
	}
	var w domain.CurrentWeather
	w.Dt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).Unix()
	w.Main.Temp = 293.15
	return w, nil
}

func (f *fakeUpstream) Soil(ctx context.Context, _, _ string) (domain.SoilSnapshot, error) {
	f.soilCalls.Add(1)

	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.soilDelay > 0 {
		select {
		case <-time.After(f.soilDelay):
		case <-ctx.Done():
			return domain.SoilSnapshot{}, ctx.Err()
		}
	}
	if f.soilErr != nil {
		return domain.SoilSnapshot{}, f.soilErr
	}
	return domain.SoilSnapshot{Dt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).Unix(), T0: 288.15, Moisture: 0.2}, nil
}

func (f *fakeUpstream) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

type fakeStats struct {
	byURL map[string]domain.IndexStats
	err   error
}

func (f fakeStats) IndexStats(_ context.Context, statsURL string) (domain.IndexStats, error) {
	if f.err != nil {
		return domain.IndexStats{}, f.err
	}
	return f.byURL[statsURL], nil
}

type fakeRegistry struct {
	mu      sync.Mutex
	ensured []domain.Parcel
	stored  []domain.Polygon
	err     error
}

func (r *fakeRegistry) GetByParcelID(_ context.Context, parcelID string) (domain.Polygon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.stored {
		if p.ParcelID == parcelID {
			return p, nil
		}
	}
	return domain.Polygon{}, domain.ErrNotFound
}

func (r *fakeRegistry) ListPolygons(context.Context) ([]domain.Polygon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.stored), nil
}

func (r *fakeRegistry) EnsurePolygon(_ context.Context, parcel domain.Parcel) (domain.Polygon, error) {
	r.mu.Lock()
	r.ensured = append(r.ensured, parcel)
	r.mu.Unlock()
	if r.err != nil {
		return domain.Polygon{}, r.err
	}
	return domain.Polygon{ParcelID: parcel.ID, UpstreamID: "up-" + parcel.ID, AreaHa: 1, CenterLat: 1, CenterLon: 1}, nil
}

type harness struct {
	orch     *Orchestrator
	store    *memory.Store
	upstream *fakeUpstream
	registry *fakeRegistry
	resolver *staticResolver
}

func testOptions() Options {
	return Options{
		Concurrency:          2,
		SatelliteLookback:    30 * 24 * time.Hour,
		MaxRetries:           2,
		RetryInitialInterval: time.Millisecond,
		RateLimit:            rate.Inf,
		Burst:                1,
	}
}

func newHarness(up *fakeUpstream, stats StatsFetcher, opts Options) *harness {
	h := &harness{
		store:    memory.NewStore(),
		upstream: up,
		registry: &fakeRegistry{},
		resolver: &staticResolver{},
	}
	h.orch = New(h.resolver, up, stats, h.registry, h.store, h.store, opts,
		slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
	return h
}

func sampleScenes() []domain.SatelliteScene {
	return []domain.SatelliteScene{{
		Dt:    time.Date(2024, 5, 20, 18, 45, 0, 0, time.UTC).Unix(),
		Type:  "Sentinel-2",
		DC:    100,
		CL:    4,
		Image: map[string]string{"truecolor": "https://img/tc.png"},
		Stats: map[string]string{"ndvi": "https://stats/ndvi/1"},
	}}
}

func sampleStats() fakeStats {
	return fakeStats{byURL: map[string]domain.IndexStats{"https://stats/ndvi/1": {Mean: 0.5}}}
}

func unauthorized(op string) error {
	return &domain.UpstreamError{Op: op, StatusCode: 401, Body: "Invalid API key"}
}

func historyLen(t *testing.T, store *memory.Store, polygonID string, c domain.Category) int {
	t.Helper()
	recs, err := store.History(context.Background(), polygonID, c, time.Time{})
	require.NoError(t, err)
	return len(recs)
}

// --- SyncParcel ---

func TestSyncParcel_WeatherFailsOthersSucceed(t *testing.T) {
	up := &fakeUpstream{scenes: sampleScenes(), weatherErr: []error{unauthorized("current weather")}}
	h := newHarness(up, sampleStats(), testOptions())

	res, err := h.orch.SyncParcel(context.Background(), domain.Parcel{ID: "field-1", Geometry: []byte(geometry)})
	require.NoError(t, err)

	assert.Equal(t, "up-field-1", res.PolygonID)
	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, domain.OutcomeSucceeded, res.Outcomes[domain.CategorySatellite].Status)
	assert.Equal(t, domain.OutcomeSucceeded, res.Outcomes[domain.CategorySoil].Status)

	weather := res.Outcomes[domain.CategoryWeatherCurrent]
	assert.Equal(t, domain.OutcomeFailed, weather.Status)
	assert.Equal(t, 401, weather.UpstreamStatus)
	assert.ErrorIs(t, weather.Err, domain.ErrCategorySyncFailed)
	assert.Equal(t, int32(1), up.weatherCalls.Load(), "401 must not be retried")

	assert.Equal(t, 1, historyLen(t, h.store, "up-field-1", domain.CategorySatellite))
	assert.Equal(t, 1, historyLen(t, h.store, "up-field-1", domain.CategorySoil))
	assert.Zero(t, historyLen(t, h.store, "up-field-1", domain.CategoryWeatherCurrent))

	sat, err := h.store.Latest(context.Background(), "up-field-1", domain.CategorySatellite)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, sat.Fields["ndvi_mean"], 1e-9)
	assert.Equal(t, "https://img/tc.png", sat.ImageryURL)
}

func TestSyncParcel_AllCategoriesFail(t *testing.T) {
	up := &fakeUpstream{
		sceneErr:   unauthorized("search imagery"),
		weatherErr: []error{unauthorized("current weather")},
		soilErr:    unauthorized("soil"),
	}
	h := newHarness(up, sampleStats(), testOptions())

	res, err := h.orch.SyncParcel(context.Background(), domain.Parcel{ID: "field-1", Geometry: []byte(geometry)})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSyncFailed)

	var syncErr *domain.SyncFailedError
	require.ErrorAs(t, err, &syncErr)
	assert.Len(t, syncErr.Failures, 3)
	for _, c := range domain.Categories {
		assert.Contains(t, err.Error(), string(c))
	}
	assert.NotEmpty(t, res.Error)
	assert.False(t, res.Succeeded())

	for _, c := range domain.Categories {
		assert.Zero(t, historyLen(t, h.store, "up-field-1", c))
	}
}

func TestSyncParcel_PolygonUnavailableSkipsFetches(t *testing.T) {
	up := &fakeUpstream{}
	h := newHarness(up, sampleStats(), testOptions())
	h.registry.err = unauthorized("create polygon")

	res, err := h.orch.SyncParcel(context.Background(), domain.Parcel{ID: "field-1", Geometry: []byte(geometry)})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPolygonUnavailable)
	assert.Empty(t, res.Outcomes)
	assert.Contains(t, res.Error, "field-1")

	assert.Zero(t, up.imageryCalls.Load())
	assert.Zero(t, up.weatherCalls.Load())
	assert.Zero(t, up.soilCalls.Load())
}

func TestSyncParcel_EndpointUnavailable(t *testing.T) {
	up := &fakeUpstream{}
	h := newHarness(up, sampleStats(), testOptions())
	h.resolver.err = &domain.EndpointUnavailableError{Failures: []domain.ProbeFailure{{BaseURL: "A", Reason: "timeout"}}}

	_, err := h.orch.SyncParcel(context.Background(), domain.Parcel{ID: "field-1", Geometry: []byte(geometry)})
	assert.ErrorIs(t, err, domain.ErrEndpointUnavailable)
	assert.Empty(t, h.registry.ensured)
	assert.Zero(t, up.soilCalls.Load())
}

func TestSyncParcel_RetriesTransientFailure(t *testing.T) {
	up := &fakeUpstream{weatherErr: []error{&domain.UpstreamError{Op: "current weather", StatusCode: 503}}}
	h := newHarness(up, sampleStats(), testOptions())

	res, err := h.orch.SyncParcel(context.Background(), domain.Parcel{ID: "field-1", Geometry: []byte(geometry)})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSucceeded, res.Outcomes[domain.CategoryWeatherCurrent].Status)
	assert.Equal(t, int32(2), up.weatherCalls.Load())
}

func TestSyncParcel_RetryBudgetExhausted(t *testing.T) {
	busy := &domain.UpstreamError{Op: "current weather", StatusCode: 429}
	up := &fakeUpstream{weatherErr: []error{busy, busy, busy, busy}}
	opts := testOptions()
	opts.MaxRetries = 1
	h := newHarness(up, sampleStats(), opts)

	res, err := h.orch.SyncParcel(context.Background(), domain.Parcel{ID: "field-1", Geometry: []byte(geometry)})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, res.Outcomes[domain.CategoryWeatherCurrent].Status)
	assert.Equal(t, 429, res.Outcomes[domain.CategoryWeatherCurrent].UpstreamStatus)
	assert.Equal(t, int32(2), up.weatherCalls.Load())
}

func TestSyncParcel_StatsFailureFailsSatelliteOnly(t *testing.T) {
	up := &fakeUpstream{scenes: sampleScenes()}
	h := newHarness(up, fakeStats{err: errors.New("stats down")}, testOptions())

	res, err := h.orch.SyncParcel(context.Background(), domain.Parcel{ID: "field-1", Geometry: []byte(geometry)})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, res.Outcomes[domain.CategorySatellite].Status)
	assert.Contains(t, res.Outcomes[domain.CategorySatellite].Reason, "stats down")
	assert.Zero(t, historyLen(t, h.store, "up-field-1", domain.CategorySatellite))
}

func TestSyncParcel_SameDayScenesKeepLatest(t *testing.T) {
	morning := time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC).Unix()
	evening := time.Date(2024, 5, 20, 19, 0, 0, 0, time.UTC).Unix()
	up := &fakeUpstream{scenes: []domain.SatelliteScene{
		{Dt: evening, Type: "Landsat 8", DC: 90},
		{Dt: morning, Type: "Sentinel-2", DC: 40},
	}}
	h := newHarness(up, sampleStats(), testOptions())

	res, err := h.orch.SyncParcel(context.Background(), domain.Parcel{ID: "field-1", Geometry: []byte(geometry)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Outcomes[domain.CategorySatellite].Records)

	recs, err := h.store.History(context.Background(), "up-field-1", domain.CategorySatellite, time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.InDelta(t, 90.0, recs[0].Fields["data_coverage"], 1e-9)
	assert.Equal(t, "l8", recs[0].Source)
}

func TestSyncParcel_IdempotentRerun(t *testing.T) {
	up := &fakeUpstream{scenes: sampleScenes()}
	h := newHarness(up, sampleStats(), testOptions())
	parcel := domain.Parcel{ID: "field-1", Geometry: []byte(geometry)}

	_, err := h.orch.SyncParcel(context.Background(), parcel)
	require.NoError(t, err)
	_, err = h.orch.SyncParcel(context.Background(), parcel)
	require.NoError(t, err)

	for _, c := range domain.Categories {
		assert.Equal(t, 1, historyLen(t, h.store, "up-field-1", c), "category %s", c)
	}
}

func TestSyncPolygon_UsesParcelSourceGeometry(t *testing.T) {
	up := &fakeUpstream{}
	h := newHarness(up, sampleStats(), testOptions())
	h.store.PutParcel(domain.Parcel{ID: "field-1", Name: "North", Geometry: []byte(geometry)})

	_, err := h.orch.SyncPolygon(context.Background(), "field-1")
	require.NoError(t, err)

	require.Len(t, h.registry.ensured, 1)
	assert.Equal(t, "North", h.registry.ensured[0].Name)
	assert.JSONEq(t, geometry, string(h.registry.ensured[0].Geometry))
}

func TestSyncPolygon_UnknownParcel(t *testing.T) {
	h := newHarness(&fakeUpstream{}, sampleStats(), testOptions())

	_, err := h.orch.SyncPolygon(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPolygonUnavailable)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// --- SyncAll ---

func TestSyncAll_RespectsConcurrencyCeiling(t *testing.T) {
	up := &fakeUpstream{soilDelay: 30 * time.Millisecond}
	opts := testOptions()
	opts.Concurrency = 2
	h := newHarness(up, sampleStats(), opts)
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		h.store.PutParcel(domain.Parcel{ID: id, Geometry: []byte(geometry)})
	}

	summary, err := h.orch.SyncAll(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 6, summary.Parcels)
	assert.Equal(t, 6, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Skipped)
	require.Len(t, summary.Results, 6)
	assert.Equal(t, "a", summary.Results[0].ParcelID)

	assert.LessOrEqual(t, up.maxConcurrent(), 2)
	assert.Equal(t, int32(1), h.resolver.calls.Load(), "endpoint resolved once per run")
}

func TestSyncAll_IncludesPolygonsMissingFromCatalogue(t *testing.T) {
	up := &fakeUpstream{scenes: sampleScenes()}
	h := newHarness(up, sampleStats(), testOptions())
	h.store.PutParcel(domain.Parcel{ID: "a", Geometry: []byte(geometry)})
	h.registry.stored = []domain.Polygon{
		{ParcelID: "a", UpstreamID: "up-a", AreaHa: 1, CenterLat: 1, CenterLon: 1},
		{ParcelID: "inline", UpstreamID: "up-inline", Name: "Inline", Geometry: []byte(geometry), AreaHa: 1, CenterLat: 1, CenterLon: 1},
	}

	summary, err := h.orch.SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Parcels)
	assert.Equal(t, 2, summary.Succeeded)
	require.Len(t, summary.Results, 2)
	assert.Equal(t, "a", summary.Results[0].ParcelID)
	assert.Equal(t, "inline", summary.Results[1].ParcelID)
	assert.Equal(t, "up-inline", summary.Results[1].PolygonID)
	assert.Empty(t, h.registry.ensured, "registered polygons are reused")
	assert.Positive(t, historyLen(t, h.store, "up-inline", domain.CategorySoil))
}

func TestSyncAll_CollectsFailures(t *testing.T) {
	up := &fakeUpstream{
		sceneErr:   unauthorized("search imagery"),
		weatherErr: []error{unauthorized("w"), unauthorized("w"), unauthorized("w")},
		soilErr:    unauthorized("soil"),
	}
	h := newHarness(up, sampleStats(), testOptions())
	h.store.PutParcel(domain.Parcel{ID: "a", Geometry: []byte(geometry)})
	h.store.PutParcel(domain.Parcel{ID: "b", Geometry: []byte(geometry)})

	summary, err := h.orch.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	for _, res := range summary.Results {
		assert.NotEmpty(t, res.Error)
	}
}

func TestSyncAll_CancelledStartsNothing(t *testing.T) {
	up := &fakeUpstream{}
	h := newHarness(up, sampleStats(), testOptions())
	h.store.PutParcel(domain.Parcel{ID: "a", Geometry: []byte(geometry)})
	h.store.PutParcel(domain.Parcel{ID: "b", Geometry: []byte(geometry)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.orch.SyncAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, summary.Skipped)
	assert.Empty(t, summary.Results)
	assert.Empty(t, h.registry.ensured)
	assert.Zero(t, up.soilCalls.Load())
}

func TestSyncAll_EndpointUnavailable(t *testing.T) {
	h := newHarness(&fakeUpstream{}, sampleStats(), testOptions())
	h.resolver.err = &domain.EndpointUnavailableError{}
	h.store.PutParcel(domain.Parcel{ID: "a", Geometry: []byte(geometry)})

	_, err := h.orch.SyncAll(context.Background())
	assert.ErrorIs(t, err, domain.ErrEndpointUnavailable)
	assert.Empty(t, h.registry.ensured)
}
