package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freezeClock(t *testing.T) time.Time {
	t.Helper()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { SetClock(nil) })
	return now
}

func TestNormalizeSatellite(t *testing.T) {
	now := freezeClock(t)
	scene := SatelliteScene{
		Dt:    time.Date(2024, 5, 20, 18, 45, 0, 0, time.UTC).Unix(),
		Type:  "Sentinel-2",
		DC:    100,
		CL:    12.5,
		Image: map[string]string{"truecolor": "https://img.example/tc.png"},
		Raw:   json.RawMessage(`{"dt":1716230700}`),
	}
	stats := map[string]IndexStats{
		"ndvi": {Mean: 0.61, Min: 0.1, Max: 0.9, Median: 0.63, Std: 0.12},
	}

	rec := NormalizeSatellite("poly-1", scene, stats)

	assert.Equal(t, "poly-1", rec.PolygonID)
	assert.Equal(t, CategorySatellite, rec.Category)
	assert.Equal(t, time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC), rec.MeasuredOn)
	assert.InDelta(t, 0.61, rec.Fields["ndvi_mean"], 1e-9)
	assert.InDelta(t, 0.63, rec.Fields["ndvi_median"], 1e-9)
	assert.NotContains(t, rec.Fields, "ndwi_mean")
	assert.InDelta(t, 100.0, rec.Fields["data_coverage"], 1e-9)
	require.NotNil(t, rec.CloudCoverage)
	assert.InDelta(t, 0.125, *rec.CloudCoverage, 1e-9)
	assert.Equal(t, "https://img.example/tc.png", rec.ImageryURL)
	assert.Equal(t, "s2", rec.Source)
	assert.JSONEq(t, `{"dt":1716230700}`, string(rec.Raw))
	assert.Equal(t, now, rec.CreatedAt)
	assert.Equal(t, now, rec.UpdatedAt)
}

func TestNormalizeWeather(t *testing.T) {
	freezeClock(t)
	var w CurrentWeather
	require.NoError(t, json.Unmarshal([]byte(`{
		"dt": 1717243200,
		"main": {"temp": 293.15, "feels_like": 292.65, "temp_min": 290.15, "temp_max": 295.15, "pressure": 1013, "humidity": 55},
		"wind": {"speed": 3.2, "deg": 270},
		"clouds": {"all": 40},
		"rain": {"1h": 0.8},
		"snow": {"3h": 0.2}
	}`), &w))

	rec := NormalizeWeather("poly-1", w)

	assert.Equal(t, CategoryWeatherCurrent, rec.Category)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), rec.MeasuredOn)
	assert.InDelta(t, 20.0, rec.Fields["temperature_c"], 1e-9)
	assert.InDelta(t, 19.5, rec.Fields["feels_like_c"], 1e-9)
	assert.InDelta(t, 17.0, rec.Fields["temperature_min_c"], 1e-9)
	assert.InDelta(t, 22.0, rec.Fields["temperature_max_c"], 1e-9)
	assert.InDelta(t, 55.0, rec.Fields["humidity_pct"], 1e-9)
	assert.InDelta(t, 1.0, rec.Fields["precipitation_mm"], 1e-9)
	require.NotNil(t, rec.CloudCoverage)
	assert.InDelta(t, 0.4, *rec.CloudCoverage, 1e-9)
	assert.Empty(t, rec.ImageryURL)
}

func TestNormalizeWeather_NoClouds(t *testing.T) {
	rec := NormalizeWeather("poly-1", CurrentWeather{Dt: 1717243200})
	assert.Nil(t, rec.CloudCoverage)
	assert.Zero(t, rec.Fields["precipitation_mm"])
}

func TestNormalizeSoil(t *testing.T) {
	freezeClock(t)
	rec := NormalizeSoil("poly-1", SoilSnapshot{Dt: 1717200000, T0: 288.15, T10: 285.65, Moisture: 0.21})

	assert.Equal(t, CategorySoil, rec.Category)
	assert.InDelta(t, 15.0, rec.Fields["surface_temperature_c"], 1e-9)
	assert.InDelta(t, 12.5, rec.Fields["temperature_10cm_c"], 1e-9)
	assert.InDelta(t, 0.21, rec.Fields["moisture"], 1e-9)
	assert.Nil(t, rec.CloudCoverage)
}

func TestMeasurementDate_TruncatesToUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	ts := time.Date(2024, 3, 2, 5, 0, 0, 0, loc) // 2024-03-01 19:00 UTC
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), MeasurementDate(ts))
}

func TestSatelliteSource(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Landsat 8", "l8"},
		{"Sentinel-2", "s2"},
		{"s2", "s2"},
		{"MODIS", "modis"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, satelliteSource(tt.in))
		})
	}
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("soil")
	require.NoError(t, err)
	assert.Equal(t, CategorySoil, c)

	_, err = ParseCategory("ndvi")
	assert.Error(t, err)
}
