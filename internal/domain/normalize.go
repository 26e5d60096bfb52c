package domain

import (
	"math"
	"strings"
	"time"
)

const kelvinOffset = 273.15

// NormalizeSatellite builds a satellite record from a scene and the statistics
// fetched for its tracked indices. Indices missing from stats are omitted.
func NormalizeSatellite(polygonID string, scene SatelliteScene, stats map[string]IndexStats) EnvironmentalRecord {
	fields := make(map[string]float64, len(stats)*5+1)
	for _, index := range TrackedIndices {
		s, ok := stats[index]
		if !ok {
			continue
		}
		fields[index+"_mean"] = s.Mean
		fields[index+"_min"] = s.Min
		fields[index+"_max"] = s.Max
		fields[index+"_median"] = s.Median
		fields[index+"_std"] = s.Std
	}
	fields["data_coverage"] = scene.DC

	return newRecord(polygonID, CategorySatellite, scene.Dt, fields, recordExtras{
		imageryURL: scene.Image["truecolor"],
		cloud:      percentToFraction(scene.CL),
		source:     satelliteSource(scene.Type),
		raw:        scene.Raw,
	})
}

// NormalizeWeather builds a weather_current record. Temperatures are stored in Celsius.
func NormalizeWeather(polygonID string, w CurrentWeather) EnvironmentalRecord {
	fields := map[string]float64{
		"temperature_c":     kelvinToCelsius(w.Main.Temp),
		"feels_like_c":      kelvinToCelsius(w.Main.FeelsLike),
		"temperature_min_c": kelvinToCelsius(w.Main.TempMin),
		"temperature_max_c": kelvinToCelsius(w.Main.TempMax),
		"humidity_pct":      w.Main.Humidity,
		"pressure_hpa":      w.Main.Pressure,
		"wind_speed_ms":     w.Wind.Speed,
		"wind_deg":          w.Wind.Deg,
		"precipitation_mm":  precipitation(w.Rain) + precipitation(w.Snow),
	}

	extras := recordExtras{raw: w.Raw}
	if w.Clouds != nil {
		extras.cloud = percentToFraction(w.Clouds.All)
	}
	return newRecord(polygonID, CategoryWeatherCurrent, w.Dt, fields, extras)
}

// NormalizeSoil builds a soil record. Temperatures are stored in Celsius.
func NormalizeSoil(polygonID string, s SoilSnapshot) EnvironmentalRecord {
	fields := map[string]float64{
		"surface_temperature_c": kelvinToCelsius(s.T0),
		"temperature_10cm_c":    kelvinToCelsius(s.T10),
		"moisture":              s.Moisture,
	}
	return newRecord(polygonID, CategorySoil, s.Dt, fields, recordExtras{raw: s.Raw})
}

type recordExtras struct {
	imageryURL string
	cloud      *float64
	source     string
	raw        []byte
}

func newRecord(polygonID string, c Category, dt int64, fields map[string]float64, x recordExtras) EnvironmentalRecord {
	now := clock.Now().UTC()
	return EnvironmentalRecord{
		PolygonID:     polygonID,
		Category:      c,
		MeasuredOn:    MeasurementDate(time.Unix(dt, 0)),
		Fields:        fields,
		ImageryURL:    x.imageryURL,
		CloudCoverage: x.cloud,
		Source:        x.source,
		Raw:           x.raw,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// precipitation prefers the 1h accumulation and falls back to 3h.
func precipitation(m map[string]float64) float64 {
	if v, ok := m["1h"]; ok {
		return v
	}
	return m["3h"]
}

func kelvinToCelsius(k float64) float64 {
	return math.Round((k-kelvinOffset)*100) / 100
}

func percentToFraction(p float64) *float64 {
	f := p / 100
	return &f
}

// satelliteSource maps the upstream mission name to a short source code.
func satelliteSource(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "landsat 8", "landsat-8", "l8":
		return "l8"
	case "sentinel 2", "sentinel-2", "s2":
		return "s2"
	default:
		return strings.ToLower(t)
	}
}
