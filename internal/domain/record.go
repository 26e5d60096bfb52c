package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Category is one of the independently synchronized data categories.
type Category string

const (
	CategorySatellite      Category = "satellite"
	CategoryWeatherCurrent Category = "weather_current"
	CategorySoil           Category = "soil"
)

// Categories lists every category in a stable order.
var Categories = []Category{CategorySatellite, CategoryWeatherCurrent, CategorySoil}

// ParseCategory maps a wire value onto the closed category set.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// EnvironmentalRecord is one normalized observation for a polygon.
// (PolygonID, Category, MeasuredOn) identifies it; a later write with the same key replaces it.
type EnvironmentalRecord struct {
	PolygonID     string             `json:"polygon_id"`
	Category      Category           `json:"category"`
	MeasuredOn    time.Time          `json:"measured_on"`
	Fields        map[string]float64 `json:"fields"`
	ImageryURL    string             `json:"imagery_url,omitempty"`
	CloudCoverage *float64           `json:"cloud_coverage,omitempty"`
	Source        string             `json:"source,omitempty"`
	Raw           json.RawMessage    `json:"raw,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// MeasurementDate truncates a timestamp to its UTC calendar date.
func MeasurementDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}
