package domain

import (
	"encoding/json"
	"time"
)

// Parcel is a managed land parcel as known to the external parcel catalogue.
type Parcel struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Geometry json.RawMessage `json:"geometry,omitempty"`
}

// Polygon is the upstream registration of a parcel's boundary.
// A parcel has at most one polygon and its UpstreamID never changes once assigned.
type Polygon struct {
	ParcelID   string          `json:"parcel_id"`
	UpstreamID string          `json:"upstream_id"`
	Name       string          `json:"name"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
	AreaHa     float64         `json:"area_ha"`
	CenterLat  float64         `json:"center_lat"`
	CenterLon  float64         `json:"center_lon"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NeedsBackfill reports whether the geometry-derived fields are still unset.
func (p Polygon) NeedsBackfill() bool {
	return p.AreaHa == 0 || (p.CenterLat == 0 && p.CenterLon == 0)
}

// ResolvedEndpoint is the upstream base URL chosen by endpoint discovery.
type ResolvedEndpoint struct {
	BaseURL    string    `json:"base_url"`
	ResolvedAt time.Time `json:"resolved_at"`
}
