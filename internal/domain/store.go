package domain

import (
	"context"
	"sort"
	"time"
)

// RecordStore persists environmental records keyed by (polygon, category, measured date).
type RecordStore interface {
	// Upsert writes rec atomically, replacing any record with the same key.
	Upsert(ctx context.Context, rec EnvironmentalRecord) error
	// Latest returns the record with the greatest measured date, or ErrNotFound.
	Latest(ctx context.Context, polygonID string, c Category) (EnvironmentalRecord, error)
	// History returns records measured on or after since, oldest first.
	History(ctx context.Context, polygonID string, c Category, since time.Time) ([]EnvironmentalRecord, error)
}

// PolygonStore persists upstream polygon registrations.
type PolygonStore interface {
	PolygonByParcel(ctx context.Context, parcelID string) (Polygon, error)
	SavePolygon(ctx context.Context, p Polygon) error
	UpdatePolygonDerived(ctx context.Context, p Polygon) error
	// ListPolygons returns every stored polygon ordered by parcel id.
	ListPolygons(ctx context.Context) ([]Polygon, error)
}

// ParcelSource is a read-only view of the parcel catalogue.
type ParcelSource interface {
	Parcel(ctx context.Context, id string) (Parcel, error)
	ListParcels(ctx context.Context) ([]Parcel, error)
}

// KnownParcels merges the catalogue with the registered polygons: every
// catalogue parcel, plus a parcel for each polygon whose parcel the catalogue
// lacks. The result is ordered by id.
func KnownParcels(catalogue []Parcel, polygons []Polygon) []Parcel {
	out := make([]Parcel, 0, len(catalogue)+len(polygons))
	seen := make(map[string]bool, len(catalogue))
	for _, p := range catalogue {
		seen[p.ID] = true
		out = append(out, p)
	}
	for _, poly := range polygons {
		if seen[poly.ParcelID] {
			continue
		}
		seen[poly.ParcelID] = true
		out = append(out, Parcel{ID: poly.ParcelID, Name: poly.Name, Geometry: poly.Geometry})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
