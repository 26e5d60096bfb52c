// Package memory provides a mutex-guarded in-process store used for local
// development and tests when no database is configured.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/domain"
)

type recordKey struct {
	polygonID  string
	category   domain.Category
	measuredOn time.Time
}

// Store implements domain.RecordStore, domain.PolygonStore, and domain.ParcelSource.
type Store struct {
	mu       sync.RWMutex
	records  map[recordKey]domain.EnvironmentalRecord
	polygons map[string]domain.Polygon // by parcel id
	parcels  map[string]domain.Parcel
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records:  make(map[recordKey]domain.EnvironmentalRecord),
		polygons: make(map[string]domain.Polygon),
		parcels:  make(map[string]domain.Parcel),
	}
}

func (s *Store) Upsert(_ context.Context, rec domain.EnvironmentalRecord) error {
	rec.MeasuredOn = domain.MeasurementDate(rec.MeasuredOn)
	key := recordKey{polygonID: rec.PolygonID, category: rec.Category, measuredOn: rec.MeasuredOn}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.records[key]; ok && !prev.CreatedAt.IsZero() {
		rec.CreatedAt = prev.CreatedAt
	}
	s.records[key] = cloneRecord(rec)
	return nil
}

func (s *Store) Latest(_ context.Context, polygonID string, c domain.Category) (domain.EnvironmentalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest domain.EnvironmentalRecord
		found  bool
	)
	for k, rec := range s.records {
		if k.polygonID != polygonID || k.category != c {
			continue
		}
		if !found || k.measuredOn.After(latest.MeasuredOn) {
			latest = rec
			found = true
		}
	}
	if !found {
		return domain.EnvironmentalRecord{}, domain.ErrNotFound
	}
	return cloneRecord(latest), nil
}

func (s *Store) History(_ context.Context, polygonID string, c domain.Category, since time.Time) ([]domain.EnvironmentalRecord, error) {
	since = domain.MeasurementDate(since)

	s.mu.RLock()
	out := make([]domain.EnvironmentalRecord, 0)
	for k, rec := range s.records {
		if k.polygonID == polygonID && k.category == c && !k.measuredOn.Before(since) {
			out = append(out, cloneRecord(rec))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MeasuredOn.Before(out[j].MeasuredOn) })
	return out, nil
}

func (s *Store) PolygonByParcel(_ context.Context, parcelID string) (domain.Polygon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.polygons[parcelID]
	if !ok {
		return domain.Polygon{}, domain.ErrNotFound
	}
	return p, nil
}

// SavePolygon inserts a new polygon. A parcel that already has one is rejected.
func (s *Store) SavePolygon(_ context.Context, p domain.Polygon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.polygons[p.ParcelID]; ok {
		return fmt.Errorf("parcel %s already has polygon %s", p.ParcelID, existing.UpstreamID)
	}
	p.Geometry = slices.Clone(p.Geometry)
	s.polygons[p.ParcelID] = p
	return nil
}

func (s *Store) ListPolygons(_ context.Context) ([]domain.Polygon, error) {
	s.mu.RLock()
	out := make([]domain.Polygon, 0, len(s.polygons))
	for _, p := range s.polygons {
		p.Geometry = slices.Clone(p.Geometry)
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ParcelID < out[j].ParcelID })
	return out, nil
}

// UpdatePolygonDerived overwrites only the geometry-derived fields.
func (s *Store) UpdatePolygonDerived(_ context.Context, p domain.Polygon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.polygons[p.ParcelID]
	if !ok {
		return domain.ErrNotFound
	}
	existing.AreaHa = p.AreaHa
	existing.CenterLat = p.CenterLat
	existing.CenterLon = p.CenterLon
	s.polygons[p.ParcelID] = existing
	return nil
}

// PutParcel adds or replaces a parcel in the catalogue.
func (s *Store) PutParcel(p domain.Parcel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Geometry = slices.Clone(p.Geometry)
	s.parcels[p.ID] = p
}

func (s *Store) Parcel(_ context.Context, id string) (domain.Parcel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.parcels[id]
	if !ok {
		return domain.Parcel{}, domain.ErrNotFound
	}
	return p, nil
}

// ListParcels returns every parcel ordered by id.
func (s *Store) ListParcels(_ context.Context) ([]domain.Parcel, error) {
	s.mu.RLock()
	out := make([]domain.Parcel, 0, len(s.parcels))
	for _, p := range s.parcels {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneRecord(rec domain.EnvironmentalRecord) domain.EnvironmentalRecord {
	rec.Fields = maps.Clone(rec.Fields)
	rec.Raw = slices.Clone(rec.Raw)
	if rec.CloudCoverage != nil {
		cc := *rec.CloudCoverage
		rec.CloudCoverage = &cc
	}
	return rec
}
