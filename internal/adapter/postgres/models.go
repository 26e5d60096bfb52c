package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/domain"
	"github.com/google/uuid"
)

type parcelRow struct {
	ID       string  `gorm:"primaryKey;column:id"`
	Name     string  `gorm:"column:name"`
	Geometry *string `gorm:"type:jsonb;column:geometry"`
}

func (parcelRow) TableName() string { return "parcels" }

type polygonRow struct {
	ParcelID   string    `gorm:"primaryKey;column:parcel_id"`
	UpstreamID string    `gorm:"not null;uniqueIndex;column:upstream_id"`
	Name       string    `gorm:"column:name"`
	Geometry   *string   `gorm:"type:jsonb;column:geometry"`
	AreaHa     float64   `gorm:"column:area_ha"`
	CenterLat  float64   `gorm:"column:center_lat"`
	CenterLon  float64   `gorm:"column:center_lon"`
	CreatedAt  time.Time `gorm:"not null;column:created_at"`
}

func (polygonRow) TableName() string { return "polygons" }

type recordRow struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;column:id"`
	PolygonID     string    `gorm:"not null;uniqueIndex:idx_environmental_records_key,priority:1;column:polygon_id"`
	Category      string    `gorm:"not null;uniqueIndex:idx_environmental_records_key,priority:2;column:category"`
	MeasuredOn    time.Time `gorm:"type:date;not null;uniqueIndex:idx_environmental_records_key,priority:3;column:measured_on"`
	Fields        string    `gorm:"type:jsonb;not null;column:fields"`
	ImageryURL    string    `gorm:"column:imagery_url"`
	CloudCoverage *float64  `gorm:"column:cloud_coverage"`
	Source        string    `gorm:"column:source"`
	Raw           *string   `gorm:"type:jsonb;column:raw"`
	CreatedAt     time.Time `gorm:"not null;column:created_at"`
	UpdatedAt     time.Time `gorm:"not null;column:updated_at"`
}

func (recordRow) TableName() string { return "environmental_records" }

// upsertColumns are overwritten when a record with the same key already exists.
var upsertColumns = []string{"fields", "imagery_url", "cloud_coverage", "source", "raw", "updated_at"}

func toRecordRow(rec domain.EnvironmentalRecord) (recordRow, error) {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return recordRow{}, fmt.Errorf("encode fields: %w", err)
	}
	return recordRow{
		ID:            uuid.New(),
		PolygonID:     rec.PolygonID,
		Category:      string(rec.Category),
		MeasuredOn:    domain.MeasurementDate(rec.MeasuredOn),
		Fields:        string(fields),
		ImageryURL:    rec.ImageryURL,
		CloudCoverage: rec.CloudCoverage,
		Source:        rec.Source,
		Raw:           jsonText(rec.Raw),
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}, nil
}

func (r recordRow) toDomain() (domain.EnvironmentalRecord, error) {
	fields := map[string]float64{}
	if err := json.Unmarshal([]byte(r.Fields), &fields); err != nil {
		return domain.EnvironmentalRecord{}, fmt.Errorf("decode fields of %s: %w", r.ID, err)
	}
	return domain.EnvironmentalRecord{
		PolygonID:     r.PolygonID,
		Category:      domain.Category(r.Category),
		MeasuredOn:    domain.MeasurementDate(r.MeasuredOn),
		Fields:        fields,
		ImageryURL:    r.ImageryURL,
		CloudCoverage: r.CloudCoverage,
		Source:        r.Source,
		Raw:           rawJSON(r.Raw),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}, nil
}

func toPolygonRow(p domain.Polygon) polygonRow {
	return polygonRow{
		ParcelID:   p.ParcelID,
		UpstreamID: p.UpstreamID,
		Name:       p.Name,
		Geometry:   jsonText(p.Geometry),
		AreaHa:     p.AreaHa,
		CenterLat:  p.CenterLat,
		CenterLon:  p.CenterLon,
		CreatedAt:  p.CreatedAt,
	}
}

func (r polygonRow) toDomain() domain.Polygon {
	return domain.Polygon{
		ParcelID:   r.ParcelID,
		UpstreamID: r.UpstreamID,
		Name:       r.Name,
		Geometry:   rawJSON(r.Geometry),
		AreaHa:     r.AreaHa,
		CenterLat:  r.CenterLat,
		CenterLon:  r.CenterLon,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func (r parcelRow) toDomain() domain.Parcel {
	return domain.Parcel{ID: r.ID, Name: r.Name, Geometry: rawJSON(r.Geometry)}
}

func jsonText(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	s := string(b)
	return &s
}

func rawJSON(s *string) json.RawMessage {
	if s == nil {
		return nil
	}
	return json.RawMessage(*s)
}
