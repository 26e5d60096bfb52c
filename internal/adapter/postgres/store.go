// Package postgres persists polygons and environmental records with gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Store implements domain.RecordStore, domain.PolygonStore, and domain.ParcelSource on Postgres.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	lg := gormlogger.New(
		slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: lg})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("connected to database")
	return &Store{db: db, logger: logger}, nil
}

// Migrate creates or updates the tables this service owns plus the parcel catalogue.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&parcelRow{}, &polygonRow{}, &recordRow{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Upsert writes rec with a single INSERT ... ON CONFLICT DO UPDATE on
// (polygon_id, category, measured_on). created_at and id of an existing row are kept.
func (s *Store) Upsert(ctx context.Context, rec domain.EnvironmentalRecord) error {
	row, err := toRecordRow(rec)
	if err != nil {
		return &domain.StorageError{Op: "upsert record", Err: err}
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "polygon_id"},
			{Name: "category"},
			{Name: "measured_on"},
		},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(&row).Error
	if err != nil {
		return &domain.StorageError{Op: "upsert record", Err: err}
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, polygonID string, c domain.Category) (domain.EnvironmentalRecord, error) {
	var row recordRow
	err := s.db.WithContext(ctx).
		Where("polygon_id = ? AND category = ?", polygonID, string(c)).
		Order("measured_on DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.EnvironmentalRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.EnvironmentalRecord{}, fmt.Errorf("query latest %s for %s: %w", c, polygonID, err)
	}
	return row.toDomain()
}

func (s *Store) History(ctx context.Context, polygonID string, c domain.Category, since time.Time) ([]domain.EnvironmentalRecord, error) {
	var rows []recordRow
	err := s.db.WithContext(ctx).
		Where("polygon_id = ? AND category = ? AND measured_on >= ?", polygonID, string(c), domain.MeasurementDate(since)).
		Order("measured_on ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query history %s for %s: %w", c, polygonID, err)
	}

	out := make([]domain.EnvironmentalRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) PolygonByParcel(ctx context.Context, parcelID string) (domain.Polygon, error) {
	var row polygonRow
	err := s.db.WithContext(ctx).Where("parcel_id = ?", parcelID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Polygon{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Polygon{}, fmt.Errorf("query polygon for %s: %w", parcelID, err)
	}
	return row.toDomain(), nil
}

// SavePolygon inserts p. The parcel_id primary key rejects a second polygon for the same parcel.
func (s *Store) SavePolygon(ctx context.Context, p domain.Polygon) error {
	row := toPolygonRow(p)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return &domain.StorageError{Op: "insert polygon", Err: err}
	}
	return nil
}

func (s *Store) UpdatePolygonDerived(ctx context.Context, p domain.Polygon) error {
	res := s.db.WithContext(ctx).
		Model(&polygonRow{}).
		Where("parcel_id = ?", p.ParcelID).
		Updates(map[string]any{
			"area_ha":    p.AreaHa,
			"center_lat": p.CenterLat,
			"center_lon": p.CenterLon,
		})
	if res.Error != nil {
		return &domain.StorageError{Op: "update polygon", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListPolygons(ctx context.Context) ([]domain.Polygon, error) {
	var rows []polygonRow
	if err := s.db.WithContext(ctx).Order("parcel_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list polygons: %w", err)
	}
	out := make([]domain.Polygon, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (s *Store) Parcel(ctx context.Context, id string) (domain.Parcel, error) {
	var row parcelRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Parcel{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Parcel{}, fmt.Errorf("query parcel %s: %w", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListParcels(ctx context.Context) ([]domain.Parcel, error) {
	var rows []parcelRow
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list parcels: %w", err)
	}
	out := make([]domain.Parcel, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// putParcel is used by integration tests to seed the catalogue.
func (s *Store) putParcel(ctx context.Context, p domain.Parcel) error {
	row := parcelRow{ID: p.ID, Name: p.Name, Geometry: jsonText(p.Geometry)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}
