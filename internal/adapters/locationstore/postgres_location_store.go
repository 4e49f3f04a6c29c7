package locationstore

import (
	"context"
	"database/sql"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/platform/obs"
	"errors"
	"fmt"
)

// PostgresLocationStore keeps one document per driver in the location_store
// table. Writes merge: a record older than the stored one is ignored.
type PostgresLocationStore struct {
	DB *sql.DB
}

func NewPostgresLocationStore(db *sql.DB) *PostgresLocationStore {
	return &PostgresLocationStore{DB: db}
}

func (s *PostgresLocationStore) Upsert(ctx context.Context, rec domain.TrackingRecord) (err error) {
	defer obs.Time(ctx, "locationstore.Upsert")(&err)

	if s.DB == nil {
		return errors.New("location store: db is nil")
	}

	q := `
	INSERT INTO location_store (
		user_id, session_id, latitude, longitude, timestamp,
		order_id, order_number, status, source, speed_kmh, bearing_deg
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (user_id) DO UPDATE
	SET session_id = EXCLUDED.session_id,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		timestamp = EXCLUDED.timestamp,
		order_id = EXCLUDED.order_id,
		order_number = EXCLUDED.order_number,
		status = EXCLUDED.status,
		source = EXCLUDED.source,
		speed_kmh = EXCLUDED.speed_kmh,
		bearing_deg = EXCLUDED.bearing_deg
	WHERE location_store.timestamp <= EXCLUDED.timestamp;
	`

	_, err = s.DB.ExecContext(ctx, q,
		rec.UserID,
		rec.SessionID,
		rec.Latitude,
		rec.Longitude,
		rec.Timestamp.UTC(),
		rec.OrderID,
		rec.OrderNumber,
		string(rec.Status),
		string(rec.Source),
		nullFloat(rec.SpeedKmh),
		nullFloat(rec.BearingDeg),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert location user_id=%s: %v", domain.ErrPublishFailure, rec.UserID, err)
	}

	return nil
}

// Get returns the stored document for a driver, or nil when none exists.
func (s *PostgresLocationStore) Get(ctx context.Context, driverID string) (_ *domain.TrackingRecord, err error) {
	defer obs.Time(ctx, "locationstore.Get")(&err)

	if s.DB == nil {
		return nil, errors.New("location store: db is nil")
	}

	q := `
	SELECT user_id, session_id, latitude, longitude, timestamp,
		order_id, order_number, status, source, speed_kmh, bearing_deg
	FROM location_store
	WHERE user_id = $1;
	`

	var rec domain.TrackingRecord
	var status, source string
	var speed, bearing sql.NullFloat64

	err = s.DB.QueryRowContext(ctx, q, driverID).Scan(
		&rec.UserID,
		&rec.SessionID,
		&rec.Latitude,
		&rec.Longitude,
		&rec.Timestamp,
		&rec.OrderID,
		&rec.OrderNumber,
		&status,
		&source,
		&speed,
		&bearing,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get location user_id=%s: %w", driverID, err)
	}

	rec.Status = domain.Status(status)
	rec.Source = domain.Source(source)
	if speed.Valid {
		rec.SpeedKmh = &speed.Float64
	}
	if bearing.Valid {
		rec.BearingDeg = &bearing.Float64
	}

	return &rec, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
