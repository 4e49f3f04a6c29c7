package repositories

import (
	"database/sql"
	"errors"
	"fmt"
)

// Initialize the SQLite database schema: the durable session index read by
// the background task and the geocode cache.
func InitSchema(db *sql.DB) error {
	createSessionsQuery := `
	CREATE TABLE IF NOT EXISTS tracking_sessions (
		session_id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		order_number TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		phase TEXT NOT NULL,
		last_lat REAL,
		last_lon REAL,
		last_ts INTEGER,
		updated_at INTEGER NOT NULL
	);
	`

	createGeocodeCacheQuery := `
	CREATE TABLE IF NOT EXISTS geocode_cache (
		address TEXT PRIMARY KEY,
		lon REAL NOT NULL,
		lat REAL NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	createIndexQuery := `
	CREATE INDEX IF NOT EXISTS idx_tracking_sessions_driver_updated
	ON tracking_sessions(driver_id, updated_at);
	`

	return execSchema(db, []string{
		createSessionsQuery,
		createGeocodeCacheQuery,
		createIndexQuery,
	})
}

// InitPostgresSchema creates the per-driver location store and the shared
// geocode cache.
func InitPostgresSchema(db *sql.DB) error {
	createLocationStoreQuery := `
	CREATE TABLE IF NOT EXISTS location_store (
		user_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		order_id TEXT NOT NULL,
		order_number TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		source TEXT NOT NULL,
		speed_kmh DOUBLE PRECISION,
		bearing_deg DOUBLE PRECISION
	);
	`

	createGeocodeCacheQuery := `
	CREATE TABLE IF NOT EXISTS geocode_cache (
		address TEXT PRIMARY KEY,
		lon DOUBLE PRECISION NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`

	createIndexQuery := `
	CREATE INDEX IF NOT EXISTS idx_location_store_order
	ON location_store(order_id);
	`

	return execSchema(db, []string{
		createLocationStoreQuery,
		createGeocodeCacheQuery,
		createIndexQuery,
	})
}

func execSchema(db *sql.DB, statements []string) error {
	if db == nil {
		return errors.New("init schema: DB is nil")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}

	return nil
}
