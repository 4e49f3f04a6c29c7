package repositories

import (
	"context"
	"database/sql"
	"delivery-navigation-service/internal/domain"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLite-backed implementation of the SessionStore port.
//
// The background task may be woken after the process that created a session
// restarted, so the driver -> session mapping has to be durable.
type SqliteSessionStore struct{ DB *sql.DB }

func NewSqliteSessionStore(db *sql.DB) *SqliteSessionStore {
	return &SqliteSessionStore{DB: db}
}

// Save writes a snapshot of a session unless the stored row is newer.
func (s *SqliteSessionStore) Save(ctx context.Context, snap domain.TrackingSession) error {
	if s.DB == nil {
		return errors.New("sqlite session store: DB is nil")
	}
	if strings.TrimSpace(snap.SessionID) == "" || strings.TrimSpace(snap.DriverID) == "" {
		return errors.New("save session: session_id and driver_id are required")
	}

	var lat, lon sql.NullFloat64
	var ts sql.NullInt64
	if snap.LastSample != nil {
		lat = sql.NullFloat64{Float64: snap.LastSample.Coordinate.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: snap.LastSample.Coordinate.Lon, Valid: true}
		ts = sql.NullInt64{Int64: snap.LastSample.Timestamp.UnixMilli(), Valid: true}
	}

	// Snapshots are saved outside the session lock, so an older one can land
	// late. Keep the newest row, and never revive a stopped session.
	query := `
	INSERT INTO tracking_sessions (
		session_id,
		driver_id,
		order_id,
		order_number,
		status,
		phase,
		last_lat,
		last_lon,
		last_ts,
		updated_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		driver_id = excluded.driver_id,
		order_id = excluded.order_id,
		order_number = excluded.order_number,
		status = excluded.status,
		phase = excluded.phase,
		last_lat = excluded.last_lat,
		last_lon = excluded.last_lon,
		last_ts = excluded.last_ts,
		updated_at = excluded.updated_at
	WHERE excluded.updated_at >= tracking_sessions.updated_at
	  AND tracking_sessions.status != ?;
	`
	_, err := s.DB.ExecContext(ctx, query,
		snap.SessionID,
		snap.DriverID,
		snap.TargetOrderID,
		snap.OrderNumber,
		string(snap.Status),
		string(snap.Phase),
		lat,
		lon,
		ts,
		snap.UpdatedAt.UnixNano(),
		string(domain.StatusStopped),
	)
	if err != nil {
		return fmt.Errorf("save session session_id=%s: %w", snap.SessionID, err)
	}

	return nil
}

// ActiveSessionID returns the most recently updated non-stopped session of a driver.
func (s *SqliteSessionStore) ActiveSessionID(ctx context.Context, driverID string) (string, bool, error) {
	if s.DB == nil {
		return "", false, errors.New("sqlite session store: DB is nil")
	}

	query := `
	SELECT session_id
	FROM tracking_sessions
	WHERE driver_id = ?
	  AND status != ?
	ORDER BY updated_at DESC
	LIMIT 1;
	`

	var id string
	err := s.DB.QueryRowContext(ctx, query, driverID, string(domain.StatusStopped)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("active session driver_id=%s: %w", driverID, err)
	}

	return id, true, nil
}

// PurgeStopped deletes stopped sessions last updated before the cutoff.
func (s *SqliteSessionStore) PurgeStopped(ctx context.Context, before time.Time) (int64, error) {
	if s.DB == nil {
		return 0, errors.New("sqlite session store: DB is nil")
	}

	res, err := s.DB.ExecContext(ctx, `
	DELETE FROM tracking_sessions
	WHERE status = ?
	  AND updated_at < ?;
	`, string(domain.StatusStopped), before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge stopped sessions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge stopped sessions: rows affected: %w", err)
	}
	return n, nil
}
