package ports

import (
	"context"
	"delivery-navigation-service/internal/domain"
)

// Port: the external per-driver location document.
// Writes merge by driver; a record older than the stored one is ignored.
type LocationStore interface {
	Upsert(ctx context.Context, rec domain.TrackingRecord) error
	Get(ctx context.Context, driverID string) (*domain.TrackingRecord, error)
}
