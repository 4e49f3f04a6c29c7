package ports

import (
	"context"
	"delivery-navigation-service/internal/domain"
)

// Port: durable session index consulted by the background task, which may
// run after the process that created the session has gone away.
type SessionStore interface {
	Save(ctx context.Context, s domain.TrackingSession) error
	ActiveSessionID(ctx context.Context, driverID string) (string, bool, error)
}

// Port: UI collaborator, a read-only consumer of session state.
type SessionObserver interface {
	SessionUpdated(s domain.TrackingSession)
	Warn(driverID string, sessionID string, msg string)
}
