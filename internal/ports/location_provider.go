package ports

import (
	"context"
	"time"
)

// PermissionStatus mirrors the platform permission states.
type PermissionStatus string

const (
	PermissionGranted      PermissionStatus = "granted"
	PermissionDenied       PermissionStatus = "denied"
	PermissionUndetermined PermissionStatus = "undetermined"
)

// RawPosition is a fix as delivered by the platform. Speed is in m/s and
// Heading in degrees; either may be absent or negative when unknown.
type RawPosition struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Speed     *float64
	Heading   *float64
	Timestamp time.Time
}

// WatchOptions is the requested cadence of a subscription.
type WatchOptions struct {
	Interval              time.Duration
	MinDisplacementMeters float64
}

// Subscription is a live foreground watch. Remove is idempotent.
type Subscription interface {
	Remove()
}

// Contract for the platform location service of a single driver device.
type LocationProvider interface {
	// Return the foreground ("while in use") permission state.
	ForegroundPermission(ctx context.Context) (PermissionStatus, error)
	// Return the background ("always") permission state.
	BackgroundPermission(ctx context.Context) (PermissionStatus, error)
	// Return a single fix.
	CurrentPosition(ctx context.Context) (RawPosition, error)
	// Start a continuous foreground subscription delivering fixes to fn.
	Watch(ctx context.Context, opts WatchOptions, fn func(RawPosition)) (Subscription, error)
	// Register background updates delivered to the named task.
	StartBackgroundUpdates(ctx context.Context, taskName string, opts WatchOptions) error
	// Report whether background updates are registered for the named task.
	HasStartedBackgroundUpdates(ctx context.Context, taskName string) (bool, error)
	// Unregister background updates for the named task.
	StopBackgroundUpdates(ctx context.Context, taskName string) error
}

// BackgroundTaskData is the payload the OS scheduler hands to a background task.
type BackgroundTaskData struct {
	DriverID  string
	Positions []RawPosition
}

// Contract for delivering background fixes to the task registered under a name.
type BackgroundDispatcher interface {
	Dispatch(ctx context.Context, taskName string, data BackgroundTaskData) error
}
