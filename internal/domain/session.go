package domain

import "time"

// Status is the tracking lifecycle of a single order.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRouting  Status = "routing"
	StatusOffRoute Status = "off_route"
	StatusArrived  Status = "arrived"
	StatusStopped  Status = "stopped"
)

// Active reports whether a session in this status blocks the driver from
// starting another one.
func (s Status) Active() bool { return s != StatusStopped }

// Phase distinguishes the pickup leg from the collected (drop-off) leg.
type Phase string

const (
	PhasePickup    Phase = "pickup"
	PhaseCollected Phase = "collected"
)

// TrackingSession is the read-only view of a navigation session.
// Only NavigationSession mutates the underlying state.
type TrackingSession struct {
	SessionID            string
	DriverID             string
	TargetOrderID        string
	OrderNumber          string
	CustomerID           string
	Status               Status
	Phase                Phase
	LastSample           *LocationSample
	CurrentManeuverIndex int
	CurrentManeuver      *Maneuver
	DeviationMeters      float64
	DisplayCoordinate    *Coordinate
	Target               *GeofenceRegion
	UpdatedAt            time.Time
}
