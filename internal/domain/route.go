package domain

import (
	"fmt"
)

// GeofenceRegion is the circular arrival area around a delivery or pickup target.
type GeofenceRegion struct {
	Center       Coordinate
	RadiusMeters float64
}

func (g GeofenceRegion) Validate() error {
	if err := g.Center.Validate(); err != nil {
		return fmt.Errorf("geofence center: %w", err)
	}
	if g.RadiusMeters <= 0 {
		return fmt.Errorf("geofence radius must be positive, got %.2f", g.RadiusMeters)
	}
	return nil
}

// Maneuver is a single turn-by-turn instruction produced by the directions provider.
type Maneuver struct {
	InstructionText string     `json:"instruction"`
	DistanceText    string     `json:"distance"`
	Coordinate      Coordinate `json:"coordinate"`
}

// Route is the active polyline and its maneuvers. A Route is replaced
// wholesale on reroute and never edited in place.
type Route struct {
	Polyline  []Coordinate
	Maneuvers []Maneuver
}

// Validate rejects routes whose polyline cannot support deviation math.
func (r Route) Validate() error {
	if len(r.Polyline) < 2 {
		return fmt.Errorf("%w: polyline has %d points, need at least 2", ErrInvalidRoute, len(r.Polyline))
	}
	for i, c := range r.Polyline {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: polyline point %d: %v", ErrInvalidRoute, i, err)
		}
	}
	for i, m := range r.Maneuvers {
		if err := m.Coordinate.Validate(); err != nil {
			return fmt.Errorf("%w: maneuver %d: %v", ErrInvalidRoute, i, err)
		}
	}
	return nil
}
