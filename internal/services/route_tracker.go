package services

import (
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/geo"
	"math"
)

const (
	DefaultOffRouteThresholdMeters = 100.0
	DefaultManeuverTriggerMeters   = 100.0
)

// RouteTracker measures deviation from the active polyline and tracks the
// current maneuver.
//
// The maneuver index only moves forward. A driver who backtracks keeps the
// later instruction; this is a known simplification.
type RouteTracker struct {
	route                   domain.Route
	valid                   bool
	offRouteThresholdMeters float64
	maneuverTriggerMeters   float64
	currentManeuverIndex    int
}

func NewRouteTracker(offRouteThresholdMeters, maneuverTriggerMeters float64) *RouteTracker {
	if offRouteThresholdMeters <= 0 {
		offRouteThresholdMeters = DefaultOffRouteThresholdMeters
	}
	if maneuverTriggerMeters <= 0 {
		maneuverTriggerMeters = DefaultManeuverTriggerMeters
	}
	return &RouteTracker{
		offRouteThresholdMeters: offRouteThresholdMeters,
		maneuverTriggerMeters:   maneuverTriggerMeters,
	}
}

// SetRoute replaces the active route and resets the maneuver index.
// A malformed route is installed anyway and reads as infinitely far away,
// which keeps the driver off route rather than failing.
func (rt *RouteTracker) SetRoute(route domain.Route) error {
	err := route.Validate()

	rt.route = route
	rt.valid = err == nil
	rt.currentManeuverIndex = 0

	return err
}

// DeviationMeters returns the distance from the sample to the nearest
// polyline segment, or +Inf without a usable polyline.
func (rt *RouteTracker) DeviationMeters(sample domain.LocationSample) float64 {
	poly := rt.route.Polyline
	if !rt.valid || len(poly) < 2 {
		return math.Inf(1)
	}

	best := math.Inf(1)
	for i := 0; i < len(poly)-1; i++ {
		d := geo.DistanceToSegmentMeters(sample.Coordinate, poly[i], poly[i+1])
		if d < best {
			best = d
		}
	}
	return best
}

func (rt *RouteTracker) IsOffRoute(sample domain.LocationSample) bool {
	return rt.DeviationMeters(sample) > rt.offRouteThresholdMeters
}

// AdvanceManeuver moves to the nearest later maneuver when the sample is
// within the trigger distance of it. It returns whether the index changed.
func (rt *RouteTracker) AdvanceManeuver(sample domain.LocationSample) bool {
	best := -1
	bestDist := math.Inf(1)

	for i := rt.currentManeuverIndex + 1; i < len(rt.route.Maneuvers); i++ {
		d := geo.DistanceMeters(sample.Coordinate, rt.route.Maneuvers[i].Coordinate)
		// Strict comparison keeps the earliest maneuver on ties.
		if d < bestDist {
			bestDist = d
			best = i
		}
	}

	if best < 0 || bestDist >= rt.maneuverTriggerMeters {
		return false
	}

	rt.currentManeuverIndex = best
	return true
}

func (rt *RouteTracker) CurrentManeuverIndex() int { return rt.currentManeuverIndex }

// CurrentManeuver returns the active maneuver, or nil when the route has none.
func (rt *RouteTracker) CurrentManeuver() *domain.Maneuver {
	if rt.currentManeuverIndex >= len(rt.route.Maneuvers) {
		return nil
	}
	m := rt.route.Maneuvers[rt.currentManeuverIndex]
	return &m
}

func (rt *RouteTracker) Route() domain.Route { return rt.route }

func (rt *RouteTracker) OffRouteThresholdMeters() float64 { return rt.offRouteThresholdMeters }
