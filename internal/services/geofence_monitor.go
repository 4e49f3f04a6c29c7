package services

import (
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/geo"
)

// GeofenceMonitor reports arrival inside a single region at most once.
// Re-arming requires a new monitor for a new region.
type GeofenceMonitor struct {
	region domain.GeofenceRegion
	armed  bool
}

func NewGeofenceMonitor(region domain.GeofenceRegion) *GeofenceMonitor {
	return &GeofenceMonitor{region: region, armed: true}
}

// Check reports true for the first sample within the radius and false for
// every sample after it.
func (g *GeofenceMonitor) Check(sample domain.LocationSample) bool {
	if !g.armed {
		return false
	}

	// A NaN distance compares false both ways; only a real in-radius fix arrives.
	if !(geo.DistanceMeters(sample.Coordinate, g.region.Center) <= g.region.RadiusMeters) {
		return false
	}

	g.armed = false
	return true
}

func (g *GeofenceMonitor) Region() domain.GeofenceRegion { return g.region }

func (g *GeofenceMonitor) Armed() bool { return g.armed }
