package services

import (
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/geo"
)

const DefaultAcceptRadiusMeters = 5000.0

// WithinAcceptRadius reports whether a driver is close enough to a target to
// be offered the job.
func WithinAcceptRadius(driver, target domain.Coordinate, radiusMeters float64) bool {
	if radiusMeters <= 0 {
		radiusMeters = DefaultAcceptRadiusMeters
	}
	return geo.DistanceMeters(driver, target) <= radiusMeters
}
