// Package geo holds the stateless geometry used by tracking: great-circle
// distance, initial bearing and point-to-segment distance.
package geo

import (
	"delivery-navigation-service/internal/domain"
	"math"
	"time"
)

const (
	EarthRadiusMeters = 6371000.0

	// MetersPerDegree is the flat-earth scale used by DistanceToSegmentMeters.
	MetersPerDegree = 111000.0
)

// DistanceMeters returns the haversine distance between a and b.
func DistanceMeters(a, b domain.Coordinate) float64 {
	if a == b {
		return 0
	}

	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push h marginally past 1 for antipodal points.
	h = math.Min(1, math.Max(0, h))

	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// BearingDegrees returns the initial bearing from -> to in [0, 360).
// Coincident points return 0.
func BearingDegrees(from, to domain.Coordinate) float64 {
	if from == to {
		return 0
	}

	lat1 := toRad(from.Lat)
	lat2 := toRad(to.Lat)
	dLon := toRad(to.Lon - from.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	deg := math.Mod(toDeg(math.Atan2(y, x))+360, 360)
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// DistanceToSegmentMeters returns the clamped distance from p to the segment
// [start, end].
//
// This is an equirectangular approximation: degrees are treated as a flat
// plane and scaled by MetersPerDegree. It is adequate for urban segments of a
// few kilometers and degrades at high latitudes and on long segments.
// Rerouting sensitivity is tuned against it, so it is not a geodesic distance
// and should not be replaced by one. A degenerate segment falls back to the
// haversine distance to its single point.
func DistanceToSegmentMeters(p, start, end domain.Coordinate) float64 {
	if start == end {
		return DistanceMeters(p, start)
	}

	dx := end.Lon - start.Lon
	dy := end.Lat - start.Lat

	t := ((p.Lon-start.Lon)*dx + (p.Lat-start.Lat)*dy) / (dx*dx + dy*dy)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	nx := start.Lon + t*dx
	ny := start.Lat + t*dy

	return math.Hypot(p.Lon-nx, p.Lat-ny) * MetersPerDegree
}

// SpeedKmh derives a ground speed from two fixes. ok is false when the
// interval is not positive.
func SpeedKmh(from, to domain.Coordinate, elapsed time.Duration) (kmh float64, ok bool) {
	if elapsed <= 0 {
		return 0, false
	}
	return DistanceMeters(from, to) / elapsed.Seconds() * 3.6, true
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}
