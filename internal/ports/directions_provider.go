package ports

import (
	"context"
	"delivery-navigation-service/internal/domain"
)

// Contract for the external turn-by-turn directions service.
type DirectionsProvider interface {
	// Return the polyline and maneuvers from origin to destination.
	GetRoute(ctx context.Context, origin, destination domain.Coordinate) (domain.Route, error)
}

// Contract for resolving a free-form address into a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (domain.Coordinate, error)
}

// Optional contract for snapping a short batch of fixes onto the road network.
type RoadSnapper interface {
	Snap(ctx context.Context, coords []domain.Coordinate) ([]domain.Coordinate, error)
}
