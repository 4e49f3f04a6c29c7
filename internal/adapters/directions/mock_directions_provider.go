package directions

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"fmt"
)

// MockDirectionsProvider returns straight-line routes and geocodes from a
// fixed address book.
type MockDirectionsProvider struct {
	addresses map[string]domain.Coordinate
}

func NewMockDirectionsProvider(addresses map[string]domain.Coordinate) *MockDirectionsProvider {
	m := make(map[string]domain.Coordinate, len(addresses))
	for k, v := range addresses {
		m[normalize(k)] = v
	}
	return &MockDirectionsProvider{addresses: m}
}

func (p *MockDirectionsProvider) GetRoute(ctx context.Context, origin, destination domain.Coordinate) (domain.Route, error) {
	return domain.Route{
		Polyline: []domain.Coordinate{origin, destination},
		Maneuvers: []domain.Maneuver{
			{InstructionText: "Head to destination", Coordinate: origin},
			{InstructionText: "Arrive at destination", Coordinate: destination},
		},
	}, nil
}

func (p *MockDirectionsProvider) Geocode(ctx context.Context, address string) (domain.Coordinate, error) {
	c, ok := p.addresses[normalize(address)]
	if !ok {
		return domain.Coordinate{}, fmt.Errorf("%w: missing address %q", domain.ErrGeocodeFailure, address)
	}
	return c, nil
}
