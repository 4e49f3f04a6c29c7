package services

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/ports"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// TargetResolver geocodes target addresses into geofence regions.
//
// A failure is surfaced to the UI once per address; calling Resolve again is
// the manual retry path and clears the mark on success.
type TargetResolver struct {
	geocoder ports.Geocoder
	observer ports.SessionObserver

	mu       sync.Mutex
	reported map[string]struct{}
}

func NewTargetResolver(geocoder ports.Geocoder, observer ports.SessionObserver) *TargetResolver {
	return &TargetResolver{
		geocoder: geocoder,
		observer: observer,
		reported: make(map[string]struct{}),
	}
}

func (r *TargetResolver) Resolve(ctx context.Context, session domain.TrackingSession, address string, radiusMeters float64) (domain.GeofenceRegion, error) {
	key := strings.ToLower(strings.Join(strings.Fields(address), " "))
	if key == "" {
		return domain.GeofenceRegion{}, fmt.Errorf("resolve target: %w: empty address", domain.ErrGeocodeFailure)
	}
	if r.geocoder == nil {
		return domain.GeofenceRegion{}, fmt.Errorf("resolve target %q: %w: no geocoder configured", address, domain.ErrGeocodeFailure)
	}

	coord, err := r.geocoder.Geocode(ctx, address)
	if err == nil {
		err = coord.Validate()
	}
	if err != nil {
		if !errors.Is(err, domain.ErrGeocodeFailure) {
			err = fmt.Errorf("%w: %v", domain.ErrGeocodeFailure, err)
		}
		r.reportOnce(key, session, address)
		return domain.GeofenceRegion{}, fmt.Errorf("resolve target %q: %w", address, err)
	}

	r.mu.Lock()
	delete(r.reported, key)
	r.mu.Unlock()

	return domain.GeofenceRegion{Center: coord, RadiusMeters: radiusMeters}, nil
}

func (r *TargetResolver) reportOnce(key string, session domain.TrackingSession, address string) {
	r.mu.Lock()
	_, seen := r.reported[key]
	r.reported[key] = struct{}{}
	r.mu.Unlock()

	if seen || r.observer == nil {
		return
	}
	r.observer.Warn(session.DriverID, session.SessionID, fmt.Sprintf("Could not find a location for %q. Check the address and retry.", address))
}
