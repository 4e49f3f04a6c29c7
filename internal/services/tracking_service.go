package services

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/platform/obs"
	"delivery-navigation-service/internal/ports"
	"errors"
	"fmt"
	"log"
	"strings"
)

// ProviderFactory returns the platform location provider for a driver device.
type ProviderFactory func(driverID string) ports.LocationProvider

// TrackingServiceDeps are the adapters shared by every session.
type TrackingServiceDeps struct {
	Providers  ProviderFactory
	Directions ports.DirectionsProvider
	Snapper    ports.RoadSnapper
	Geocoder   ports.Geocoder
	Publisher  recordPublisher
	Events     ports.OrderEventPublisher
	Observer   ports.SessionObserver
	Store      ports.SessionStore
}

// TrackingService creates sessions and routes UI commands to them.
// It is the composition point between HTTP handlers and NavigationSession.
type TrackingService struct {
	cfg           SessionConfig
	taskName      string
	defaultRadius float64
	deps          TrackingServiceDeps
	registry      *SessionRegistry
	resolver      *TargetResolver
}

func NewTrackingService(
	cfg SessionConfig,
	taskName string,
	defaultRadiusMeters float64,
	registry *SessionRegistry,
	deps TrackingServiceDeps,
) *TrackingService {
	if defaultRadiusMeters <= 0 {
		defaultRadiusMeters = 50
	}
	if taskName == "" {
		taskName = DefaultBackgroundTaskName
	}
	return &TrackingService{
		cfg:           cfg,
		taskName:      taskName,
		defaultRadius: defaultRadiusMeters,
		deps:          deps,
		registry:      registry,
		resolver:      NewTargetResolver(deps.Geocoder, deps.Observer),
	}
}

// StartSession creates an Idle session for a driver's order.
func (t *TrackingService) StartSession(ctx context.Context, order SessionOrder) (domain.TrackingSession, error) {
	order.DriverID = strings.TrimSpace(order.DriverID)
	order.OrderID = strings.TrimSpace(order.OrderID)
	if order.DriverID == "" || order.OrderID == "" {
		return domain.TrackingSession{}, errors.New("start session: driver_id and order_id are required")
	}
	if t.deps.Providers == nil {
		return domain.TrackingSession{}, errors.New("start session: no location provider configured")
	}

	sampler := NewLocationSampler(t.deps.Providers(order.DriverID), t.taskName)
	session := NewNavigationSession(order, t.cfg, SessionDeps{
		Tracking:   sampler,
		Directions: t.deps.Directions,
		Snapper:    t.deps.Snapper,
		Publisher:  t.deps.Publisher,
		Events:     t.deps.Events,
		Observer:   t.deps.Observer,
		Store:      t.deps.Store,
	})
	sampler.OnSample(session.Ingest)

	if err := t.registry.add(&trackedSession{session: session, sampler: sampler}); err != nil {
		return domain.TrackingSession{}, fmt.Errorf("start session: %w", err)
	}

	snap := session.Snapshot()
	if t.deps.Store != nil {
		if err := t.deps.Store.Save(ctx, snap); err != nil {
			t.registry.Remove(session.ID())
			return domain.TrackingSession{}, fmt.Errorf("start session: persist: %w", err)
		}
	}

	log.Printf("session started session_id=%s driver_id=%s order_id=%s", snap.SessionID, snap.DriverID, snap.TargetOrderID)
	return snap, nil
}

func (t *TrackingService) Session(id string) (*NavigationSession, error) {
	s, ok := t.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	return s, nil
}

// TargetRequest describes a pickup or drop-off target. Either Address or
// Coordinate must be set.
type TargetRequest struct {
	Address      string
	Coordinate   *domain.Coordinate
	RadiusMeters float64
	Phase        domain.Phase
	Origin       *domain.Coordinate
}

// SetTarget resolves the target, fetches a route and assigns or retargets
// the session. When directions are unavailable the session tracks against a
// straight line from origin to target.
func (t *TrackingService) SetTarget(ctx context.Context, id string, req TargetRequest) (_ domain.TrackingSession, err error) {
	defer obs.Time(ctx, "tracking.SetTarget")(&err)

	tracked, ok := t.registry.get(id)
	if !ok {
		return domain.TrackingSession{}, fmt.Errorf("set target: session %s: %w", id, domain.ErrSessionNotFound)
	}
	session := tracked.session
	snap := session.Snapshot()

	radius := req.RadiusMeters
	if radius <= 0 {
		radius = t.defaultRadius
	}

	var region domain.GeofenceRegion
	switch {
	case req.Coordinate != nil:
		region = domain.GeofenceRegion{Center: *req.Coordinate, RadiusMeters: radius}
	case strings.TrimSpace(req.Address) != "":
		region, err = t.resolver.Resolve(ctx, snap, req.Address, radius)
		if err != nil {
			return domain.TrackingSession{}, fmt.Errorf("set target: %w", err)
		}
	default:
		return domain.TrackingSession{}, errors.New("set target: address or coordinate is required")
	}
	if err := region.Validate(); err != nil {
		return domain.TrackingSession{}, fmt.Errorf("set target: %w", err)
	}

	origin := t.resolveOrigin(ctx, tracked, snap, req.Origin)
	route := t.initialRoute(ctx, snap, origin, region.Center)

	var opErr error
	if snap.Status == domain.StatusIdle {
		opErr = session.AssignTarget(ctx, region, route, req.Phase)
	} else {
		opErr = session.Retarget(ctx, region, route)
		if opErr == nil && req.Phase == domain.PhaseCollected {
			opErr = session.MarkCollected(ctx)
		}
	}

	return session.Snapshot(), opErr
}

func (t *TrackingService) resolveOrigin(ctx context.Context, tracked *trackedSession, snap domain.TrackingSession, explicit *domain.Coordinate) *domain.Coordinate {
	if explicit != nil {
		return explicit
	}
	if snap.LastSample != nil {
		c := snap.LastSample.Coordinate
		return &c
	}

	sample, err := tracked.sampler.CurrentPosition(ctx)
	if err != nil {
		log.Printf("session_id=%s driver_id=%s no origin for route err=%v", snap.SessionID, snap.DriverID, err)
		return nil
	}
	return &sample.Coordinate
}

// initialRoute asks the directions provider for a route and falls back to a
// straight line. Without an origin the route stays empty and the session
// requests one on the first sample.
func (t *TrackingService) initialRoute(ctx context.Context, snap domain.TrackingSession, origin *domain.Coordinate, dest domain.Coordinate) domain.Route {
	if origin == nil {
		return domain.Route{}
	}

	if t.deps.Directions != nil {
		route, err := t.deps.Directions.GetRoute(ctx, *origin, dest)
		if err == nil {
			return route
		}
		log.Printf("session_id=%s driver_id=%s directions unavailable, using straight line err=%v", snap.SessionID, snap.DriverID, err)
		if t.deps.Observer != nil {
			t.deps.Observer.Warn(snap.DriverID, snap.SessionID, "Directions are unavailable. Showing a straight line to the destination.")
		}
	}

	return domain.Route{Polyline: []domain.Coordinate{*origin, dest}}
}

func (t *TrackingService) SetRoute(id string, route domain.Route) (domain.TrackingSession, error) {
	session, err := t.Session(id)
	if err != nil {
		return domain.TrackingSession{}, err
	}
	err = session.SetRoute(route)
	return session.Snapshot(), err
}

func (t *TrackingService) StartForeground(ctx context.Context, id string) (domain.TrackingSession, error) {
	session, err := t.Session(id)
	if err != nil {
		return domain.TrackingSession{}, err
	}
	err = session.StartForeground(ctx)
	return session.Snapshot(), err
}

func (t *TrackingService) MarkCollected(ctx context.Context, id string) (domain.TrackingSession, error) {
	session, err := t.Session(id)
	if err != nil {
		return domain.TrackingSession{}, err
	}
	err = session.MarkCollected(ctx)
	return session.Snapshot(), err
}

// Complete stops the session after delivery and forgets it.
func (t *TrackingService) Complete(ctx context.Context, id string) (domain.TrackingSession, error) {
	session, err := t.Session(id)
	if err != nil {
		return domain.TrackingSession{}, err
	}
	err = session.Complete(ctx)
	t.registry.Remove(id)
	return session.Snapshot(), err
}

// Cancel stops the session without completing the order and forgets it.
func (t *TrackingService) Cancel(ctx context.Context, id string) (domain.TrackingSession, error) {
	session, err := t.Session(id)
	if err != nil {
		return domain.TrackingSession{}, err
	}
	err = session.Cancel(ctx)
	t.registry.Remove(id)
	return session.Snapshot(), err
}

// ActiveSessionFor returns the driver's active session snapshot.
func (t *TrackingService) ActiveSessionFor(driverID string) (domain.TrackingSession, bool) {
	s, ok := t.registry.ActiveForDriver(driverID)
	if !ok {
		return domain.TrackingSession{}, false
	}
	return s.Snapshot(), true
}
