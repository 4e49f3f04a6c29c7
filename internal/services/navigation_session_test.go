package services

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"errors"
	"sync"
	"testing"
	"time"
)

type sessionFixture struct {
	session    *NavigationSession
	tracking   *fakeTracking
	directions *fakeDirections
	observer   *fakeObserver
	events     *fakeEvents
	records    *fakeRecords
	store      *fakeSessionStore
}

func newSessionFixture(t *testing.T, cfg SessionConfig) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		tracking:   &fakeTracking{},
		directions: &fakeDirections{err: errUnavailable},
		observer:   &fakeObserver{},
		events:     &fakeEvents{},
		records:    &fakeRecords{},
		store:      newFakeSessionStore(),
	}
	f.session = NewNavigationSession(
		SessionOrder{DriverID: "driver-1", OrderID: "order-1", OrderNumber: "A-100", CustomerID: "customer-1"},
		cfg,
		SessionDeps{
			Tracking:   f.tracking,
			Directions: f.directions,
			Publisher:  f.records,
			Events:     f.events,
			Observer:   f.observer,
			Store:      f.store,
		},
	)
	return f
}

// Target about 1.1 km east of the route start.
var testTarget = domain.GeofenceRegion{Center: domain.Coordinate{Lat: 0, Lon: 0.01}, RadiusMeters: 50}

func assertStatus(t *testing.T, s *NavigationSession, want domain.Status) {
	t.Helper()
	if got := s.Status(); got != want {
		t.Fatalf("status = %s, want %s", got, want)
	}
}

func TestNavigationSessionLifecycle(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	s := f.session
	ctx := context.Background()

	assertStatus(t, s, domain.StatusIdle)

	if err := s.AssignTarget(ctx, testTarget, eastRoute(), domain.PhasePickup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertStatus(t, s, domain.StatusRouting)
	if f.tracking.bgStart != 0 {
		t.Fatalf("background started during pickup")
	}

	s.Ingest(at(0, 0.001))
	assertStatus(t, s, domain.StatusRouting)

	s.Ingest(at(0.002, 0.003))
	assertStatus(t, s, domain.StatusOffRoute)

	// Directions are down: the session stays off route.
	s.Wait()
	assertStatus(t, s, domain.StatusOffRoute)
	if f.directions.callCount() != 1 {
		t.Fatalf("directions calls = %d, want 1", f.directions.callCount())
	}

	s.Ingest(at(0, 0.004))
	assertStatus(t, s, domain.StatusRouting)

	s.Ingest(at(0, 0.0098))
	assertStatus(t, s, domain.StatusArrived)

	if err := s.Complete(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Wait()
	assertStatus(t, s, domain.StatusStopped)

	if f.tracking.fgStop != 1 || f.tracking.bgStop != 1 {
		t.Fatalf("stops fg=%d bg=%d, want 1 and 1", f.tracking.fgStop, f.tracking.bgStop)
	}

	got := f.events.statuses()
	if len(got) != 2 {
		t.Fatalf("events = %v, want arrived and completed", got)
	}
	seen := map[domain.OrderStatus]bool{}
	for _, st := range got {
		seen[st] = true
	}
	if !seen[domain.OrderArrived] || !seen[domain.OrderCompleted] {
		t.Fatalf("events = %v, want arrived and completed", got)
	}

	if f.records.count() != 4 {
		t.Fatalf("published records = %d, want 4", f.records.count())
	}
}

func TestNavigationSessionStoppedIgnoresEverything(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	s := f.session
	ctx := context.Background()

	if err := s.Cancel(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertStatus(t, s, domain.StatusStopped)

	// Both sources are released even though neither was started.
	if f.tracking.fgStop != 1 || f.tracking.bgStop != 1 {
		t.Fatalf("stops fg=%d bg=%d, want 1 and 1", f.tracking.fgStop, f.tracking.bgStop)
	}

	s.Ingest(at(0, 0.001))
	if err := s.AssignTarget(ctx, testTarget, eastRoute(), domain.PhasePickup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Cancel(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertStatus(t, s, domain.StatusStopped)
	if snap := s.Snapshot(); snap.LastSample != nil {
		t.Fatalf("expected no sample after stop, got %+v", snap.LastSample)
	}
	if f.records.count() != 0 {
		t.Fatalf("published records = %d, want 0", f.records.count())
	}
	if f.tracking.fgStop != 1 {
		t.Fatalf("second cancel stopped tracking again")
	}
	if len(f.events.statuses()) != 0 {
		t.Fatalf("cancel emitted events %v", f.events.statuses())
	}
}

func TestNavigationSessionIdleRecordsSampleOnly(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	s := f.session

	s.Ingest(at(0.5, 0.5))

	assertStatus(t, s, domain.StatusIdle)
	snap := s.Snapshot()
	if snap.LastSample == nil || snap.LastSample.Coordinate.Lat != 0.5 {
		t.Fatalf("last sample = %+v, want lat 0.5", snap.LastSample)
	}
	if f.records.count() != 1 {
		t.Fatalf("published records = %d, want 1", f.records.count())
	}
	if f.directions.callCount() != 0 {
		t.Fatalf("idle session requested a route")
	}
}

func TestNavigationSessionAssignTargetOnlyFromIdle(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	ctx := context.Background()

	if err := f.session.AssignTarget(ctx, testTarget, eastRoute(), domain.PhasePickup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := f.session.AssignTarget(ctx, testTarget, eastRoute(), domain.PhasePickup)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestNavigationSessionRerouteSuccess(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	f.directions.err = nil
	f.directions.route = domain.Route{
		Polyline: []domain.Coordinate{{Lat: 0.002, Lon: 0.003}, {Lat: 0, Lon: 0.01}},
	}
	s := f.session

	if err := s.AssignTarget(context.Background(), testTarget, eastRoute(), domain.PhasePickup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Ingest(at(0.002, 0.003))
	s.Wait()

	assertStatus(t, s, domain.StatusRouting)
	if snap := s.Snapshot(); snap.DeviationMeters > 1 {
		t.Fatalf("deviation = %.1f, want ~0 on the new route", snap.DeviationMeters)
	}
	if origin := f.directions.origins[0]; origin.Lat != 0.002 || origin.Lon != 0.003 {
		t.Fatalf("reroute origin = %+v, want the off-route sample", origin)
	}
}

func TestNavigationSessionRerouteFailuresWarn(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	s := f.session

	if err := s.AssignTarget(context.Background(), testTarget, eastRoute(), domain.PhasePickup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Ingest(at(0.002, 0.003))
	s.Wait()
	if f.observer.warnCount() != 0 {
		t.Fatalf("warned after a single failure")
	}

	// The next off-route sample retries.
	s.Ingest(at(0.002, 0.004))
	s.Wait()

	assertStatus(t, s, domain.StatusOffRoute)
	if f.directions.callCount() != 2 {
		t.Fatalf("directions calls = %d, want 2", f.directions.callCount())
	}
	if f.observer.warnCount() != 1 {
		t.Fatalf("warnings = %d, want 1", f.observer.warnCount())
	}
}

func TestNavigationSessionEmptyRouteRequestsOneOnFirstSample(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	s := f.session

	if err := s.AssignTarget(context.Background(), testTarget, domain.Route{}, domain.PhasePickup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Ingest(at(0, 0))
	s.Wait()

	assertStatus(t, s, domain.StatusOffRoute)
	if f.directions.callCount() != 1 {
		t.Fatalf("directions calls = %d, want 1", f.directions.callCount())
	}
}

func TestNavigationSessionMalformedRoute(t *testing.T) {
	bad := domain.Route{Polyline: []domain.Coordinate{{Lat: 0, Lon: 0}}}

	t.Run("degrades to off route", func(t *testing.T) {
		f := newSessionFixture(t, DefaultSessionConfig())

		err := f.session.AssignTarget(context.Background(), testTarget, bad, domain.PhasePickup)
		if !errors.Is(err, domain.ErrInvalidRoute) {
			t.Fatalf("err = %v, want ErrInvalidRoute", err)
		}
		assertStatus(t, f.session, domain.StatusRouting)

		f.session.Ingest(at(0, 0))
		f.session.Wait()
		assertStatus(t, f.session, domain.StatusOffRoute)
	})

	t.Run("strict panics", func(t *testing.T) {
		cfg := DefaultSessionConfig()
		cfg.StrictRoutes = true
		f := newSessionFixture(t, cfg)

		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic on malformed route")
			}
		}()
		_ = f.session.AssignTarget(context.Background(), testTarget, bad, domain.PhasePickup)
	})
}

func TestNavigationSessionCollectedStartsBackground(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	s := f.session
	ctx := context.Background()

	if err := s.AssignTarget(ctx, testTarget, eastRoute(), domain.PhasePickup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.MarkCollected(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.MarkCollected(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Wait()

	if f.tracking.bgStart != 1 {
		t.Fatalf("background starts = %d, want 1", f.tracking.bgStart)
	}
	if got := f.events.statuses(); len(got) != 1 || got[0] != domain.OrderCollected {
		t.Fatalf("events = %v, want [collected]", got)
	}
	if snap := s.Snapshot(); snap.Phase != domain.PhaseCollected {
		t.Fatalf("phase = %s, want collected", snap.Phase)
	}
}

func TestNavigationSessionBackgroundDeniedKeepsRouting(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	f.tracking.bgErr = domain.ErrBackgroundPermissionDenied

	err := f.session.AssignTarget(context.Background(), testTarget, eastRoute(), domain.PhaseCollected)
	if !errors.Is(err, domain.ErrBackgroundPermissionDenied) {
		t.Fatalf("err = %v, want ErrBackgroundPermissionDenied", err)
	}
	assertStatus(t, f.session, domain.StatusRouting)
}

func TestNavigationSessionRetargetRearmsGeofence(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	s := f.session
	ctx := context.Background()

	if err := s.AssignTarget(ctx, testTarget, eastRoute(), domain.PhasePickup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Ingest(at(0, 0.01))
	assertStatus(t, s, domain.StatusArrived)

	dropOff := domain.GeofenceRegion{Center: domain.Coordinate{Lat: 0, Lon: 0.02}, RadiusMeters: 50}
	route := domain.Route{Polyline: []domain.Coordinate{{Lat: 0, Lon: 0.01}, {Lat: 0, Lon: 0.02}}}
	if err := s.Retarget(ctx, dropOff, route); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertStatus(t, s, domain.StatusRouting)

	s.Ingest(at(0, 0.02))
	assertStatus(t, s, domain.StatusArrived)
}

func TestNavigationSessionConcurrentSamplesKeepNewest(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	s := f.session

	if err := s.AssignTarget(context.Background(), testTarget, eastRoute(), domain.PhasePickup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	fg := domain.LocationSample{Coordinate: domain.Coordinate{Lat: 0, Lon: 0.002}, Timestamp: now, Source: domain.SourceForeground}
	bg := domain.LocationSample{Coordinate: domain.Coordinate{Lat: 0, Lon: 0.001}, Timestamp: now.Add(-5 * time.Second), Source: domain.SourceBackground}

	var wg sync.WaitGroup
	for _, sample := range []domain.LocationSample{fg, bg} {
		wg.Add(1)
		go func(sample domain.LocationSample) {
			defer wg.Done()
			s.Ingest(sample)
		}(sample)
	}
	wg.Wait()
	s.Wait()

	snap := s.Snapshot()
	if snap.LastSample == nil || !snap.LastSample.Timestamp.Equal(now) {
		t.Fatalf("last sample = %+v, want timestamp %s", snap.LastSample, now)
	}
	if f.records.count() != 2 {
		t.Fatalf("published records = %d, want 2", f.records.count())
	}
	assertStatus(t, s, domain.StatusRouting)
}

func TestNavigationSessionSetRouteClearsOffRoute(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	s := f.session

	if err := s.AssignTarget(context.Background(), testTarget, eastRoute(), domain.PhasePickup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Ingest(at(0.002, 0.003))
	s.Wait()
	assertStatus(t, s, domain.StatusOffRoute)

	err := s.SetRoute(domain.Route{Polyline: []domain.Coordinate{{Lat: 0.002, Lon: 0}, {Lat: 0.002, Lon: 0.01}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertStatus(t, s, domain.StatusRouting)
}

type fakeSnapper struct {
	mu      sync.Mutex
	batches [][]domain.Coordinate
}

func (s *fakeSnapper) Snap(ctx context.Context, coords []domain.Coordinate) ([]domain.Coordinate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, coords)

	out := make([]domain.Coordinate, len(coords))
	for i, c := range coords {
		// Far off the route, so any use of it in deviation math would show.
		out[i] = domain.Coordinate{Lat: c.Lat + 1, Lon: c.Lon}
	}
	return out, nil
}

func TestNavigationSessionSnapsDisplayOnly(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	snapper := &fakeSnapper{}
	f.session.deps.Snapper = snapper
	s := f.session
	ctx := context.Background()

	if err := s.AssignTarget(ctx, testTarget, eastRoute(), domain.PhasePickup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Ingest(at(0, 0.001))
	s.Ingest(at(0, 0.002))
	s.Wait()

	snap := s.Snapshot()
	if snap.DisplayCoordinate == nil {
		t.Fatalf("expected a snapped display coordinate")
	}
	if want := (domain.Coordinate{Lat: 1, Lon: 0.002}); *snap.DisplayCoordinate != want {
		t.Fatalf("display = %+v, want %+v", *snap.DisplayCoordinate, want)
	}
	if snap.Status != domain.StatusRouting {
		t.Fatalf("status = %s, want routing (deviation uses raw samples)", snap.Status)
	}
	if snap.LastSample.Coordinate.Lat != 0 {
		t.Fatalf("last sample = %+v, want the raw fix", snap.LastSample.Coordinate)
	}
	if len(snapper.batches) != 1 || len(snapper.batches[0]) != 2 {
		t.Fatalf("batches = %v, want one batch of 2", snapper.batches)
	}
}
