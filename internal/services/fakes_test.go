package services

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/ports"
	"errors"
	"sync"
)

type fakeSubscription struct {
	p *fakeProvider
}

func (s fakeSubscription) Remove() {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.removed++
}

// fakeProvider is an in-memory platform location service.
type fakeProvider struct {
	mu sync.Mutex

	fg, bg  ports.PermissionStatus
	current ports.RawPosition

	watchFn      func(ports.RawPosition)
	watchCalls   int
	removed      int
	bgStarted    map[string]bool
	startBgCalls int
	stopBgCalls  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		fg:        ports.PermissionGranted,
		bg:        ports.PermissionGranted,
		bgStarted: make(map[string]bool),
	}
}

func (p *fakeProvider) ForegroundPermission(ctx context.Context) (ports.PermissionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fg, nil
}

func (p *fakeProvider) BackgroundPermission(ctx context.Context) (ports.PermissionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bg, nil
}

func (p *fakeProvider) CurrentPosition(ctx context.Context) (ports.RawPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

func (p *fakeProvider) Watch(ctx context.Context, opts ports.WatchOptions, fn func(ports.RawPosition)) (ports.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchCalls++
	p.watchFn = fn
	return fakeSubscription{p: p}, nil
}

func (p *fakeProvider) StartBackgroundUpdates(ctx context.Context, taskName string, opts ports.WatchOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startBgCalls++
	p.bgStarted[taskName] = true
	return nil
}

func (p *fakeProvider) HasStartedBackgroundUpdates(ctx context.Context, taskName string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bgStarted[taskName], nil
}

func (p *fakeProvider) StopBackgroundUpdates(ctx context.Context, taskName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopBgCalls++
	delete(p.bgStarted, taskName)
	return nil
}

// emit delivers a foreground fix through the active watch.
func (p *fakeProvider) emit(raw ports.RawPosition) {
	p.mu.Lock()
	fn := p.watchFn
	p.mu.Unlock()
	if fn != nil {
		fn(raw)
	}
}

// fakeTracking records the calls a session makes on its sampler.
type fakeTracking struct {
	mu      sync.Mutex
	fgStart int
	bgStart int
	fgStop  int
	bgStop  int
	bgErr   error
}

func (f *fakeTracking) StartForeground(ctx context.Context, opts ports.WatchOptions) (*TrackingHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fgStart++
	return newTrackingHandle(func() {}), nil
}

func (f *fakeTracking) StartBackground(ctx context.Context, opts ports.WatchOptions) (*TrackingHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bgErr != nil {
		return nil, f.bgErr
	}
	f.bgStart++
	return newTrackingHandle(func() {}), nil
}

func (f *fakeTracking) StopForeground() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fgStop++
}

func (f *fakeTracking) StopBackground(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bgStop++
	return nil
}

type fakeDirections struct {
	mu      sync.Mutex
	route   domain.Route
	err     error
	calls   int
	origins []domain.Coordinate
}

func (d *fakeDirections) GetRoute(ctx context.Context, origin, destination domain.Coordinate) (domain.Route, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.origins = append(d.origins, origin)
	if d.err != nil {
		return domain.Route{}, d.err
	}
	return d.route, nil
}

func (d *fakeDirections) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeGeocoder struct {
	coord domain.Coordinate
	err   error
	calls int
}

func (g *fakeGeocoder) Geocode(ctx context.Context, address string) (domain.Coordinate, error) {
	g.calls++
	if g.err != nil {
		return domain.Coordinate{}, g.err
	}
	return g.coord, nil
}

type fakeObserver struct {
	mu       sync.Mutex
	updates  []domain.TrackingSession
	warnings []string
}

func (o *fakeObserver) SessionUpdated(s domain.TrackingSession) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates = append(o.updates, s)
}

func (o *fakeObserver) Warn(driverID string, sessionID string, msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.warnings = append(o.warnings, msg)
}

func (o *fakeObserver) warnCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.warnings)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.OrderStatusEvent
}

func (e *fakeEvents) PublishOrderStatus(ctx context.Context, evt domain.OrderStatusEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
	return nil
}

func (e *fakeEvents) statuses() []domain.OrderStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.OrderStatus, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Status)
	}
	return out
}

type fakeRecords struct {
	mu      sync.Mutex
	records []domain.TrackingRecord
}

func (r *fakeRecords) Enqueue(rec domain.TrackingRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *fakeRecords) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// fakeSessionStore indexes the latest active session per driver.
type fakeSessionStore struct {
	mu       sync.Mutex
	byDriver map[string]domain.TrackingSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{byDriver: make(map[string]domain.TrackingSession)}
}

func (s *fakeSessionStore) Save(ctx context.Context, snap domain.TrackingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDriver[snap.DriverID] = snap
	return nil
}

func (s *fakeSessionStore) ActiveSessionID(ctx context.Context, driverID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.byDriver[driverID]
	if !ok || !snap.Status.Active() {
		return "", false, nil
	}
	return snap.SessionID, true, nil
}

type fakeLocationStore struct {
	mu      sync.Mutex
	err     error
	records []domain.TrackingRecord
}

func (s *fakeLocationStore) Upsert(ctx context.Context, rec domain.TrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeLocationStore) Get(ctx context.Context, driverID string) (*domain.TrackingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].UserID == driverID {
			rec := s.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

var errUnavailable = errors.New("upstream unavailable")
