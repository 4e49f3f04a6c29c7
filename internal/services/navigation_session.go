package services

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/ports"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

const snapBatchSize = 5

// SessionConfig tunes a NavigationSession.
type SessionConfig struct {
	OffRouteThresholdMeters float64
	ManeuverTriggerMeters   float64
	// Consecutive reroute failures before the UI gets a soft warning.
	RerouteWarnAfter int
	RerouteTimeout   time.Duration
	// Keep the newest sample by timestamp rather than by delivery order.
	MergeByTimestamp bool
	// Panic on malformed routes instead of degrading to permanently off route.
	StrictRoutes bool
	Foreground   ports.WatchOptions
	Background   ports.WatchOptions
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		OffRouteThresholdMeters: DefaultOffRouteThresholdMeters,
		ManeuverTriggerMeters:   DefaultManeuverTriggerMeters,
		RerouteWarnAfter:        2,
		RerouteTimeout:          15 * time.Second,
		MergeByTimestamp:        true,
		Foreground:              ports.WatchOptions{Interval: 5 * time.Second, MinDisplacementMeters: 10},
		Background:              ports.WatchOptions{Interval: 30 * time.Second, MinDisplacementMeters: 50},
	}
}

// trackingControl is the part of LocationSampler the session drives.
type trackingControl interface {
	StartForeground(ctx context.Context, opts ports.WatchOptions) (*TrackingHandle, error)
	StartBackground(ctx context.Context, opts ports.WatchOptions) (*TrackingHandle, error)
	StopForeground()
	StopBackground(ctx context.Context) error
}

// recordPublisher accepts location records without blocking the caller.
type recordPublisher interface {
	Enqueue(rec domain.TrackingRecord)
}

// SessionDeps are the collaborators of a NavigationSession. Everything except
// Tracking may be nil.
type SessionDeps struct {
	Tracking   trackingControl
	Directions ports.DirectionsProvider
	Snapper    ports.RoadSnapper
	Publisher  recordPublisher
	Events     ports.OrderEventPublisher
	Observer   ports.SessionObserver
	Store      ports.SessionStore
	Now        func() time.Time
}

// SessionOrder identifies the order a session tracks.
type SessionOrder struct {
	DriverID    string
	OrderID     string
	OrderNumber string
	CustomerID  string
}

// NavigationSession owns the tracking status of one order.
//
// All mutation happens under mu inside the exported methods. Foreground and
// background samples may arrive concurrently; Ingest serializes them.
// Outbound calls (reroute, snapping, events, publishing) run outside the lock.
type NavigationSession struct {
	cfg  SessionConfig
	deps SessionDeps

	id    string
	order SessionOrder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	status     domain.Status
	phase      domain.Phase
	lastSample *domain.LocationSample
	tracker    *RouteTracker
	monitor    *GeofenceMonitor
	deviation  float64
	display    *domain.Coordinate
	updatedAt  time.Time

	// routeGen increments on every installed route so late reroute
	// responses for a superseded route are dropped.
	routeGen        int
	rerouteInFlight bool
	rerouteNeeded   bool
	rerouteFailures int

	recent       []domain.Coordinate
	snapInFlight bool
}

func NewNavigationSession(order SessionOrder, cfg SessionConfig, deps SessionDeps) *NavigationSession {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.RerouteTimeout <= 0 {
		cfg.RerouteTimeout = DefaultSessionConfig().RerouteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &NavigationSession{
		cfg:       cfg,
		deps:      deps,
		id:        uuid.NewString(),
		order:     order,
		ctx:       ctx,
		cancel:    cancel,
		status:    domain.StatusIdle,
		phase:     domain.PhasePickup,
		tracker:   NewRouteTracker(cfg.OffRouteThresholdMeters, cfg.ManeuverTriggerMeters),
		deviation: math.Inf(1),
		updatedAt: deps.Now(),
	}
}

func (s *NavigationSession) ID() string { return s.id }

func (s *NavigationSession) DriverID() string { return s.order.DriverID }

func (s *NavigationSession) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns a copy of the session for read-only consumers.
func (s *NavigationSession) Snapshot() domain.TrackingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Wait blocks until outstanding reroute, snapping and event goroutines finish.
func (s *NavigationSession) Wait() { s.wg.Wait() }

// StartForeground begins foreground sampling. It may run before a target is
// assigned.
func (s *NavigationSession) StartForeground(ctx context.Context) error {
	if s.Status() == domain.StatusStopped {
		return nil
	}
	if _, err := s.deps.Tracking.StartForeground(ctx, s.cfg.Foreground); err != nil {
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	return nil
}

// AssignTarget moves Idle -> Routing. Background tracking starts only for the
// collected phase; a background permission error is returned but the
// transition stands. An empty route is allowed and is requested on the first
// sample.
func (s *NavigationSession) AssignTarget(ctx context.Context, region domain.GeofenceRegion, route domain.Route, phase domain.Phase) error {
	if err := region.Validate(); err != nil {
		return fmt.Errorf("assign target: %w", err)
	}

	s.mu.Lock()
	switch s.status {
	case domain.StatusStopped:
		s.mu.Unlock()
		return nil
	case domain.StatusIdle:
	default:
		st := s.status
		s.mu.Unlock()
		return fmt.Errorf("assign target from %s: %w", st, domain.ErrInvalidTransition)
	}

	s.monitor = NewGeofenceMonitor(region)
	routeErr := s.installRouteLocked(route)
	if phase == "" {
		phase = domain.PhasePickup
	}
	s.phase = phase
	s.setStatusLocked(domain.StatusRouting)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.afterTransition(snap)

	var bgErr error
	if phase == domain.PhaseCollected {
		bgErr = s.enterCollected(ctx)
	}
	return errors.Join(routeErr, bgErr)
}

// Retarget replaces the target region and route, for example when the order
// moves from pickup to drop-off. The new geofence is armed.
func (s *NavigationSession) Retarget(ctx context.Context, region domain.GeofenceRegion, route domain.Route) error {
	if err := region.Validate(); err != nil {
		return fmt.Errorf("retarget: %w", err)
	}

	s.mu.Lock()
	switch s.status {
	case domain.StatusStopped:
		s.mu.Unlock()
		return nil
	case domain.StatusIdle:
		s.mu.Unlock()
		return fmt.Errorf("retarget from idle: %w", domain.ErrInvalidTransition)
	}

	s.monitor = NewGeofenceMonitor(region)
	routeErr := s.installRouteLocked(route)
	s.rerouteNeeded = false
	s.rerouteFailures = 0
	s.setStatusLocked(domain.StatusRouting)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.afterTransition(snap)
	return routeErr
}

// MarkCollected records pickup and starts background tracking.
func (s *NavigationSession) MarkCollected(ctx context.Context) error {
	s.mu.Lock()
	if s.status == domain.StatusStopped || s.phase == domain.PhaseCollected {
		s.mu.Unlock()
		return nil
	}
	if s.status == domain.StatusIdle {
		s.mu.Unlock()
		return fmt.Errorf("mark collected from idle: %w", domain.ErrInvalidTransition)
	}
	s.phase = domain.PhaseCollected
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.afterTransition(snap)
	return s.enterCollected(ctx)
}

func (s *NavigationSession) enterCollected(ctx context.Context) error {
	s.emitOrderStatus(domain.OrderCollected)

	if _, err := s.deps.Tracking.StartBackground(ctx, s.cfg.Background); err != nil {
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	return nil
}

// SetRoute installs a route supplied by the directions provider or the
// caller. An off-route session returns to Routing when the latest sample is
// on the new route.
func (s *NavigationSession) SetRoute(route domain.Route) error {
	s.mu.Lock()
	if s.status == domain.StatusStopped {
		s.mu.Unlock()
		return nil
	}

	prev := s.status
	err := s.installRouteLocked(route)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if snap.Status != prev {
		s.afterTransition(snap)
	} else {
		s.notify(snap)
	}
	return err
}

// installRouteLocked swaps the route and re-evaluates an off-route session
// against it.
func (s *NavigationSession) installRouteLocked(route domain.Route) error {
	err := s.tracker.SetRoute(route)
	s.routeGen++

	if err != nil && len(route.Polyline) > 0 {
		if s.cfg.StrictRoutes {
			panic(fmt.Sprintf("session %s: malformed route: %v", s.id, err))
		}
		log.Printf("session_id=%s driver_id=%s malformed route installed err=%v", s.id, s.order.DriverID, err)
	}
	if err != nil && len(route.Polyline) == 0 {
		// An absent route is not malformed; the next sample requests one.
		err = nil
	}

	if s.lastSample != nil {
		s.deviation = s.tracker.DeviationMeters(*s.lastSample)
	} else {
		s.deviation = math.Inf(1)
	}

	if s.status == domain.StatusOffRoute {
		if s.lastSample != nil && s.deviation <= s.tracker.OffRouteThresholdMeters() {
			s.setStatusLocked(domain.StatusRouting)
			s.rerouteNeeded = false
		} else {
			s.rerouteNeeded = true
		}
	}

	if err != nil {
		return fmt.Errorf("set route: %w", err)
	}
	return nil
}

// Ingest is the single entry point for samples from both sources.
func (s *NavigationSession) Ingest(sample domain.LocationSample) {
	s.mu.Lock()
	if s.status == domain.StatusStopped {
		s.mu.Unlock()
		return
	}

	prev := s.status
	s.acceptLocked(sample)

	var arrived, reroute bool
	if s.status != domain.StatusIdle {
		s.tracker.AdvanceManeuver(sample)
		s.deviation = s.tracker.DeviationMeters(sample)
		off := s.deviation > s.tracker.OffRouteThresholdMeters()
		arrived = s.monitor != nil && s.monitor.Check(sample)

		switch {
		case arrived && (s.status == domain.StatusRouting || s.status == domain.StatusOffRoute):
			s.setStatusLocked(domain.StatusArrived)
			s.rerouteNeeded = false
		case s.status == domain.StatusRouting && off:
			s.setStatusLocked(domain.StatusOffRoute)
			s.rerouteNeeded = true
		case s.status == domain.StatusOffRoute && !off:
			s.setStatusLocked(domain.StatusRouting)
			s.rerouteNeeded = false
		}

		if s.status == domain.StatusOffRoute && s.rerouteNeeded && !s.rerouteInFlight {
			reroute = s.beginRerouteLocked()
		}
	}

	rec := s.recordLocked(sample)
	snap := s.snapshotLocked()
	snapBatch := s.collectSnapBatchLocked(sample.Coordinate)
	s.mu.Unlock()

	if s.deps.Publisher != nil {
		s.deps.Publisher.Enqueue(rec)
	}
	if snap.Status != prev {
		s.afterTransition(snap)
	} else {
		s.notify(snap)
	}
	if arrived && snap.Status == domain.StatusArrived {
		s.emitOrderStatus(domain.OrderArrived)
	}
	if reroute {
		log.Printf("session_id=%s driver_id=%s reroute requested deviation_m=%.1f", s.id, s.order.DriverID, snap.DeviationMeters)
	}
	if len(snapBatch) > 0 {
		s.snap(snapBatch)
	}
}

// acceptLocked updates lastSample. With timestamp merge a sample older than
// the current one is still processed but does not replace it.
func (s *NavigationSession) acceptLocked(sample domain.LocationSample) {
	if s.cfg.MergeByTimestamp && s.lastSample != nil && sample.Timestamp.Before(s.lastSample.Timestamp) {
		return
	}
	cp := sample
	s.lastSample = &cp
	s.updatedAt = s.deps.Now()
}

// beginRerouteLocked starts a fire-and-forget directions request from the
// latest sample to the target. It reports whether a request was started.
func (s *NavigationSession) beginRerouteLocked() bool {
	if s.deps.Directions == nil || s.lastSample == nil || s.monitor == nil {
		return false
	}

	s.rerouteInFlight = true
	s.rerouteNeeded = false
	gen := s.routeGen
	origin := s.lastSample.Coordinate
	dest := s.monitor.Region().Center

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RerouteTimeout)
		defer cancel()

		route, err := s.deps.Directions.GetRoute(ctx, origin, dest)
		s.finishReroute(gen, route, err)
	}()
	return true
}

func (s *NavigationSession) finishReroute(gen int, route domain.Route, err error) {
	s.mu.Lock()
	s.rerouteInFlight = false

	if s.status == domain.StatusStopped {
		s.mu.Unlock()
		return
	}

	if err != nil {
		s.rerouteFailures++
		// Retry on the next off-route sample, not on a timer.
		if s.status == domain.StatusOffRoute {
			s.rerouteNeeded = true
		}
		failures := s.rerouteFailures
		s.mu.Unlock()

		log.Printf("session_id=%s driver_id=%s reroute failed attempt=%d err=%v", s.id, s.order.DriverID, failures, err)
		if s.deps.Observer != nil && s.cfg.RerouteWarnAfter > 0 && failures >= s.cfg.RerouteWarnAfter {
			s.deps.Observer.Warn(s.order.DriverID, s.id, "Unable to reach the directions service. Navigation continues on the last known route.")
		}
		return
	}

	s.rerouteFailures = 0
	if gen != s.routeGen {
		s.mu.Unlock()
		return
	}

	prev := s.status
	routeErr := s.installRouteLocked(route)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if routeErr != nil {
		log.Printf("session_id=%s driver_id=%s reroute returned malformed route err=%v", s.id, s.order.DriverID, routeErr)
	}
	if snap.Status != prev {
		s.afterTransition(snap)
	} else {
		s.notify(snap)
	}
}

// Complete stops tracking after a successful delivery.
func (s *NavigationSession) Complete(ctx context.Context) error {
	return s.stop(ctx, true)
}

// Cancel stops tracking without completing the order.
func (s *NavigationSession) Cancel(ctx context.Context) error {
	return s.stop(ctx, false)
}

// stop moves any status to Stopped and releases both tracking sources even
// if they were never started.
func (s *NavigationSession) stop(ctx context.Context, completed bool) error {
	s.mu.Lock()
	if s.status == domain.StatusStopped {
		s.mu.Unlock()
		return nil
	}
	s.setStatusLocked(domain.StatusStopped)
	s.recent = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.cancel()

	s.deps.Tracking.StopForeground()
	bgErr := s.deps.Tracking.StopBackground(ctx)
	if bgErr != nil {
		log.Printf("session_id=%s driver_id=%s stop background failed err=%v", s.id, s.order.DriverID, bgErr)
	}

	if completed {
		s.emitOrderStatus(domain.OrderCompleted)
	}
	s.afterTransition(snap)

	return bgErr
}

func (s *NavigationSession) setStatusLocked(next domain.Status) {
	if s.status == next {
		return
	}
	log.Printf("session_id=%s driver_id=%s order_id=%s status=%s->%s",
		s.id, s.order.DriverID, s.order.OrderID, s.status, next)
	s.status = next
	s.updatedAt = s.deps.Now()
}

func (s *NavigationSession) recordLocked(sample domain.LocationSample) domain.TrackingRecord {
	return domain.TrackingRecord{
		UserID:      s.order.DriverID,
		SessionID:   s.id,
		Latitude:    sample.Coordinate.Lat,
		Longitude:   sample.Coordinate.Lon,
		Timestamp:   sample.Timestamp,
		OrderID:     s.order.OrderID,
		OrderNumber: s.order.OrderNumber,
		Status:      s.status,
		Source:      sample.Source,
		SpeedKmh:    sample.SpeedKmh,
		BearingDeg:  sample.BearingDeg,
	}
}

func (s *NavigationSession) snapshotLocked() domain.TrackingSession {
	snap := domain.TrackingSession{
		SessionID:            s.id,
		DriverID:             s.order.DriverID,
		TargetOrderID:        s.order.OrderID,
		OrderNumber:          s.order.OrderNumber,
		CustomerID:           s.order.CustomerID,
		Status:               s.status,
		Phase:                s.phase,
		CurrentManeuverIndex: s.tracker.CurrentManeuverIndex(),
		CurrentManeuver:      s.tracker.CurrentManeuver(),
		DeviationMeters:      s.deviation,
		UpdatedAt:            s.updatedAt,
	}
	if s.lastSample != nil {
		cp := *s.lastSample
		snap.LastSample = &cp
	}
	if s.display != nil {
		cp := *s.display
		snap.DisplayCoordinate = &cp
	}
	if s.monitor != nil {
		r := s.monitor.Region()
		snap.Target = &r
	}
	return snap
}

// afterTransition persists and broadcasts a status change.
func (s *NavigationSession) afterTransition(snap domain.TrackingSession) {
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.deps.Store.Save(ctx, snap); err != nil {
			log.Printf("session_id=%s driver_id=%s session store save failed err=%v", s.id, s.order.DriverID, err)
		}
		cancel()
	}
	s.notify(snap)
}

func (s *NavigationSession) notify(snap domain.TrackingSession) {
	if s.deps.Observer != nil {
		s.deps.Observer.SessionUpdated(snap)
	}
}

// emitOrderStatus publishes an order transition at most once, off the
// caller's path.
func (s *NavigationSession) emitOrderStatus(status domain.OrderStatus) {
	if s.deps.Events == nil {
		return
	}

	evt := domain.OrderStatusEvent{
		OrderID:    s.order.OrderID,
		Status:     status,
		CustomerID: s.order.CustomerID,
		DriverID:   s.order.DriverID,
		OccurredAt: s.deps.Now(),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.deps.Events.PublishOrderStatus(ctx, evt); err != nil {
			log.Printf("session_id=%s order_id=%s order status publish failed status=%s err=%v", s.id, evt.OrderID, status, err)
		}
	}()
}

// collectSnapBatchLocked records the fix and returns a batch to snap when a
// snapper is configured and idle.
func (s *NavigationSession) collectSnapBatchLocked(c domain.Coordinate) []domain.Coordinate {
	if s.deps.Snapper == nil {
		return nil
	}

	s.recent = append(s.recent, c)
	if len(s.recent) > snapBatchSize {
		s.recent = s.recent[len(s.recent)-snapBatchSize:]
	}
	if s.snapInFlight || len(s.recent) < 2 {
		return nil
	}

	s.snapInFlight = true
	batch := make([]domain.Coordinate, len(s.recent))
	copy(batch, s.recent)
	return batch
}

// snap stabilizes the displayed marker. Deviation math keeps using raw samples.
func (s *NavigationSession) snap(batch []domain.Coordinate) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RerouteTimeout)
		defer cancel()

		snapped, err := s.deps.Snapper.Snap(ctx, batch)

		s.mu.Lock()
		s.snapInFlight = false
		if err != nil || len(snapped) == 0 || s.status == domain.StatusStopped {
			s.mu.Unlock()
			if err != nil {
				log.Printf("session_id=%s driver_id=%s road snapping failed err=%v", s.id, s.order.DriverID, err)
			}
			return
		}
		last := snapped[len(snapped)-1]
		s.display = &last
		snap := s.snapshotLocked()
		s.mu.Unlock()

		s.notify(snap)
	}()
}
