package services

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/geo"
	"delivery-navigation-service/internal/ports"
	"fmt"
	"log"
	"sync"
	"time"
)

const DefaultBackgroundTaskName = "background-location-task"

// Minimum displacement before a bearing is derived from two fixes.
const minBearingDisplacementMeters = 1.0

// TrackingHandle is returned by StartForeground/StartBackground and stops
// exactly the subscription it was created for.
type TrackingHandle struct {
	once sync.Once
	stop func()
}

func newTrackingHandle(stop func()) *TrackingHandle {
	return &TrackingHandle{stop: stop}
}

// Stop releases the subscription. It is safe to call more than once.
func (h *TrackingHandle) Stop() {
	if h == nil {
		return
	}
	h.once.Do(h.stop)
}

// LocationSampler turns the platform's foreground subscription and
// background task deliveries into one stream of LocationSample values.
// It holds no session semantics; every sample goes to the registered callback.
type LocationSampler struct {
	provider ports.LocationProvider
	taskName string
	now      func() time.Time

	mu       sync.Mutex
	onSample func(domain.LocationSample)
	fgSub    ports.Subscription
	fgHandle *TrackingHandle
	opts     map[domain.Source]ports.WatchOptions
	prev     map[domain.Source]domain.LocationSample
}

func NewLocationSampler(provider ports.LocationProvider, taskName string) *LocationSampler {
	if taskName == "" {
		taskName = DefaultBackgroundTaskName
	}
	return &LocationSampler{
		provider: provider,
		taskName: taskName,
		now:      time.Now,
		opts:     make(map[domain.Source]ports.WatchOptions, 2),
		prev:     make(map[domain.Source]domain.LocationSample, 2),
	}
}

// OnSample registers the callback receiving every emitted sample.
func (s *LocationSampler) OnSample(fn func(domain.LocationSample)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSample = fn
}

func (s *LocationSampler) TaskName() string { return s.taskName }

// StartForeground subscribes to the platform location stream. A second call
// while subscribed returns the existing handle.
func (s *LocationSampler) StartForeground(ctx context.Context, opts ports.WatchOptions) (*TrackingHandle, error) {
	s.mu.Lock()
	if s.fgHandle != nil {
		h := s.fgHandle
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	status, err := s.provider.ForegroundPermission(ctx)
	if err != nil {
		return nil, fmt.Errorf("start foreground: read permission: %w", err)
	}
	if status != ports.PermissionGranted {
		return nil, fmt.Errorf("start foreground: status=%s: %w", status, domain.ErrPermissionDenied)
	}

	s.mu.Lock()
	s.opts[domain.SourceForeground] = opts
	s.mu.Unlock()

	sub, err := s.provider.Watch(ctx, opts, func(raw ports.RawPosition) {
		s.accept(domain.SourceForeground, raw)
	})
	if err != nil {
		return nil, fmt.Errorf("start foreground: watch: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Lost a race with a concurrent start; keep the first subscription.
	if s.fgHandle != nil {
		sub.Remove()
		return s.fgHandle, nil
	}

	var h *TrackingHandle
	h = newTrackingHandle(func() {
		sub.Remove()
		s.mu.Lock()
		if s.fgHandle == h {
			s.fgSub = nil
			s.fgHandle = nil
			delete(s.prev, domain.SourceForeground)
		}
		s.mu.Unlock()
	})
	s.fgSub = sub
	s.fgHandle = h

	log.Printf("sampler foreground started task=%s interval=%s min_displacement_m=%.0f",
		s.taskName, opts.Interval, opts.MinDisplacementMeters)
	return h, nil
}

// StartBackground registers the background task with the platform scheduler.
// Calling it while already registered is a no-op.
func (s *LocationSampler) StartBackground(ctx context.Context, opts ports.WatchOptions) (*TrackingHandle, error) {
	handle := newTrackingHandle(func() {
		if err := s.StopBackground(context.Background()); err != nil {
			log.Printf("sampler background stop failed task=%s err=%v", s.taskName, err)
		}
	})

	started, err := s.provider.HasStartedBackgroundUpdates(ctx, s.taskName)
	if err != nil {
		return nil, fmt.Errorf("start background: query registration: %w", err)
	}
	if started {
		return handle, nil
	}

	fg, err := s.provider.ForegroundPermission(ctx)
	if err != nil {
		return nil, fmt.Errorf("start background: read foreground permission: %w", err)
	}
	if fg != ports.PermissionGranted {
		return nil, fmt.Errorf("start background: foreground status=%s: %w", fg, domain.ErrPermissionDenied)
	}

	bg, err := s.provider.BackgroundPermission(ctx)
	if err != nil {
		return nil, fmt.Errorf("start background: read background permission: %w", err)
	}
	if bg != ports.PermissionGranted {
		return nil, fmt.Errorf("start background: status=%s: %w", bg, domain.ErrBackgroundPermissionDenied)
	}

	s.mu.Lock()
	s.opts[domain.SourceBackground] = opts
	s.mu.Unlock()

	if err := s.provider.StartBackgroundUpdates(ctx, s.taskName, opts); err != nil {
		return nil, fmt.Errorf("start background: register task %q: %w", s.taskName, err)
	}

	log.Printf("sampler background started task=%s interval=%s min_displacement_m=%.0f",
		s.taskName, opts.Interval, opts.MinDisplacementMeters)
	return handle, nil
}

// StopForeground releases the foreground subscription, if any.
func (s *LocationSampler) StopForeground() {
	s.mu.Lock()
	h := s.fgHandle
	s.mu.Unlock()

	h.Stop()
}

// StopBackground unregisters the background task, if registered.
func (s *LocationSampler) StopBackground(ctx context.Context) error {
	s.mu.Lock()
	delete(s.prev, domain.SourceBackground)
	s.mu.Unlock()

	started, err := s.provider.HasStartedBackgroundUpdates(ctx, s.taskName)
	if err != nil {
		return fmt.Errorf("stop background: query registration: %w", err)
	}
	if !started {
		return nil
	}

	if err := s.provider.StopBackgroundUpdates(ctx, s.taskName); err != nil {
		return fmt.Errorf("stop background: unregister task %q: %w", s.taskName, err)
	}
	return nil
}

// HandleBackground ingests a batch delivered to the background task.
func (s *LocationSampler) HandleBackground(positions []ports.RawPosition) {
	for _, raw := range positions {
		s.accept(domain.SourceBackground, raw)
	}
}

// accept normalizes one fix and hands it to the callback. Kinematics missing
// from the platform are derived from the previous fix of the same source.
func (s *LocationSampler) accept(source domain.Source, raw ports.RawPosition) {
	sample, ok, err := s.normalize(source, raw)
	if err != nil {
		log.Printf("sampler dropped fix source=%s err=%v", source, err)
		return
	}
	if !ok {
		return
	}

	s.mu.Lock()
	fn := s.onSample
	s.mu.Unlock()

	if fn != nil {
		fn(sample)
	}
}

func (s *LocationSampler) normalize(source domain.Source, raw ports.RawPosition) (domain.LocationSample, bool, error) {
	coord := domain.Coordinate{Lat: raw.Latitude, Lon: raw.Longitude}
	if err := coord.Validate(); err != nil {
		return domain.LocationSample{}, false, err
	}

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	sample := domain.LocationSample{
		Coordinate: coord,
		Accuracy:   raw.Accuracy,
		Timestamp:  ts,
		Source:     source,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hasPrev := s.prev[source]
	if hasPrev {
		moved := geo.DistanceMeters(prev.Coordinate, coord)
		if minDisp := s.opts[source].MinDisplacementMeters; minDisp > 0 && moved < minDisp {
			return domain.LocationSample{}, false, nil
		}
	}

	if raw.Speed != nil && *raw.Speed >= 0 {
		kmh := *raw.Speed * 3.6
		sample.SpeedKmh = &kmh
	} else if hasPrev {
		if kmh, ok := geo.SpeedKmh(prev.Coordinate, coord, ts.Sub(prev.Timestamp)); ok {
			sample.SpeedKmh = &kmh
		}
	}

	if raw.Heading != nil && *raw.Heading >= 0 {
		b := *raw.Heading
		sample.BearingDeg = &b
	} else if hasPrev && geo.DistanceMeters(prev.Coordinate, coord) >= minBearingDisplacementMeters {
		b := geo.BearingDegrees(prev.Coordinate, coord)
		sample.BearingDeg = &b
	}

	s.prev[source] = sample
	return sample, true, nil
}

// CurrentPosition reads a single fix without emitting it.
func (s *LocationSampler) CurrentPosition(ctx context.Context) (domain.LocationSample, error) {
	status, err := s.provider.ForegroundPermission(ctx)
	if err != nil {
		return domain.LocationSample{}, fmt.Errorf("current position: read permission: %w", err)
	}
	if status != ports.PermissionGranted {
		return domain.LocationSample{}, fmt.Errorf("current position: status=%s: %w", status, domain.ErrPermissionDenied)
	}

	raw, err := s.provider.CurrentPosition(ctx)
	if err != nil {
		return domain.LocationSample{}, fmt.Errorf("current position: %w", err)
	}

	coord := domain.Coordinate{Lat: raw.Latitude, Lon: raw.Longitude}
	if err := coord.Validate(); err != nil {
		return domain.LocationSample{}, fmt.Errorf("current position: %w", err)
	}

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	return domain.LocationSample{
		Coordinate: coord,
		Accuracy:   raw.Accuracy,
		Timestamp:  ts,
		Source:     domain.SourceForeground,
	}, nil
}
