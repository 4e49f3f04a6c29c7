package location

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/ports"
	"fmt"
	"log"
	"sync"
)

// MQTTLocationProvider is the LocationProvider of a single driver device
// reached through the MQTT gateway.
type MQTTLocationProvider struct {
	gw       *MQTTGateway
	driverID string

	mu         sync.Mutex
	foreground ports.PermissionStatus
	background ports.PermissionStatus
	last       *ports.RawPosition
	nextID     int
	watchers   map[int]func(ports.RawPosition)
	tasks      map[string]ports.WatchOptions
}

func newMQTTLocationProvider(gw *MQTTGateway, driverID string) *MQTTLocationProvider {
	return &MQTTLocationProvider{
		gw:         gw,
		driverID:   driverID,
		foreground: ports.PermissionUndetermined,
		background: ports.PermissionUndetermined,
		watchers:   make(map[int]func(ports.RawPosition)),
		tasks:      make(map[string]ports.WatchOptions),
	}
}

func (p *MQTTLocationProvider) ForegroundPermission(ctx context.Context) (ports.PermissionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.foreground, nil
}

func (p *MQTTLocationProvider) BackgroundPermission(ctx context.Context) (ports.PermissionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.background, nil
}

// CurrentPosition returns the last fix the device reported.
func (p *MQTTLocationProvider) CurrentPosition(ctx context.Context) (ports.RawPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last == nil {
		return ports.RawPosition{}, fmt.Errorf("%w: no fix reported by driver %s", domain.ErrProviderUnavailable, p.driverID)
	}
	return *p.last, nil
}

func (p *MQTTLocationProvider) Watch(ctx context.Context, opts ports.WatchOptions, fn func(ports.RawPosition)) (ports.Subscription, error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.watchers[id] = fn
	first := len(p.watchers) == 1
	p.mu.Unlock()

	if first {
		err := p.gw.publish(p.driverID, false, controlMessage{
			Command:          "start_foreground",
			IntervalMs:       opts.Interval.Milliseconds(),
			MinDisplacementM: opts.MinDisplacementMeters,
		})
		if err != nil {
			p.removeWatcher(id)
			return nil, err
		}
	}

	return &subscription{p: p, id: id}, nil
}

func (p *MQTTLocationProvider) StartBackgroundUpdates(ctx context.Context, taskName string, opts ports.WatchOptions) error {
	// Retained so a reconnecting device picks the registration up again.
	err := p.gw.publish(p.driverID, true, controlMessage{
		Command:          "start_background",
		Task:             taskName,
		IntervalMs:       opts.Interval.Milliseconds(),
		MinDisplacementM: opts.MinDisplacementMeters,
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.tasks[taskName] = opts
	p.mu.Unlock()
	return nil
}

func (p *MQTTLocationProvider) HasStartedBackgroundUpdates(ctx context.Context, taskName string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[taskName]
	return ok, nil
}

func (p *MQTTLocationProvider) StopBackgroundUpdates(ctx context.Context, taskName string) error {
	err := p.gw.publish(p.driverID, true, controlMessage{Command: "stop_background", Task: taskName})
	if err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.tasks, taskName)
	p.mu.Unlock()
	return nil
}

func (p *MQTTLocationProvider) setPermissions(m permissionsMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if m.Foreground != "" {
		p.foreground = m.Foreground
	}
	if m.Background != "" {
		p.background = m.Background
	}
	log.Printf("driver permissions driver_id=%s foreground=%s background=%s", p.driverID, p.foreground, p.background)
}

func (p *MQTTLocationProvider) remember(raw ports.RawPosition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = &raw
}

func (p *MQTTLocationProvider) deliverForeground(raw ports.RawPosition) {
	p.mu.Lock()
	p.last = &raw
	fns := make([]func(ports.RawPosition), 0, len(p.watchers))
	for _, fn := range p.watchers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(raw)
	}
}

// removeWatcher reports whether the last watcher went away.
func (p *MQTTLocationProvider) removeWatcher(id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.watchers[id]; !ok {
		return false
	}
	delete(p.watchers, id)
	return len(p.watchers) == 0
}

type subscription struct {
	p    *MQTTLocationProvider
	id   int
	once sync.Once
}

func (s *subscription) Remove() {
	s.once.Do(func() {
		if !s.p.removeWatcher(s.id) {
			return
		}
		if err := s.p.gw.publish(s.p.driverID, false, controlMessage{Command: "stop_foreground"}); err != nil {
			log.Printf("mqtt stop foreground failed driver_id=%s err=%v", s.p.driverID, err)
		}
	})
}
