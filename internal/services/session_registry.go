package services

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/ports"
	"fmt"
	"log"
	"sync"
)

// trackedSession pairs a session with the sampler feeding it.
type trackedSession struct {
	session *NavigationSession
	sampler *LocationSampler
}

// SessionRegistry holds live sessions and enforces one active session per
// driver. Stopped sessions are forgotten lazily.
type SessionRegistry struct {
	mu       sync.RWMutex
	byID     map[string]*trackedSession
	byDriver map[string]string
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byID:     make(map[string]*trackedSession),
		byDriver: make(map[string]string),
	}
}

func (r *SessionRegistry) add(t *trackedSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	driverID := t.session.DriverID()
	if existingID, ok := r.byDriver[driverID]; ok {
		if existing, ok := r.byID[existingID]; ok && existing.session.Status().Active() {
			return fmt.Errorf("driver %s session %s: %w", driverID, existingID, domain.ErrSessionActive)
		}
		delete(r.byID, existingID)
	}

	r.byID[t.session.ID()] = t
	r.byDriver[driverID] = t.session.ID()
	return nil
}

func (r *SessionRegistry) get(id string) (*trackedSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	return t, ok
}

// Get returns a session by ID, including stopped sessions not yet replaced.
func (r *SessionRegistry) Get(id string) (*NavigationSession, bool) {
	t, ok := r.get(id)
	if !ok {
		return nil, false
	}
	return t.session, true
}

// ActiveForDriver returns the driver's non-stopped session.
func (r *SessionRegistry) ActiveForDriver(driverID string) (*NavigationSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byDriver[driverID]
	if !ok {
		return nil, false
	}
	t, ok := r.byID[id]
	if !ok || !t.session.Status().Active() {
		return nil, false
	}
	return t.session, true
}

// Remove forgets a session.
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	if r.byDriver[t.session.DriverID()] == id {
		delete(r.byDriver, t.session.DriverID())
	}
}

// BackgroundLocationTask is the body of the OS background task. It resolves
// the driver's session from durable storage at call time instead of holding
// state captured when the task was defined.
func BackgroundLocationTask(store ports.SessionStore, registry *SessionRegistry) TaskFunc {
	return func(ctx context.Context, data ports.BackgroundTaskData) error {
		if len(data.Positions) == 0 {
			return nil
		}

		sessionID, ok, err := store.ActiveSessionID(ctx, data.DriverID)
		if err != nil {
			return fmt.Errorf("background task: resolve session for driver %s: %w", data.DriverID, err)
		}
		if !ok {
			return fmt.Errorf("background task: driver %s: %w", data.DriverID, domain.ErrSessionNotFound)
		}

		t, ok := registry.get(sessionID)
		if !ok || !t.session.Status().Active() {
			return fmt.Errorf("background task: session %s: %w", sessionID, domain.ErrSessionNotFound)
		}

		log.Printf("background task delivered driver_id=%s session_id=%s positions=%d",
			data.DriverID, sessionID, len(data.Positions))
		t.sampler.HandleBackground(data.Positions)
		return nil
	}
}
