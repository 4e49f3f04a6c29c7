package services

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/platform/obs"
	"delivery-navigation-service/internal/ports"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	DefaultPublishQueueSize = 256
	defaultPublishTimeout   = 5 * time.Second
)

// TrackingPublisher writes accepted samples to the external location store.
//
// Enqueue never blocks: records go through a bounded queue drained by a
// single worker. Failures are logged and dropped because the next sample
// supersedes them; the session, not the store, is authoritative.
type TrackingPublisher struct {
	store   ports.LocationStore
	timeout time.Duration

	mu     sync.Mutex
	queue  chan domain.TrackingRecord
	closed bool
	wg     sync.WaitGroup
}

func NewTrackingPublisher(store ports.LocationStore, queueSize int) *TrackingPublisher {
	if queueSize <= 0 {
		queueSize = DefaultPublishQueueSize
	}
	return &TrackingPublisher{
		store:   store,
		timeout: defaultPublishTimeout,
		queue:   make(chan domain.TrackingRecord, queueSize),
	}
}

// Start launches the worker. It stops when Close is called.
func (p *TrackingPublisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for rec := range p.queue {
			if err := p.Publish(ctx, rec); err != nil {
				log.Printf("tracking publish failed driver_id=%s session_id=%s source=%s err=%v",
					rec.UserID, rec.SessionID, rec.Source, err)
			}
		}
	}()
}

// Enqueue schedules a record. When the queue is full the record is dropped.
func (p *TrackingPublisher) Enqueue(rec domain.TrackingRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	select {
	case p.queue <- rec:
	default:
		log.Printf("tracking publish queue full, dropping driver_id=%s source=%s ts=%s",
			rec.UserID, rec.Source, rec.Timestamp.Format(time.RFC3339))
	}
}

// Publish writes one record synchronously. Errors wrap ErrPublishFailure.
func (p *TrackingPublisher) Publish(ctx context.Context, rec domain.TrackingRecord) (err error) {
	defer obs.Time(ctx, "tracking.Publish")(&err)

	if rec.UserID == "" {
		return fmt.Errorf("%w: record has no driver", domain.ErrPublishFailure)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.store.Upsert(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrPublishFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrPublishFailure, err)
	}
	return nil
}

// Close drains the queue and waits for the worker.
func (p *TrackingPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}
