package services

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"errors"
	"testing"
	"time"
)

func TestTrackingPublisherPublishWrapsFailure(t *testing.T) {
	store := &fakeLocationStore{err: errUnavailable}
	p := NewTrackingPublisher(store, 1)

	err := p.Publish(context.Background(), domain.TrackingRecord{UserID: "driver-1"})
	if !errors.Is(err, domain.ErrPublishFailure) {
		t.Fatalf("err = %v, want ErrPublishFailure", err)
	}
}

func TestTrackingPublisherRejectsRecordWithoutDriver(t *testing.T) {
	p := NewTrackingPublisher(&fakeLocationStore{}, 1)

	err := p.Publish(context.Background(), domain.TrackingRecord{})
	if !errors.Is(err, domain.ErrPublishFailure) {
		t.Fatalf("err = %v, want ErrPublishFailure", err)
	}
}

func TestTrackingPublisherDrainsOnClose(t *testing.T) {
	store := &fakeLocationStore{}
	p := NewTrackingPublisher(store, 8)
	p.Start(context.Background())

	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		p.Enqueue(domain.TrackingRecord{UserID: "driver-1", Timestamp: now.Add(time.Duration(i) * time.Second)})
	}
	p.Close()

	// Enqueue after close is dropped without panicking.
	p.Enqueue(domain.TrackingRecord{UserID: "driver-1"})

	if len(store.records) != 3 {
		t.Fatalf("records = %d, want 3", len(store.records))
	}
	rec, _ := store.Get(context.Background(), "driver-1")
	if rec == nil || !rec.Timestamp.Equal(now.Add(2*time.Second)) {
		t.Fatalf("latest record = %+v, want the last enqueued", rec)
	}
}

func TestTrackingPublisherStoreFailureDoesNotStopWorker(t *testing.T) {
	store := &fakeLocationStore{err: errUnavailable}
	p := NewTrackingPublisher(store, 8)
	p.Start(context.Background())

	p.Enqueue(domain.TrackingRecord{UserID: "driver-1"})
	p.Enqueue(domain.TrackingRecord{UserID: "driver-1"})
	p.Close()

	if len(store.records) != 0 {
		t.Fatalf("records = %d, want 0", len(store.records))
	}
}
