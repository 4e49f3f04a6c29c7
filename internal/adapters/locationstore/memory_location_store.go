package locationstore

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"sync"
)

// MemoryLocationStore is the in-process location store used when no
// database is configured. It applies the same timestamp merge rule.
type MemoryLocationStore struct {
	mu   sync.RWMutex
	docs map[string]domain.TrackingRecord
}

func NewMemoryLocationStore() *MemoryLocationStore {
	return &MemoryLocationStore{docs: make(map[string]domain.TrackingRecord)}
}

func (s *MemoryLocationStore) Upsert(ctx context.Context, rec domain.TrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.docs[rec.UserID]; ok && rec.Timestamp.Before(cur.Timestamp) {
		return nil
	}
	s.docs[rec.UserID] = rec
	return nil
}

func (s *MemoryLocationStore) Get(ctx context.Context, driverID string) (*domain.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.docs[driverID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}
