package idempotency

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps reservations and processed events in process memory. It backs tests and
// single-instance local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	events  map[string]time.Time
}

// NewMemoryStore constructs an empty memory-backed idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		events:  make(map[string]time.Time),
	}
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	record, ok := s.records[id]
	if !ok || record.expired(now) {
		record = newPendingRecord(key, fingerprint, now, ttl)
		s.records[id] = record
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}
	return reservationFor(record, fingerprint)
}

// SaveResponse implements Store.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	record, ok := s.records[id]
	if ok && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok {
		record = Record{Key: key, Fingerprint: fingerprint}
	}
	s.records[id] = completeRecord(record, resp, now, ttl)
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	if record, ok := s.records[id]; ok && record.Fingerprint == fingerprint {
		delete(s.records, id)
	}
	return nil
}

// CleanupExpired implements Store.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = len(s.records) + len(s.events)
	}
	removed := 0
	for id, record := range s.records {
		if removed >= limit {
			return removed, nil
		}
		if record.expired(now) {
			delete(s.records, id)
			removed++
		}
	}
	for id, expires := range s.events {
		if removed >= limit {
			break
		}
		if !now.Before(expires) {
			delete(s.events, id)
			removed++
		}
	}
	return removed, nil
}

// MarkProcessed implements EventLedger.
func (s *MemoryStore) MarkProcessed(_ context.Context, eventID string, now time.Time, ttl time.Duration) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, errEmptyEventID
	}
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if expires, ok := s.events[eventID]; ok && now.Before(expires) {
		return false, nil
	}
	s.events[eventID] = now.Add(ttl)
	return true, nil
}

// Forget implements EventLedger.
func (s *MemoryStore) Forget(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, strings.TrimSpace(eventID))
	return nil
}

var (
	_ Store       = (*MemoryStore)(nil)
	_ EventLedger = (*MemoryStore)(nil)
)
