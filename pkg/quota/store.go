package quota

import (
	"sync"
	"time"

	errs "igrelay/pkg/errors"
)

// UsageRecord tracks one user's usage within the current day window
type UsageRecord struct {
	// LastRequest is the time of the most recently admitted request.
	// The zero value means no request has been admitted yet.
	LastRequest time.Time
	// LastSeen is the time of the most recent evaluation of this user
	LastSeen time.Time
	// DailyCount is the number of admitted requests in the current window
	DailyCount int
}

// HasRequest reports whether a request was ever admitted for the record
func (r UsageRecord) HasRequest() bool {
	return !r.LastRequest.IsZero()
}

// Store holds usage records keyed by user identifier
type Store[K comparable] interface {
	// Get returns the record for userID, or false if the user was never seen
	Get(userID K) (UsageRecord, bool)
	// Upsert creates or replaces the record for userID
	Upsert(userID K, record UsageRecord) error
	// Len returns the number of tracked users
	Len() int
}

// MemoryStore is an in-process Store. Records are never evicted and are lost
// when the process exits.
type MemoryStore[K comparable] struct {
	records map[K]UsageRecord
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore[K comparable]() *MemoryStore[K] {
	return &MemoryStore[K]{
		records: make(map[K]UsageRecord),
	}
}

// Get returns a copy of the record for userID
func (s *MemoryStore[K]) Get(userID K) (UsageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[userID]
	return record, ok
}

// Upsert stores a copy of record for userID
func (s *MemoryStore[K]) Upsert(userID K, record UsageRecord) error {
	if record.DailyCount < 0 {
		return errs.New(errs.ErrorTypeValidation, "daily count cannot be negative: %d", record.DailyCount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[userID] = record
	return nil
}

// Len returns the number of tracked users
func (s *MemoryStore[K]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
