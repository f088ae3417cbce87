package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. It is the default for single-instance
// deployments and the fake used by tests; multi-instance deployments need the
// Redis store so workers share one ledger.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	policy  Policy
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory admission ledger.
func NewMemoryStore(policy Policy) *MemoryStore {
	return &MemoryStore{
		records: map[string]*Record{},
		policy:  policy,
		now:     time.Now,
	}
}

// Admit implements Store.
func (s *MemoryStore) Admit(_ context.Context, key string) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[key]
	if !ok {
		s.records[key] = &Record{Key: key, Status: StatusProcessing, FirstSeen: now, StartedAt: now}
		return Admitted, nil
	}
	switch rec.Status {
	case StatusCompleted, StatusFailed:
		return Duplicate, nil
	}
	if now.Sub(rec.StartedAt) > s.policy.ProcessingTimeout {
		// Abandoned by a crashed or cancelled worker.
		rec.Status = StatusProcessing
		rec.StartedAt = now
		return Admitted, nil
	}
	return InProgress, nil
}

// Mark implements Store.
func (s *MemoryStore) Mark(_ context.Context, key string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok {
		rec.Status = status
	}
	return nil
}

// Sweep implements Store.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.policy.Retention)
	removed := 0
	for key, rec := range s.records {
		if rec.FirstSeen.Before(cutoff) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of live records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// SetClock overrides the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
