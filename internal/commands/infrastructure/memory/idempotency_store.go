package memory

import (
	"context"
	"errors"
	"sync"
	"time"
)

// IdempotencyStore is an in-memory idempotency store for tests and demos.
// CheckAndRecord is serialized by a single mutex, which is the required
// critical section for at-most-once execution.
type IdempotencyStore struct {
	mu        sync.Mutex
	executed  map[string]time.Time
	retention time.Duration
}

// NewIdempotencyStore constructs a store. A zero retention keeps records
// forever.
func NewIdempotencyStore(retention time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		executed:  make(map[string]time.Time),
		retention: retention,
	}
}

// CheckAndRecord returns true on first execution within the retention
// horizon and records the command id. Expired records read as absent.
func (s *IdempotencyStore) CheckAndRecord(ctx context.Context, commandID string, now time.Time) (bool, error) {
	if s == nil {
		return false, errors.New("idempotency store: nil store")
	}
	if commandID == "" {
		return false, errors.New("idempotency store: empty command id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	executedAt, seen := s.executed[commandID]
	if seen {
		if s.retention <= 0 || now.Sub(executedAt) < s.retention {
			return false, nil
		}
		// Beyond the horizon the record is no longer authoritative.
	}
	s.executed[commandID] = now
	return true, nil
}

// Len returns the number of live records.
func (s *IdempotencyStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.executed)
}
