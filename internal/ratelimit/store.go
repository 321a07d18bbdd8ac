// Package ratelimit implements sliding-window admission control for HTTP
// endpoints. Each endpoint pattern carries a normal threshold and a stricter
// burst cap over a shared window; call counts live in a counter store so
// multiple service instances enforce one combined limit.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// CounterStore tracks call counts per bucket over a sliding window.
type CounterStore interface {
	// Admit counts the in-window calls for a bucket and records a new call
	// when the count is below threshold. Pruning, counting, and recording
	// happen as one atomic operation so concurrent callers cannot slip
	// between the count and the record. Returns the count before recording.
	Admit(ctx context.Context, bucket string, window time.Duration, threshold int) (count int, recorded bool, err error)
}

// MemoryStore is an in-process CounterStore. Suitable for tests and
// single-instance deployments; counts are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	now     func() time.Time
}

// Compile-time interface verification.
var _ CounterStore = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Admit implements CounterStore.
func (s *MemoryStore) Admit(_ context.Context, bucket string, window time.Duration, threshold int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)

	calls := s.buckets[bucket]
	kept := calls[:0]
	for _, t := range calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	count := len(kept)
	recorded := count < threshold
	if recorded {
		kept = append(kept, now)
	}
	s.buckets[bucket] = kept

	return count, recorded, nil
}
