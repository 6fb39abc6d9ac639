package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
)

// CounterStore keeps counters in a map guarded by a mutex. Contents are lost
// on restart.
type CounterStore struct {
	mu       sync.Mutex
	counters map[domain.BucketKey]domain.Counter
}

// NewCounterStore returns an empty counter store.
func NewCounterStore() *CounterStore {
	return &CounterStore{counters: make(map[domain.BucketKey]domain.Counter)}
}

func (s *CounterStore) IncrementBucket(_ context.Context, key domain.BucketKey, by int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters[key]
	c.Key = key
	c.N += by
	if at.After(c.Last) {
		c.Last = at
	}
	s.counters[key] = c
	return nil
}

// GetCounter reads one bucket. A missing bucket reads as zero.
func (s *CounterStore) GetCounter(_ context.Context, key domain.BucketKey) (domain.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	if !ok {
		return domain.Counter{Key: key}, nil
	}
	return c, nil
}

// Snapshot returns a copy of every counter.
func (s *CounterStore) Snapshot() []domain.Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Counter, 0, len(s.counters))
	for _, c := range s.counters {
		out = append(out, c)
	}
	return out
}
