package audit

import (
	"context"
	"sync"
)

// MemoryStore is a bounded ring of recent events. It backs the
// recent-events endpoint when ClickHouse is disabled, and tests.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
	cap    int
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{cap: capacity}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Write(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) > s.cap {
		s.events = s.events[len(s.events)-s.cap:]
	}
	return nil
}

func (s *MemoryStore) RecentEvents(_ context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]Event, limit)
	// Newest first.
	for i := 0; i < limit; i++ {
		out[i] = s.events[len(s.events)-1-i]
	}
	return out, nil
}
