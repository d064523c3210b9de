package memory

import (
	"context"
	"sync"

	id "redeem/pkg/domain"
	audit "redeem/pkg/platform/audit"
)

// InMemoryStore keeps events per redemption in append order.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.RequestID][]audit.Event
	order  []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.RequestID][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.RequestID][]audit.Event)
	s.order = nil
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.RedemptionID] = append(s.events[event.RedemptionID], event)
	s.order = append(s.order, event)
	return nil
}

func (s *InMemoryStore) ListByRedemption(_ context.Context, redemptionID id.RequestID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[redemptionID]...), nil
}

// ListRecent returns up to limit events, most recent first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]audit.Event, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.order[i])
	}
	return out, nil
}
