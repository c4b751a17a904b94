package loginflow

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu    sync.Mutex
	flows map[string]*Flow
	ttl   time.Duration
}

// NewMemoryStore keeps flows in process memory. Good for a single
// instance; use the Redis store when running more than one.
func NewMemoryStore(ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &memoryStore{flows: map[string]*Flow{}, ttl: ttl}
}

func (s *memoryStore) Save(ctx context.Context, flow *Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for state, f := range s.flows {
		if time.Since(f.CreatedAt) > s.ttl {
			delete(s.flows, state)
		}
	}

	s.flows[flow.State] = flow
	return nil
}

func (s *memoryStore) Redeem(ctx context.Context, state string) (*Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[state]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.flows, state)

	if time.Since(flow.CreatedAt) > s.ttl {
		return nil, ErrNotFound
	}
	return flow, nil
}
