package breaker

import (
	"context"
	"sync"
)

// MemoryStore keeps breaker state in process memory. With multiple
// instances each process holds its own breakers; use the redis store when
// that matters.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[key]
	return state, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = state
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context) (map[string]State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]State, len(s.states))
	for key, state := range s.states {
		out[key] = state
	}
	return out, nil
}
