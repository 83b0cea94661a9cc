package agentloop

import (
	"context"
	"sync"
)

// MemoryCheckpointStore keeps loop state in a map keyed by session id. It is
// the drop-in default for callers that need resumability without durable
// persistence.
type MemoryCheckpointStore[S any] struct {
	mu     sync.Mutex
	states map[string]S
}

// NewMemoryCheckpointStore creates an empty in-memory checkpoint store.
func NewMemoryCheckpointStore[S any]() *MemoryCheckpointStore[S] {
	return &MemoryCheckpointStore[S]{
		states: make(map[string]S),
	}
}

// Load returns the stored state for the session, if any.
func (s *MemoryCheckpointStore[S]) Load(_ context.Context, sessionID string) (S, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[sessionID]
	return state, ok, nil
}

// Save stores the state for the session.
func (s *MemoryCheckpointStore[S]) Save(_ context.Context, sessionID string, state S) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[sessionID] = state
	return nil
}
