package store

import (
	"context"
	"sync"

	"converse/internal/types"
)

// MemoryStateStore keeps agent state in process memory. Used when no
// database path is configured, and by tests.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]string // user_id -> JSON, mirrors the SQLite row shape
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]string)}
}

// GetState returns the state for a user, or (nil, nil) when absent.
func (m *MemoryStateStore) GetState(_ context.Context, userID string) (*types.AgentState, error) {
	m.mu.RLock()
	raw, ok := m.states[userID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	state, err := decodeState(raw)
	if err != nil {
		// Same shadowing contract as the SQLite store.
		return nil, nil
	}
	return state, nil
}

// PutState stores the state for a user.
func (m *MemoryStateStore) PutState(_ context.Context, userID string, state *types.AgentState) error {
	raw, err := encodeState(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.states[userID] = raw
	m.mu.Unlock()
	return nil
}
