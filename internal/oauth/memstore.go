package oauth

import (
	"context"
	"sync"
)

// MemoryFlowStore is a mutex-guarded in-process FlowStore. It does not
// survive a process restart, so it suits tests and single-process CLI use;
// multi-worker deployments need a shared store such as the SQLite one.
type MemoryFlowStore struct {
	mu    sync.RWMutex
	flows map[FlowName]FlowState
}

// NewMemoryFlowStore creates an empty in-memory flow store.
func NewMemoryFlowStore() *MemoryFlowStore {
	return &MemoryFlowStore{flows: make(map[FlowName]FlowState)}
}

// Save stores a copy of the flow state under name.
func (s *MemoryFlowStore) Save(_ context.Context, name FlowName, state *FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[name] = *state
	return nil
}

// Load returns a copy of the flow state, or nil when absent.
func (s *MemoryFlowStore) Load(_ context.Context, name FlowName) (*FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.flows[name]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// Clear removes the flow state for name.
func (s *MemoryFlowStore) Clear(_ context.Context, name FlowName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, name)
	return nil
}

// MemoryCredentialStore is a mutex-guarded in-process CredentialStore.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds *Credentials
}

// NewMemoryCredentialStore creates an empty in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

// Load returns a copy of the stored credentials, or nil when none exist.
func (s *MemoryCredentialStore) Load(_ context.Context) (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return nil, nil
	}
	copied := *s.creds
	return &copied, nil
}

// Update applies a partial update and returns the merged credentials.
func (s *MemoryCredentialStore) Update(_ context.Context, update CredentialUpdate) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = update.Apply(s.creds)
	copied := *s.creds
	return &copied, nil
}

// Delete removes the stored credentials.
func (s *MemoryCredentialStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}
