package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/personamesh/core"
)

// InMemoryStore is a volatile SessionStore implementation storing
// snapshots in a process local map. It is safe for concurrent access and
// best suited for tests or one-off runs. Stored and returned payloads are
// copied to prevent external mutation of internal state.
type InMemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
}

var _ core.SessionStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory snapshot store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snapshots: make(map[string][]byte)}
}

// Save stores a copy of data under sessionID, replacing any previous snapshot.
func (s *InMemoryStore) Save(_ context.Context, sessionID string, data []byte) error {
	if sessionID == "" {
		return fmt.Errorf("save snapshot: empty session id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[sessionID] = append([]byte(nil), data...)
	return nil
}

// Load returns a copy of the snapshot or core.ErrSessionNotFound.
func (s *InMemoryStore) Load(_ context.Context, sessionID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.snapshots[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	return append([]byte(nil), data...), nil
}

// List returns the stored session ids in lexical order.
func (s *InMemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a snapshot. Unknown ids are a no-op.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, sessionID)
	return nil
}
