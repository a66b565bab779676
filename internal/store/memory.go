package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps dialog state in process memory. State is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*DialogState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*DialogState)}
}

func (m *MemoryStore) Load(_ context.Context, key string) (*DialogState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[key].Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, st *DialogState) error {
	c := st.Clone()
	c.Updated = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.UserKey] = c
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key)
	return nil
}

// Len returns the number of stored users.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

func (m *MemoryStore) Close() error { return nil }
