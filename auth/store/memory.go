package store

import (
	"context"
	"sync"

	"github.com/viant/mcphub/auth"
)

type memoryStore struct {
	mux    sync.RWMutex
	tokens map[string]*auth.Tokens
}

// NewMemoryStore creates a TokenStore that lives and dies with the process.
func NewMemoryStore() auth.TokenStore {
	return &memoryStore{tokens: map[string]*auth.Tokens{}}
}

func (m *memoryStore) Store(ctx context.Context, serverID string, tokens *auth.Tokens) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.tokens[serverID] = tokens
	return nil
}

func (m *memoryStore) Retrieve(ctx context.Context, serverID string) (*auth.Tokens, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if tokens, ok := m.tokens[serverID]; ok {
		return tokens, nil
	}
	return nil, nil
}

func (m *memoryStore) Delete(ctx context.Context, serverID string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	delete(m.tokens, serverID)
	return nil
}

func (m *memoryStore) List(ctx context.Context) ([]string, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	ids := make([]string, 0, len(m.tokens))
	for id := range m.tokens {
		ids = append(ids, id)
	}
	return ids, nil
}
