package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore keeps checkpoints in process. It is used by tests and dry runs.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[Scope]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[Scope]string)}
}

func (m *MemoryStore) Get(ctx context.Context, scope Scope) (string, bool, error) {
	if err := scope.validate(); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[scope]
	return v, ok, nil
}

func (m *MemoryStore) Set(ctx context.Context, scope Scope, value string) error {
	if err := scope.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[scope] = value
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, scope Scope) error {
	if err := scope.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, scope)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
