package memory

import (
	"context"
	"sync"

	"standin/internal/domain"
)

// MapStore is an in-process RecordStore. Used by `simulate` and tests.
type MapStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMapStore() *MapStore {
	return &MapStore{records: make(map[string][]byte)}
}

func (m *MapStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.records[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MapStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.records[key] = v
	return nil
}

func (m *MapStore) Close() error { return nil }
