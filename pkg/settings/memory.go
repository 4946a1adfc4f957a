package settings

import (
	"context"
	"strings"
	"sync"
)

// MemStore is an in-memory Store. It backs tests and the standalone
// server mode where no database is configured.
type MemStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemStore creates a MemStore pre-populated with the given values.
func NewMemStore(values map[string]string) *MemStore {
	m := &MemStore{values: make(map[string]string, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

// Get returns the stored value for key.
func (m *MemStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, found := m.values[key]
	return value, found, nil
}

// Set stores value under key.
func (m *MemStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// List returns a copy of every pair whose key starts with prefix.
func (m *MemStore) List(_ context.Context, prefix string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string)
	for k, v := range m.values {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}
