package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

// MockKeyValueStore is an in-memory KeyValueStore with failure injection.
type MockKeyValueStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	// Custom behavior hooks (optional)
	GetFn    func(key string) ([]byte, error)
	SetFn    func(key string, value []byte) error
	DeleteFn func(keys ...string) error
	PingFn   func() error

	SetCalls int
}

// NewMockKeyValueStore creates a new MockKeyValueStore
func NewMockKeyValueStore() *MockKeyValueStore {
	return &MockKeyValueStore{
		data: make(map[string][]byte),
	}
}

func (m *MockKeyValueStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.GetFn != nil {
		return m.GetFn(key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MockKeyValueStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.SetCalls++
	m.mu.Unlock()
	if m.SetFn != nil {
		return m.SetFn(key, value)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

func (m *MockKeyValueStore) Delete(ctx context.Context, keys ...string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(keys...)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *MockKeyValueStore) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

// Has reports whether key is present (for test assertions).
func (m *MockKeyValueStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok
}

// Raw returns the stored bytes for key (for test assertions).
func (m *MockKeyValueStore) Raw(key string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[key]
}

// Put seeds a value without counting it as a Set call (for test setup).
func (m *MockKeyValueStore) Put(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}
