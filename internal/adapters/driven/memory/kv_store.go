// Package memory provides a process-local KeyValueStore. Nothing survives a
// restart; it backs the agent when no storage backend is configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.KeyValueStore = (*KVStore)(nil)

// KVStore implements driven.KeyValueStore with a map.
type KVStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewKVStore creates an empty store.
func NewKVStore() *KVStore {
	return &KVStore{data: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key.
func (s *KVStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value under key.
func (s *KVStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte{}, value...)
	return nil
}

// Delete removes the given keys.
func (s *KVStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// Ping always succeeds.
func (s *KVStore) Ping(context.Context) error {
	return nil
}

// Keys lists stored keys in order.
func (s *KVStore) Keys(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
