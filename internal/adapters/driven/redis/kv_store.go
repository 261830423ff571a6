package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
	"github.com/redis/go-redis/v9"
)

// Verify interface compliance
var _ driven.KeyValueStore = (*KVStore)(nil)

// DefaultNamespace prefixes every key written by this process.
const DefaultNamespace = "carequeue"

// KVStore implements driven.KeyValueStore on Redis strings. Keys are stored
// as {namespace}:{partition}:{key} so several devices or kiosks can share
// one Redis without seeing each other's queue.
type KVStore struct {
	client *redis.Client
	prefix string
}

// NewKVStore creates a Redis-backed store for one partition (e.g. a device id).
func NewKVStore(client *redis.Client, namespace, partition string) *KVStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if partition == "" {
		partition = "default"
	}
	return &KVStore{
		client: client,
		prefix: namespace + ":" + partition + ":",
	}
}

// Get returns the value stored under key or domain.ErrNotFound.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

// Set stores value under key without expiry.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys in one round trip. Missing keys are ignored.
func (s *KVStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// Ping checks if the Redis backend is healthy.
func (s *KVStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Keys lists the unprefixed keys present in this partition.
func (s *KVStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(s.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}

// Connect parses a redis:// URL and verifies the server is reachable.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
