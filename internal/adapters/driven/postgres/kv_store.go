package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
	"github.com/lib/pq"
)

// Verify interface compliance
var _ driven.KeyValueStore = (*KVStore)(nil)

// DefaultPartition is used when no partition is configured.
const DefaultPartition = "default"

// KVStore implements driven.KeyValueStore on the kv_store table.
type KVStore struct {
	db        *DB
	partition string
}

// NewKVStore creates a PostgreSQL-backed store for one partition.
func NewKVStore(db *DB, partition string) *KVStore {
	if partition == "" {
		partition = DefaultPartition
	}
	return &KVStore{db: db, partition: partition}
}

// Get returns the value stored under key or domain.ErrNotFound.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_store WHERE partition = $1 AND key = $2`,
		s.partition, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// Set upserts value under key.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_store (partition, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (partition, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()`,
		s.partition, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys in a single statement. Missing keys are ignored.
func (s *KVStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_store WHERE partition = $1 AND key = ANY($2)`,
		s.partition, pq.Array(keys),
	)
	if err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// Ping checks if the database is reachable.
func (s *KVStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Keys lists the keys present in this partition.
func (s *KVStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv_store WHERE partition = $1 ORDER BY key`, s.partition)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
