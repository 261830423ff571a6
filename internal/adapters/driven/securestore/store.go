package securestore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.KeyValueStore = (*Store)(nil)

// Store wraps a KeyValueStore and encrypts the values of selected keys.
// Other keys pass through untouched.
type Store struct {
	inner     driven.KeyValueStore
	cipher    *Cipher
	sensitive map[string]bool
	logger    *slog.Logger
}

// Config holds configuration for the encrypting store.
type Config struct {
	Inner  driven.KeyValueStore
	Cipher *Cipher
	Keys   []string // Keys to encrypt (default: domain.SensitiveKeys)
	Logger *slog.Logger
}

// New creates an encrypting store.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keys := cfg.Keys
	if keys == nil {
		keys = domain.SensitiveKeys
	}
	sensitive := make(map[string]bool, len(keys))
	for _, k := range keys {
		sensitive[k] = true
	}
	return &Store{
		inner:     cfg.Inner,
		cipher:    cfg.Cipher,
		sensitive: sensitive,
		logger:    logger.With("component", "secure_store"),
	}
}

// Get returns the decrypted value under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.inner.Get(ctx, key)
	if err != nil || !s.sensitive[key] {
		return value, err
	}

	plaintext, err := s.cipher.Open(key, value)
	if err != nil {
		s.logger.Warn("failed to decrypt stored value", "key", key, "error", err)
		return nil, fmt.Errorf("decrypt %s: %w", key, err)
	}
	return plaintext, nil
}

// Set encrypts value when key is sensitive and writes it.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if !s.sensitive[key] {
		return s.inner.Set(ctx, key, value)
	}

	blob, err := s.cipher.Seal(key, value)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", key, err)
	}
	return s.inner.Set(ctx, key, blob)
}

// Delete removes the given keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return s.inner.Delete(ctx, keys...)
}

// Ping checks the wrapped store.
func (s *Store) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}
