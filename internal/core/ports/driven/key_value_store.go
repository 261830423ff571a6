package driven

import "context"

// KeyValueStore is durable on-device storage for the sync layer (queue,
// entity cache, tokens). Values are opaque JSON blobs.
type KeyValueStore interface {
	// Get returns the value stored under key.
	// Returns domain.ErrNotFound if the key has never been written or was deleted.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Ping checks if the storage backend is healthy.
	Ping(ctx context.Context) error
}
