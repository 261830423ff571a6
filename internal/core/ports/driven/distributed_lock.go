package driven

import (
	"context"
	"time"
)

// DistributedLock serializes offline-queue replay across processes that
// share one storage partition, such as several workers on the same device
// profile backed by redis or postgres. The sync engine takes it around each
// pass so a queued action is never dispatched twice concurrently.
type DistributedLock interface {
	// Acquire takes the named lock for ttl. It reports false without error
	// when another process is already replaying the partition.
	// A crashed holder loses the lock once ttl elapses.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release gives the lock back after a pass. Releasing a lock that is not
	// held or already expired is not an error.
	Release(ctx context.Context, name string) error

	// Extend pushes out the expiry of a lock this process holds, for passes
	// that outlive their ttl. Backends without expiry (postgres advisory
	// locks) only check ownership.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks the lock backend.
	Ping(ctx context.Context) error
}
