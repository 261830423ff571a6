package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockDistributedLock is an in-memory replay lock. Hooks override the
// default behavior when set.
type MockDistributedLock struct {
	mu       sync.Mutex
	expiries map[string]time.Time
	acquired int

	AcquireFn func(name string, ttl time.Duration) (bool, error)
	ReleaseFn func(name string) error
	ExtendFn  func(name string, ttl time.Duration) error
	PingFn    func() error
}

// NewMockDistributedLock creates a lock with no holders.
func NewMockDistributedLock() *MockDistributedLock {
	return &MockDistributedLock{expiries: make(map[string]time.Time)}
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if m.AcquireFn != nil {
		return m.AcquireFn(name, ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.heldLocked(name) {
		return false, nil
	}
	m.expiries[name] = time.Now().Add(ttl)
	m.acquired++
	return true, nil
}

func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	if m.ReleaseFn != nil {
		return m.ReleaseFn(name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.expiries, name)
	return nil
}

func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	if m.ExtendFn != nil {
		return m.ExtendFn(name, ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.heldLocked(name) {
		return fmt.Errorf("lock %s not held", name)
	}
	m.expiries[name] = time.Now().Add(ttl)
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

// HoldElsewhere marks name as taken by another process replaying the
// same partition.
func (m *MockDistributedLock) HoldElsewhere(name string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiries[name] = time.Now().Add(ttl)
}

// Held reports whether name is currently taken.
func (m *MockDistributedLock) Held(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heldLocked(name)
}

// Acquisitions counts successful Acquire calls that used the in-memory state.
func (m *MockDistributedLock) Acquisitions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired
}

func (m *MockDistributedLock) heldLocked(name string) bool {
	expiry, ok := m.expiries[name]
	return ok && time.Now().Before(expiry)
}
