package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

// MockOfflineQueue collects queued actions in memory.
type MockOfflineQueue struct {
	mu      sync.Mutex
	actions []domain.Action

	QueueErr error
}

// NewMockOfflineQueue creates a new MockOfflineQueue
func NewMockOfflineQueue() *MockOfflineQueue {
	return &MockOfflineQueue{}
}

func (m *MockOfflineQueue) QueueAction(ctx context.Context, action domain.Action) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueueErr != nil {
		return "", m.QueueErr
	}
	m.actions = append(m.actions, action)
	return fmt.Sprintf("action-%d", len(m.actions)), nil
}

// Actions returns the queued actions in order.
func (m *MockOfflineQueue) Actions() []domain.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Action, len(m.actions))
	copy(out, m.actions)
	return out
}
