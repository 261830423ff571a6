package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

// MockTransport records dispatched actions and returns scripted results.
type MockTransport struct {
	mu    sync.Mutex
	calls []domain.PendingAction

	// DispatchFn decides the outcome per action. Defaults to {"id": action.EntityID}.
	DispatchFn func(action *domain.PendingAction) (json.RawMessage, error)
}

// NewMockTransport creates a new MockTransport
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) Dispatch(ctx context.Context, action *domain.PendingAction) (json.RawMessage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, *action)
	m.mu.Unlock()

	if m.DispatchFn != nil {
		return m.DispatchFn(action)
	}
	return json.RawMessage(`{"id":"` + action.EntityID + `"}`), nil
}

// Calls returns the dispatched actions in order.
func (m *MockTransport) Calls() []domain.PendingAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PendingAction, len(m.calls))
	copy(out, m.calls)
	return out
}

// Endpoints returns "METHOD endpoint" for each dispatched action.
func (m *MockTransport) Endpoints() []string {
	calls := m.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = string(c.Method) + " " + c.Endpoint
	}
	return out
}
