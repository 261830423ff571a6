package mocks

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
)

// MockAPIClient is a scripted OfflineAwareClient. Responses and errors are
// keyed by "METHOD path".
type MockAPIClient struct {
	mu        sync.Mutex
	responses map[string]any
	errors    map[string]error
	requests  []string
	bodies    map[string]any

	// Offline makes the offline-aware verbs queue into Queue
	Offline bool
	Queue   driven.OfflineQueue
}

// NewMockAPIClient creates a new MockAPIClient
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{
		responses: make(map[string]any),
		errors:    make(map[string]error),
		bodies:    make(map[string]any),
		Queue:     NewMockOfflineQueue(),
	}
}

// On scripts the response for "METHOD path".
func (m *MockAPIClient) On(route string, response any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[route] = response
}

// Fail scripts an error for "METHOD path".
func (m *MockAPIClient) Fail(route string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[route] = err
}

// Requests returns the routes called, in order.
func (m *MockAPIClient) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.requests))
	copy(out, m.requests)
	return out
}

// Body returns the last body sent to route.
func (m *MockAPIClient) Body(route string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bodies[route]
}

func (m *MockAPIClient) do(route string, body, out any) (json.RawMessage, error) {
	m.mu.Lock()
	m.requests = append(m.requests, route)
	if body != nil {
		m.bodies[route] = body
	}
	err := m.errors[route]
	resp, ok := m.responses[route]
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (m *MockAPIClient) Get(ctx context.Context, path string, out any) error {
	_, err := m.do("GET "+path, nil, out)
	return err
}

func (m *MockAPIClient) Post(ctx context.Context, path string, body, out any) error {
	_, err := m.do("POST "+path, body, out)
	return err
}

func (m *MockAPIClient) Put(ctx context.Context, path string, body, out any) error {
	_, err := m.do("PUT "+path, body, out)
	return err
}

func (m *MockAPIClient) Delete(ctx context.Context, path string, out any) error {
	_, err := m.do("DELETE "+path, nil, out)
	return err
}

func (m *MockAPIClient) mutate(ctx context.Context, action domain.Action) (*domain.MutationResponse, error) {
	if m.Offline {
		id, err := m.Queue.QueueAction(ctx, action)
		if err != nil {
			return nil, err
		}
		return &domain.MutationResponse{
			StatusCode: http.StatusAccepted,
			Offline:    true,
			ActionID:   id,
			Message:    "queued",
		}, nil
	}
	data, err := m.do(string(action.Method())+" "+action.Endpoint(), action.Payload(), nil)
	if err != nil {
		return nil, err
	}
	return &domain.MutationResponse{StatusCode: http.StatusOK, Data: data}, nil
}

func (m *MockAPIClient) PostWithOfflineSupport(ctx context.Context, action domain.Action) (*domain.MutationResponse, error) {
	return m.mutate(ctx, action)
}

func (m *MockAPIClient) PutWithOfflineSupport(ctx context.Context, action domain.Action) (*domain.MutationResponse, error) {
	return m.mutate(ctx, action)
}

func (m *MockAPIClient) DeleteWithOfflineSupport(ctx context.Context, action domain.Action) (*domain.MutationResponse, error) {
	return m.mutate(ctx, action)
}
