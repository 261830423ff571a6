package mocks

import (
	"context"
	"sync"
)

// MockNetworkSource simulates the platform reachability event source.
type MockNetworkSource struct {
	mu          sync.Mutex
	connected   bool
	subscribers map[int]func(bool)
	nextID      int

	CurrentErr   error
	SubscribeErr error

	// Unsubscribed counts how many subscriptions were removed
	Unsubscribed int
}

// NewMockNetworkSource creates a source that reports connected.
func NewMockNetworkSource(connected bool) *MockNetworkSource {
	return &MockNetworkSource{
		connected:   connected,
		subscribers: make(map[int]func(bool)),
	}
}

func (m *MockNetworkSource) Current(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CurrentErr != nil {
		return false, m.CurrentErr
	}
	return m.connected, nil
}

func (m *MockNetworkSource) Subscribe(fn func(bool)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubscribeErr != nil {
		return nil, m.SubscribeErr
	}
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subscribers, id)
			m.Unsubscribed++
		})
	}, nil
}

// Emit reports connected to all subscribers, as the OS would.
func (m *MockNetworkSource) Emit(connected bool) {
	m.mu.Lock()
	m.connected = connected
	fns := make([]func(bool), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (m *MockNetworkSource) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}
