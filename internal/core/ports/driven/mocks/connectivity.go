package mocks

import (
	"context"
	"sync/atomic"
)

// MockConnectivity is a settable ConnectivityReader.
type MockConnectivity struct {
	connected atomic.Bool
	refreshes atomic.Int32

	// RefreshFn overrides Refresh; its result becomes the reported state
	RefreshFn func() bool
}

// NewMockConnectivity creates a reader reporting connected.
func NewMockConnectivity(connected bool) *MockConnectivity {
	m := &MockConnectivity{}
	m.connected.Store(connected)
	return m
}

func (m *MockConnectivity) IsNetworkConnected() bool {
	return m.connected.Load()
}

func (m *MockConnectivity) Refresh(ctx context.Context) bool {
	m.refreshes.Add(1)
	if m.RefreshFn != nil {
		m.connected.Store(m.RefreshFn())
	}
	return m.connected.Load()
}

// Set changes the reported state.
func (m *MockConnectivity) Set(connected bool) {
	m.connected.Store(connected)
}

// Refreshes returns how many times Refresh was called.
func (m *MockConnectivity) Refreshes() int {
	return int(m.refreshes.Load())
}
