package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driving"
)

// Verify interface compliance
var (
	_ driving.ConnectivityMonitor = (*ConnectivityMonitor)(nil)
	_ driven.ConnectivityReader   = (*ConnectivityMonitor)(nil)
)

// ConnectivityMonitor holds the last known reachability and fans out
// transitions to listeners. Before the first report it assumes connected.
type ConnectivityMonitor struct {
	source driven.NetworkSource
	store  driven.KeyValueStore // Optional: persists connection_info
	logger *slog.Logger
	now    func() time.Time

	// notifyMu orders listener delivery across concurrent reports
	notifyMu sync.Mutex

	mu          sync.RWMutex
	connected   bool
	unsubscribe func()
	listeners   []listenerEntry
	nextID      uint64
}

type listenerEntry struct {
	id uint64
	fn func(bool)
}

// ConnectivityMonitorConfig holds configuration for the monitor.
type ConnectivityMonitorConfig struct {
	Source driven.NetworkSource
	Store  driven.KeyValueStore
	Logger *slog.Logger
	Clock  func() time.Time
}

// NewConnectivityMonitor creates a monitor. Call Initialize to start
// receiving reports from the source.
func NewConnectivityMonitor(cfg ConnectivityMonitorConfig) *ConnectivityMonitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &ConnectivityMonitor{
		source:    cfg.Source,
		store:     cfg.Store,
		logger:    logger.With("component", "connectivity"),
		now:       clock,
		connected: true,
	}
}

// Initialize reads the current reachability once and subscribes to the
// source. A previous subscription is removed first. If the source fails,
// the monitor falls back to reporting connected.
func (m *ConnectivityMonitor) Initialize(ctx context.Context) error {
	m.Cleanup()

	if m.source == nil {
		m.apply(true)
		return nil
	}

	connected, err := m.source.Current(ctx)
	if err != nil {
		m.logger.Warn("network source unavailable, assuming connected", "error", err)
		connected = true
	}
	m.apply(connected)

	unsubscribe, err := m.source.Subscribe(m.apply)
	if err != nil {
		m.logger.Warn("failed to subscribe to network source, assuming connected", "error", err)
		m.apply(true)
		return fmt.Errorf("subscribe to network source: %w", err)
	}

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	m.logger.Info("connectivity monitor initialized", "connected", m.IsNetworkConnected())
	return nil
}

// Cleanup removes the source subscription.
func (m *ConnectivityMonitor) Cleanup() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// AddListener registers fn and immediately calls it with the current state.
func (m *ConnectivityMonitor) AddListener(fn func(connected bool)) func() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: fn})
	current := m.connected
	m.mu.Unlock()

	m.notify(fn, current)

	var once sync.Once
	return func() {
		once.Do(func() { m.removeListener(id) })
	}
}

func (m *ConnectivityMonitor) removeListener(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.listeners {
		if l.id == id {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}

// IsNetworkConnected returns the last known state.
func (m *ConnectivityMonitor) IsNetworkConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Refresh asks the source for the current state and applies it.
// Used by the HTTP client when a request fails at the network layer.
func (m *ConnectivityMonitor) Refresh(ctx context.Context) bool {
	if m.source != nil {
		connected, err := m.source.Current(ctx)
		if err != nil {
			m.logger.Debug("refresh failed, keeping last state", "error", err)
		} else {
			m.apply(connected)
		}
	}
	return m.IsNetworkConnected()
}

// apply records a report and notifies listeners if it is a transition.
// Listeners see transitions in the order they were recorded. They must not
// call back into AddListener or apply.
func (m *ConnectivityMonitor) apply(connected bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.connected == connected {
		m.mu.Unlock()
		return
	}
	m.connected = connected
	listeners := make([]listenerEntry, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logger.Info("connectivity changed", "connected", connected)
	m.persist(connected)

	for _, l := range listeners {
		m.notify(l.fn, connected)
	}
}

func (m *ConnectivityMonitor) notify(fn func(bool), connected bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("connectivity listener panicked", "panic", r)
		}
	}()
	fn(connected)
}

func (m *ConnectivityMonitor) persist(connected bool) {
	if m.store == nil {
		return
	}
	data, err := json.Marshal(domain.ConnectionInfo{IsConnected: connected, ChangedAt: m.now()})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Set(ctx, domain.KeyConnectionInfo, data); err != nil {
		m.logger.Warn("failed to persist connection info", "error", err)
	}
}
