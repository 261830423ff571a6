package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven/mocks"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testNow}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

// testHarness wires the sync components over in-memory mocks.
type testHarness struct {
	store     *mocks.MockKeyValueStore
	source    *mocks.MockNetworkSource
	transport *mocks.MockTransport
	monitor   *ConnectivityMonitor
	queue     *ActionQueue
	cache     *EntityCache
	engine    *SyncEngine
}

func newTestHarness(t *testing.T, connected bool) *testHarness {
	t.Helper()

	clock := newTestClock()
	logger := discardLogger()
	h := &testHarness{
		store:     mocks.NewMockKeyValueStore(),
		source:    mocks.NewMockNetworkSource(connected),
		transport: mocks.NewMockTransport(),
	}
	h.monitor = NewConnectivityMonitor(ConnectivityMonitorConfig{
		Source: h.source,
		Store:  h.store,
		Logger: logger,
		Clock:  clock.Now,
	})
	if err := h.monitor.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize monitor: %v", err)
	}
	h.queue = NewActionQueue(ActionQueueConfig{Store: h.store, Logger: logger, Clock: clock.Now})
	h.cache = NewEntityCache(EntityCacheConfig{Store: h.store, Logger: logger, Clock: clock.Now})
	h.engine = NewSyncEngine(SyncEngineConfig{
		Queue:      h.queue,
		Cache:      h.cache,
		Transport:  h.transport,
		Monitor:    h.monitor,
		Store:      h.store,
		Logger:     logger,
		Clock:      clock.Now,
		RetryDelay: 20 * time.Millisecond,
	})
	t.Cleanup(func() {
		h.engine.Stop()
		h.monitor.Cleanup()
	})
	return h
}

func (h *testHarness) enqueue(t *testing.T, actions ...domain.Action) []string {
	t.Helper()
	ids := make([]string, 0, len(actions))
	for _, a := range actions {
		id, err := h.queue.QueueAction(context.Background(), a)
		if err != nil {
			t.Fatalf("queue action: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func ptr[T any](v T) *T {
	return &v
}
