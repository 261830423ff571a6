package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driving"
)

// Poller is a background loop feeding the connectivity monitor.
type Poller interface {
	Start(ctx context.Context)
	Stop()
}

// Engine replays the offline queue on reconnect.
type Engine interface {
	Start(ctx context.Context)
	Stop()
	Sync(ctx context.Context, trigger domain.SyncTrigger) (*domain.SyncReport, error)
	GetPendingActionsCount(ctx context.Context) int
}

// Scheduler triggers periodic passes.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
}

// QueueStatusSink receives live queue positions.
type QueueStatusSink interface {
	StoreQueueStatus(ctx context.Context, status domain.QueueStatus) error
}

// Runner is a blocking service such as the status server.
type Runner interface {
	Run(ctx context.Context) error
}

// Pinger checks a backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Worker owns the agent's background activity: connectivity polling,
// reconnect replay, periodic sync, the queue-status stream and the local
// status server.
type Worker struct {
	monitor   driving.ConnectivityMonitor
	poller    Poller // can be nil
	engine    Engine
	scheduler Scheduler // can be nil
	stream    driven.QueueStatusSource
	sink      QueueStatusSink
	server    Runner // can be nil
	store     Pinger
	logger    *slog.Logger

	// Internal state
	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	errs    []error
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	Monitor   driving.ConnectivityMonitor
	Poller    Poller
	Engine    Engine
	Scheduler Scheduler
	Stream    driven.QueueStatusSource // Optional, requires Sink
	Sink      QueueStatusSink
	Server    Runner
	Store     Pinger
	Logger    *slog.Logger
}

// NewWorker creates a new agent worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		monitor:   cfg.Monitor,
		poller:    cfg.Poller,
		engine:    cfg.Engine,
		scheduler: cfg.Scheduler,
		stream:    cfg.Stream,
		sink:      cfg.Sink,
		server:    cfg.Server,
		store:     cfg.Store,
		logger:    logger.With("component", "worker"),
	}
}

// Start initializes connectivity, subscribes the engine and launches the
// background loops. It returns once everything is running; use Wait or
// Stop to block on shutdown.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	w.logger.Info("worker starting")

	if err := w.monitor.Initialize(ctx); err != nil {
		// The monitor falls back to connected, so keep going
		w.logger.Warn("connectivity monitor degraded", "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	if w.poller != nil {
		w.poller.Start(ctx)
	}
	w.engine.Start(ctx)

	if w.scheduler != nil {
		if err := w.scheduler.Start(ctx); err != nil {
			w.logger.Error("failed to start scheduler", "error", err)
		}
	}

	var wg sync.WaitGroup
	if w.stream != nil && w.sink != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.runStream(ctx)
		}()
	}
	if w.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.server.Run(ctx); err != nil {
				w.logger.Error("status server stopped", "error", err)
				w.recordErr(err)
			}
		}()
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		<-ctx.Done()
		close(doneCh)
	}()

	w.mu.Lock()
	w.running = true
	w.cancel = cancel
	w.doneCh = doneCh
	w.mu.Unlock()

	// Pick up anything queued before the last shutdown
	if w.monitor.IsNetworkConnected() && w.engine.GetPendingActionsCount(ctx) > 0 {
		go w.syncOnStartup(ctx)
	}

	w.logger.Info("worker started",
		"connected", w.monitor.IsNetworkConnected(),
		"stream", w.stream != nil,
		"server", w.server != nil,
	)
	return nil
}

func (w *Worker) syncOnStartup(ctx context.Context) {
	_, err := w.engine.Sync(ctx, domain.SyncTriggerStartup)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSyncInProgress), errors.Is(err, domain.ErrOffline):
		w.logger.Debug("startup sync skipped", "reason", err)
	case domain.IsAuthError(err):
		w.logger.Info("startup sync paused, sign in to resume", "reason", err)
	default:
		w.logger.Warn("startup sync failed", "error", err)
	}
}

func (w *Worker) runStream(ctx context.Context) {
	err := w.stream.Run(ctx, func(ctx context.Context, status domain.QueueStatus) {
		if err := w.sink.StoreQueueStatus(ctx, status); err != nil {
			w.logger.Warn("failed to cache queue status", "department_id", status.DepartmentID, "error", err)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("queue stream stopped", "error", err)
		w.recordErr(err)
	}
}

func (w *Worker) recordErr(err error) {
	w.mu.Lock()
	w.errs = append(w.errs, err)
	w.mu.Unlock()
}

// Stop cancels the background loops and waits for them to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, doneCh := w.cancel, w.doneCh
	w.mu.Unlock()

	if w.scheduler != nil {
		w.scheduler.Stop()
	}
	w.engine.Stop()
	if w.poller != nil {
		w.poller.Stop()
	}
	w.monitor.Cleanup()

	cancel()
	<-doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	w.mu.RLock()
	doneCh := w.doneCh
	w.mu.RUnlock()
	if doneCh != nil {
		<-doneCh
	}
}

// Health returns health status of the worker.
type Health struct {
	Running      bool   `json:"running"`
	Connected    bool   `json:"connected"`
	Pending      int    `json:"pending"`
	StorageOK    bool   `json:"storage_ok"`
	Error        string `json:"error,omitempty"`
	ServiceError string `json:"service_error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	serviceErr := errors.Join(w.errs...)
	w.mu.RUnlock()

	health := Health{
		Running:   running,
		Connected: w.monitor.IsNetworkConnected(),
		Pending:   w.engine.GetPendingActionsCount(ctx),
	}
	if serviceErr != nil {
		health.ServiceError = serviceErr.Error()
	}

	if w.store == nil {
		health.StorageOK = true
	} else if err := w.store.Ping(ctx); err != nil {
		health.Error = err.Error()
	} else {
		health.StorageOK = true
	}
	return health
}
