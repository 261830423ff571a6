package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

// Syncer runs one replay pass.
type Syncer interface {
	Sync(ctx context.Context, trigger domain.SyncTrigger) (*domain.SyncReport, error)
}

// Scheduler triggers periodic replay passes on top of the reconnect edge.
// Overlap with other passes is handled by the engine's in-flight guard.
type Scheduler struct {
	syncer Syncer
	logger *slog.Logger

	// Internal state
	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	interval time.Duration
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Syncer   Syncer
	Logger   *slog.Logger
	Interval time.Duration // How often to replay (default: 5m)
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Scheduler{
		syncer:   cfg.Syncer,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the scheduler loop.
// It runs until Stop is called or context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler starting", "interval", s.interval)

	go s.run(ctx)

	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	report, err := s.syncer.Sync(ctx, domain.SyncTriggerPeriodic)
	switch {
	case errors.Is(err, domain.ErrSyncInProgress), errors.Is(err, domain.ErrOffline), domain.IsAuthError(err):
		s.logger.Debug("periodic sync skipped", "reason", err)
	case err != nil:
		s.logger.Warn("periodic sync failed", "error", err)
	case report != nil && len(report.Result.Success)+len(report.Result.Failed) > 0:
		s.logger.Info("periodic sync ran",
			"success", len(report.Result.Success),
			"failed", len(report.Result.Failed),
		)
	}
}
