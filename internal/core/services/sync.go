package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.SyncService = (*SyncEngine)(nil)

// DefaultRetryDelay is the wait before the single follow-up pass scheduled
// after a pass with failures.
const DefaultRetryDelay = 60 * time.Second

// syncLockName is the distributed lock guarding one storage partition.
const syncLockName = "offline-queue"

// SyncEngine replays the offline queue when connectivity returns or when
// asked to, and reconciles the entity cache with server responses.
//
// A replay pass runs:
//  1. In-flight guard (one pass per engine)
//  2. Optional distributed lock (one pass per storage partition)
//  3. Queue replay through the transport, reconciling each success
//  4. Persist sync_info
//  5. Schedule one delayed retry if anything failed
type SyncEngine struct {
	queue     *ActionQueue
	cache     *EntityCache
	resolver  *ConflictResolver
	transport driven.Transport
	monitor   driving.ConnectivityMonitor
	store     driven.KeyValueStore
	lock      driven.DistributedLock
	logger    *slog.Logger
	now       func() time.Time

	retryDelay   time.Duration
	lockTTL      time.Duration
	lockRequired bool

	reconcilers map[string]Reconciler

	mu          sync.Mutex
	running     bool
	paused      bool
	baseCtx     context.Context
	retryTimer  *time.Timer
	unsubscribe func()
	lastInfo    *domain.SyncInfo
}

// SyncEngineConfig holds dependencies for SyncEngine.
type SyncEngineConfig struct {
	Queue        *ActionQueue
	Cache        *EntityCache
	Resolver     *ConflictResolver // Default: NewConflictResolver()
	Transport    driven.Transport
	Monitor      driving.ConnectivityMonitor
	Store        driven.KeyValueStore   // Persists sync_info
	Lock         driven.DistributedLock // Optional: guards a shared storage partition
	Logger       *slog.Logger
	Clock        func() time.Time
	RetryDelay   time.Duration // Delay before the follow-up pass (default: 60s)
	LockTTL      time.Duration // TTL for the distributed lock (default: 5m)
	LockRequired bool          // If true, skip the pass when the lock backend errors
}

// NewSyncEngine creates a new sync engine.
func NewSyncEngine(cfg SyncEngineConfig) *SyncEngine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = NewConflictResolver()
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = DefaultRetryDelay
	}
	lockTTL := cfg.LockTTL
	if lockTTL == 0 {
		lockTTL = 5 * time.Minute
	}

	e := &SyncEngine{
		queue:        cfg.Queue,
		cache:        cfg.Cache,
		resolver:     resolver,
		transport:    cfg.Transport,
		monitor:      cfg.Monitor,
		store:        cfg.Store,
		lock:         cfg.Lock,
		logger:       logger.With("component", "sync_engine"),
		now:          clock,
		retryDelay:   retryDelay,
		lockTTL:      lockTTL,
		lockRequired: cfg.LockRequired,
		baseCtx:      context.Background(),
	}
	e.reconcilers = map[string]Reconciler{
		domain.EntityTypeAppointment:  &appointmentReconciler{cache: cfg.Cache, logger: e.logger},
		domain.EntityTypeNotification: &notificationReconciler{cache: cfg.Cache},
	}
	return e
}

// RegisterReconciler sets the cache reconciler for an entity type.
func (e *SyncEngine) RegisterReconciler(entityType string, r Reconciler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconcilers[entityType] = r
}

// Start subscribes to the monitor and replays on every
// disconnected-to-connected transition. ctx bounds background passes.
func (e *SyncEngine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.unsubscribe != nil {
		e.mu.Unlock()
		return
	}
	e.baseCtx = ctx
	e.mu.Unlock()

	var prevMu sync.Mutex
	prev, seen := false, false
	unsubscribe := e.monitor.AddListener(func(connected bool) {
		prevMu.Lock()
		reconnected := seen && !prev && connected
		prev, seen = connected, true
		prevMu.Unlock()

		if reconnected {
			e.logger.Info("connectivity restored, replaying offline queue")
			go e.runBackground(domain.SyncTriggerReconnect)
		}
	})

	e.mu.Lock()
	e.unsubscribe = unsubscribe
	e.mu.Unlock()
}

// Stop removes the monitor subscription and cancels any scheduled retry.
func (e *SyncEngine) Stop() {
	e.mu.Lock()
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// QueueAction defers a mutation.
func (e *SyncEngine) QueueAction(ctx context.Context, action domain.Action) (string, error) {
	return e.queue.QueueAction(ctx, action)
}

// GetPendingActionsCount returns the queue length.
func (e *SyncEngine) GetPendingActionsCount(ctx context.Context) int {
	return e.queue.GetPendingActionsCount(ctx)
}

// ListPendingActions returns queued actions in replay order.
func (e *SyncEngine) ListPendingActions(ctx context.Context) []domain.PendingAction {
	return e.queue.ListPendingActions(ctx)
}

// ListDeadLetters returns expired actions.
func (e *SyncEngine) ListDeadLetters(ctx context.Context) []domain.PendingAction {
	return e.queue.ListDeadLetters(ctx)
}

// DiscardAction drops one action.
func (e *SyncEngine) DiscardAction(ctx context.Context, actionID string) error {
	return e.queue.DiscardAction(ctx, actionID)
}

// ClearPendingActions drops every queued action.
func (e *SyncEngine) ClearPendingActions(ctx context.Context) error {
	return e.queue.ClearPendingActions(ctx)
}

// Resume clears the paused flag after re-authentication.
func (e *SyncEngine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
}

// SyncOfflineActions runs a manual replay pass.
func (e *SyncEngine) SyncOfflineActions(ctx context.Context) (*domain.SyncReport, error) {
	return e.Sync(ctx, domain.SyncTriggerManual)
}

// Sync runs one replay pass. It returns domain.ErrSyncInProgress when a pass
// is already running here or, with a lock configured, in another process.
// After an authentication failure only manual passes run until Resume.
func (e *SyncEngine) Sync(ctx context.Context, trigger domain.SyncTrigger) (*domain.SyncReport, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.logger.Debug("sync already in progress, ignoring trigger", "trigger", trigger)
		return nil, domain.ErrSyncInProgress
	}
	if e.paused && trigger != domain.SyncTriggerManual {
		e.mu.Unlock()
		e.logger.Debug("sync paused, ignoring trigger", "trigger", trigger)
		return nil, fmt.Errorf("sync paused: %w", domain.ErrUnauthorized)
	}
	e.running = true
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	if !e.monitor.IsNetworkConnected() {
		return nil, domain.ErrOffline
	}

	if e.lock != nil {
		acquired, err := e.lock.Acquire(ctx, syncLockName, e.lockTTL)
		if err != nil {
			e.logger.Warn("failed to acquire sync lock", "error", err)
			if e.lockRequired {
				return nil, fmt.Errorf("acquire sync lock: %w", err)
			}
		} else if !acquired {
			e.logger.Info("sync lock held by another instance, skipping pass")
			return nil, domain.ErrSyncInProgress
		} else {
			defer func() {
				if err := e.lock.Release(context.WithoutCancel(ctx), syncLockName); err != nil {
					e.logger.Warn("failed to release sync lock", "error", err)
				}
			}()
		}
	}

	start := e.now()
	e.logger.Info("starting sync", "trigger", trigger)

	result, err := e.queue.ProcessPendingActions(ctx, e.transport, e.reconcile)

	report := &domain.SyncReport{
		Trigger:   trigger,
		Result:    result,
		StartedAt: start,
		Duration:  e.now().Sub(start),
	}

	if err != nil && domain.IsAuthError(err) {
		report.Paused = true
		e.mu.Lock()
		e.paused = true
		e.mu.Unlock()
		e.logger.Warn("sync paused pending re-authentication", "error", err)
	} else if err == nil {
		e.mu.Lock()
		e.paused = false
		e.mu.Unlock()
	}

	if len(result.Failed) > 0 && !report.Paused {
		report.RetryScheduled = e.scheduleRetry()
	}

	e.saveInfo(context.WithoutCancel(ctx), report, err)

	e.logger.Info("sync completed",
		"trigger", trigger,
		"success", len(result.Success),
		"failed", len(result.Failed),
		"expired", len(result.Expired),
		"retry_scheduled", report.RetryScheduled,
		"duration", report.Duration,
	)

	if err != nil {
		return report, err
	}
	return report, nil
}

// runBackground runs a pass outside any caller, logging instead of returning errors.
func (e *SyncEngine) runBackground(trigger domain.SyncTrigger) {
	e.mu.Lock()
	ctx := e.baseCtx
	e.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if _, err := e.Sync(ctx, trigger); err != nil {
		switch {
		case errors.Is(err, domain.ErrSyncInProgress):
			e.logger.Debug("background sync skipped", "trigger", trigger, "reason", err)
		case errors.Is(err, domain.ErrOffline):
			e.logger.Info("background sync skipped, offline", "trigger", trigger)
		case domain.IsAuthError(err):
			e.logger.Info("background sync skipped, awaiting re-authentication", "trigger", trigger)
		default:
			e.logger.Warn("background sync failed", "trigger", trigger, "error", err)
		}
	}
}

// scheduleRetry arms a single delayed pass. It is a no-op if one is armed.
func (e *SyncEngine) scheduleRetry() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.retryTimer != nil {
		return true
	}
	e.retryTimer = time.AfterFunc(e.retryDelay, func() {
		e.mu.Lock()
		e.retryTimer = nil
		e.mu.Unlock()

		if !e.monitor.IsNetworkConnected() {
			e.logger.Info("skipping scheduled retry, offline")
			return
		}
		e.runBackground(domain.SyncTriggerRetry)
	})
	e.logger.Info("retry scheduled", "delay", e.retryDelay)
	return true
}

// RetryScheduled reports whether a follow-up pass is armed.
func (e *SyncEngine) RetryScheduled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retryTimer != nil
}

// reconcile resolves the conflict strategy for a replayed action and applies
// the server response to the cache.
func (e *SyncEngine) reconcile(ctx context.Context, action domain.PendingAction, response json.RawMessage) {
	e.mu.Lock()
	r, ok := e.reconcilers[action.EntityType]
	e.mu.Unlock()
	if !ok || e.cache == nil {
		return
	}

	strategy := e.resolver.Resolve(domain.ConflictInput{Action: action, ServerData: response})
	if err := r.Reconcile(ctx, action, strategy, response); err != nil {
		e.logger.Warn("failed to reconcile cache",
			"action_id", action.ID,
			"entity_type", action.EntityType,
			"entity_id", action.EntityID,
			"strategy", strategy,
			"error", err,
		)
	}
}

// Status returns the current engine state.
func (e *SyncEngine) Status(ctx context.Context) *domain.SyncState {
	e.mu.Lock()
	state := &domain.SyncState{
		Status:         domain.SyncStatusIdle,
		RetryScheduled: e.retryTimer != nil,
		Info:           e.lastInfo,
	}
	if e.running {
		state.Status = domain.SyncStatusRunning
	} else if e.paused {
		state.Status = domain.SyncStatusPaused
	}
	e.mu.Unlock()

	state.Connected = e.monitor.IsNetworkConnected()
	state.Pending = e.queue.GetPendingActionsCount(ctx)
	state.DeadLetters = len(e.queue.ListDeadLetters(ctx))
	if state.Info == nil {
		state.Info = e.loadInfo(ctx)
	}
	return state
}

func (e *SyncEngine) saveInfo(ctx context.Context, report *domain.SyncReport, syncErr error) {
	at := report.StartedAt
	info := &domain.SyncInfo{
		LastSyncAt:  &at,
		Trigger:     report.Trigger,
		LastSuccess: len(report.Result.Success),
		LastFailed:  len(report.Result.Failed),
		LastExpired: len(report.Result.Expired),
		Pending:     e.queue.GetPendingActionsCount(ctx),
	}
	if syncErr != nil {
		info.LastError = syncErr.Error()
	} else if n := len(report.Result.Failed); n > 0 {
		info.LastError = report.Result.Failed[n-1].LastError
	}

	e.mu.Lock()
	e.lastInfo = info
	e.mu.Unlock()

	if e.store == nil {
		return
	}
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := e.store.Set(ctx, domain.KeySyncInfo, data); err != nil {
		e.logger.Warn("failed to persist sync info", "error", err)
	}
}

func (e *SyncEngine) loadInfo(ctx context.Context) *domain.SyncInfo {
	if e.store == nil {
		return nil
	}
	data, err := e.store.Get(ctx, domain.KeySyncInfo)
	if err != nil {
		return nil
	}
	var info domain.SyncInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil
	}
	return &info
}
