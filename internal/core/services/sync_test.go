package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven/mocks"
)

const eventually = 2 * time.Second

func TestNewSyncEngine_Defaults(t *testing.T) {
	e := NewSyncEngine(SyncEngineConfig{})
	assert.NotNil(t, e.logger)
	assert.NotNil(t, e.resolver)
	assert.Equal(t, DefaultRetryDelay, e.retryDelay)
	assert.Equal(t, 5*time.Minute, e.lockTTL)
	assert.Contains(t, e.reconcilers, domain.EntityTypeAppointment)
	assert.Contains(t, e.reconcilers, domain.EntityTypeNotification)
}

func TestSyncEngine_ManualSyncEmptyQueue(t *testing.T) {
	h := newTestHarness(t, true)

	report, err := h.engine.SyncOfflineActions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Result.Success)
	assert.Empty(t, report.Result.Failed)
	assert.False(t, report.RetryScheduled)
	assert.Empty(t, h.transport.Calls())
}

func TestSyncEngine_OfflineSyncIsRefused(t *testing.T) {
	h := newTestHarness(t, false)
	h.enqueue(t, domain.DeleteAppointmentAction{ID: "apt-1"})

	_, err := h.engine.SyncOfflineActions(context.Background())
	assert.ErrorIs(t, err, domain.ErrOffline)
	assert.Empty(t, h.transport.Calls())
	assert.Equal(t, 1, h.engine.GetPendingActionsCount(context.Background()))
}

func TestSyncEngine_ReplaysOnReconnect(t *testing.T) {
	h := newTestHarness(t, false)
	h.enqueue(t,
		domain.UpdateAppointmentAction{ID: "apt-1", Changes: domain.AppointmentChanges{Notes: ptr("x")}},
		domain.DeleteAppointmentAction{ID: "apt-1"},
	)

	h.engine.Start(context.Background())
	h.engine.Start(context.Background())

	h.source.Emit(true)

	require.Eventually(t, func() bool {
		return h.engine.GetPendingActionsCount(context.Background()) == 0
	}, eventually, 5*time.Millisecond)
	assert.Equal(t, []string{"PUT /appointments/apt-1", "DELETE /appointments/apt-1"}, h.transport.Endpoints())
}

func TestSyncEngine_NoReplayWithoutTransition(t *testing.T) {
	h := newTestHarness(t, true)
	h.enqueue(t, domain.DeleteAppointmentAction{ID: "apt-1"})

	h.engine.Start(context.Background())
	h.source.Emit(true)

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, h.transport.Calls())
}

func TestSyncEngine_StopRemovesListener(t *testing.T) {
	h := newTestHarness(t, false)
	h.enqueue(t, domain.DeleteAppointmentAction{ID: "apt-1"})

	h.engine.Start(context.Background())
	h.engine.Stop()
	h.source.Emit(true)

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, h.transport.Calls())
}

func TestSyncEngine_FailureSchedulesOneRetry(t *testing.T) {
	h := newTestHarness(t, true)
	h.enqueue(t, domain.DeleteAppointmentAction{ID: "apt-1"})

	var failures atomic.Int32
	failures.Store(1)
	h.transport.DispatchFn = func(a *domain.PendingAction) (json.RawMessage, error) {
		if failures.Add(-1) >= 0 {
			return nil, networkDown()
		}
		return nil, nil
	}

	report, err := h.engine.SyncOfflineActions(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Result.Failed, 1)
	assert.True(t, report.RetryScheduled)

	require.Eventually(t, func() bool {
		return h.engine.GetPendingActionsCount(context.Background()) == 0
	}, eventually, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return !h.engine.RetryScheduled()
	}, eventually, 5*time.Millisecond)
	assert.Len(t, h.transport.Calls(), 2)
}

func TestSyncEngine_RetrySkippedWhenOffline(t *testing.T) {
	h := newTestHarness(t, true)
	h.enqueue(t, domain.DeleteAppointmentAction{ID: "apt-1"})
	h.transport.DispatchFn = func(a *domain.PendingAction) (json.RawMessage, error) {
		return nil, networkDown()
	}

	report, err := h.engine.SyncOfflineActions(context.Background())
	require.NoError(t, err)
	require.True(t, report.RetryScheduled)

	h.source.Emit(false)
	time.Sleep(60 * time.Millisecond)

	assert.Len(t, h.transport.Calls(), 1)
	assert.False(t, h.engine.RetryScheduled())
}

func TestSyncEngine_ConcurrentSyncIsRejected(t *testing.T) {
	h := newTestHarness(t, true)
	h.enqueue(t, domain.DeleteAppointmentAction{ID: "apt-1"})

	release := make(chan struct{})
	h.transport.DispatchFn = func(a *domain.PendingAction) (json.RawMessage, error) {
		<-release
		return nil, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.SyncOfflineActions(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return len(h.transport.Calls()) == 1 }, eventually, time.Millisecond)

	_, err := h.engine.SyncOfflineActions(context.Background())
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)
	assert.Equal(t, domain.SyncStatusRunning, h.engine.Status(context.Background()).Status)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, h.transport.Calls(), 1)
}

func TestSyncEngine_AuthFailurePauses(t *testing.T) {
	h := newTestHarness(t, true)
	h.enqueue(t, domain.DeleteAppointmentAction{ID: "apt-1"}, domain.DeleteAppointmentAction{ID: "apt-2"})
	h.transport.DispatchFn = func(a *domain.PendingAction) (json.RawMessage, error) {
		return nil, &domain.APIError{StatusCode: 401}
	}

	report, err := h.engine.SyncOfflineActions(context.Background())
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.True(t, report.Paused)
	assert.False(t, report.RetryScheduled)

	state := h.engine.Status(context.Background())
	assert.Equal(t, domain.SyncStatusPaused, state.Status)
	assert.Equal(t, 2, state.Pending)

	h.engine.Resume()
	assert.Equal(t, domain.SyncStatusIdle, h.engine.Status(context.Background()).Status)
}

func TestSyncEngine_PausedEngineSkipsAutomaticPasses(t *testing.T) {
	h := newTestHarness(t, true)
	h.enqueue(t, domain.DeleteAppointmentAction{ID: "apt-1"})

	var unauthorized atomic.Bool
	unauthorized.Store(true)
	h.transport.DispatchFn = func(a *domain.PendingAction) (json.RawMessage, error) {
		if unauthorized.Load() {
			return nil, &domain.APIError{StatusCode: 401}
		}
		return nil, nil
	}

	_, err := h.engine.SyncOfflineActions(context.Background())
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Len(t, h.transport.Calls(), 1)

	for _, trigger := range []domain.SyncTrigger{
		domain.SyncTriggerReconnect,
		domain.SyncTriggerPeriodic,
		domain.SyncTriggerRetry,
		domain.SyncTriggerStartup,
	} {
		report, err := h.engine.Sync(context.Background(), trigger)
		assert.ErrorIs(t, err, domain.ErrUnauthorized, "trigger %s", trigger)
		assert.Nil(t, report, "trigger %s", trigger)
	}
	assert.Len(t, h.transport.Calls(), 1)
	assert.Equal(t, domain.SyncStatusPaused, h.engine.Status(context.Background()).Status)

	unauthorized.Store(false)
	h.engine.Resume()

	report, err := h.engine.Sync(context.Background(), domain.SyncTriggerReconnect)
	require.NoError(t, err)
	assert.Len(t, report.Result.Success, 1)
	assert.Len(t, h.transport.Calls(), 2)
	assert.Equal(t, 0, h.engine.GetPendingActionsCount(context.Background()))
}

func TestSyncEngine_ManualPassRunsWhilePaused(t *testing.T) {
	h := newTestHarness(t, true)
	h.enqueue(t, domain.DeleteAppointmentAction{ID: "apt-1"})

	var calls atomic.Int32
	h.transport.DispatchFn = func(a *domain.PendingAction) (json.RawMessage, error) {
		if calls.Add(1) == 1 {
			return nil, &domain.APIError{StatusCode: 401}
		}
		return nil, nil
	}

	_, err := h.engine.SyncOfflineActions(context.Background())
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	report, err := h.engine.SyncOfflineActions(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Result.Success, 1)
	assert.Equal(t, domain.SyncStatusIdle, h.engine.Status(context.Background()).Status)
}

func TestSyncEngine_LockHeldElsewhere(t *testing.T) {
	h := newTestHarness(t, true)
	h.enqueue(t, domain.DeleteAppointmentAction{ID: "apt-1"})

	lock := mocks.NewMockDistributedLock()
	lock.AcquireFn = func(name string, ttl time.Duration) (bool, error) {
		assert.Equal(t, syncLockName, name)
		return false, nil
	}
	h.engine.lock = lock

	_, err := h.engine.SyncOfflineActions(context.Background())
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)
	assert.Empty(t, h.transport.Calls())
}

func TestSyncEngine_LockReleasedAfterPass(t *testing.T) {
	h := newTestHarness(t, true)
	h.enqueue(t, domain.DeleteAppointmentAction{ID: "apt-1"})

	lock := mocks.NewMockDistributedLock()
	h.engine.lock = lock

	_, err := h.engine.SyncOfflineActions(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, lock.Acquisitions())
	assert.False(t, lock.Held(syncLockName))
}

func TestSyncEngine_PartitionReplayedElsewhere(t *testing.T) {
	h := newTestHarness(t, true)
	h.enqueue(t, domain.DeleteAppointmentAction{ID: "apt-1"})

	lock := mocks.NewMockDistributedLock()
	lock.HoldElsewhere(syncLockName, time.Minute)
	h.engine.lock = lock

	_, err := h.engine.Sync(context.Background(), domain.SyncTriggerPeriodic)
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)
	assert.Empty(t, h.transport.Calls())
	assert.Equal(t, 1, h.engine.GetPendingActionsCount(context.Background()))
	assert.True(t, lock.Held(syncLockName))
}

func TestSyncEngine_LockBackendError(t *testing.T) {
	h := newTestHarness(t, true)
	h.enqueue(t, domain.DeleteAppointmentAction{ID: "apt-1"})

	lock := mocks.NewMockDistributedLock()
	lock.AcquireFn = func(name string, ttl time.Duration) (bool, error) {
		return false, errors.New("redis down")
	}
	h.engine.lock = lock

	// Best effort by default
	_, err := h.engine.SyncOfflineActions(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.transport.Calls(), 1)

	h.enqueue(t, domain.DeleteAppointmentAction{ID: "apt-2"})
	h.engine.lockRequired = true
	_, err = h.engine.SyncOfflineActions(context.Background())
	require.Error(t, err)
	assert.Len(t, h.transport.Calls(), 1)
}

func TestSyncEngine_PersistsSyncInfo(t *testing.T) {
	h := newTestHarness(t, true)
	h.enqueue(t, domain.DeleteAppointmentAction{ID: "apt-1"})

	_, err := h.engine.SyncOfflineActions(context.Background())
	require.NoError(t, err)

	var info domain.SyncInfo
	require.NoError(t, json.Unmarshal(h.store.Raw(domain.KeySyncInfo), &info))
	assert.Equal(t, domain.SyncTriggerManual, info.Trigger)
	assert.Equal(t, 1, info.LastSuccess)
	assert.Equal(t, 0, info.Pending)
	require.NotNil(t, info.LastSyncAt)

	state := h.engine.Status(context.Background())
	assert.True(t, state.Connected)
	require.NotNil(t, state.Info)
	assert.Equal(t, 1, state.Info.LastSuccess)
}

func TestSyncEngine_StatusLoadsPersistedInfo(t *testing.T) {
	h := newTestHarness(t, true)
	h.store.Put(domain.KeySyncInfo, []byte(`{"trigger":"periodic","lastSuccess":3,"lastFailed":0,"lastExpired":0,"pending":0}`))

	state := h.engine.Status(context.Background())
	require.NotNil(t, state.Info)
	assert.Equal(t, domain.SyncTriggerPeriodic, state.Info.Trigger)
	assert.Equal(t, 3, state.Info.LastSuccess)
}

func TestSyncEngine_ReconcilesServerWins(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, true)

	require.NoError(t, h.cache.StoreAppointments(ctx, []domain.Appointment{{ID: "apt-1", Notes: "original"}}))
	require.NoError(t, h.cache.UpdateAppointment(ctx, domain.Appointment{ID: "apt-1", Notes: "local"}))
	h.enqueue(t, domain.UpdateAppointmentAction{ID: "apt-1", Changes: domain.AppointmentChanges{Notes: ptr("local")}})

	h.transport.DispatchFn = func(a *domain.PendingAction) (json.RawMessage, error) {
		return json.RawMessage(`{"id":"apt-1","notes":"edited by reception","version":4}`), nil
	}

	_, err := h.engine.SyncOfflineActions(ctx)
	require.NoError(t, err)

	entry, ok := h.cache.GetAppointment(ctx, "apt-1")
	require.True(t, ok)
	assert.Equal(t, "edited by reception", entry.Data.Notes)
	assert.Equal(t, 4, entry.Version)
	assert.False(t, entry.LocallyModified)
}

func TestSyncEngine_CancelKeepsLocalState(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, true)

	require.NoError(t, h.cache.StoreAppointments(ctx, []domain.Appointment{
		{ID: "apt-1", Status: domain.AppointmentStatusConfirmed, Notes: "local notes"},
	}))
	require.NoError(t, h.cache.UpdateAppointment(ctx, domain.Appointment{ID: "apt-1", Status: domain.AppointmentStatusCancelled}))
	h.enqueue(t, domain.CancelAppointmentAction{ID: "apt-1", Reason: "recovered"})

	// The server answers with a stale copy
	h.transport.DispatchFn = func(a *domain.PendingAction) (json.RawMessage, error) {
		return json.RawMessage(`{"data":{"id":"apt-1","status":"confirmed","notes":"server notes","queue_number":9}}`), nil
	}

	_, err := h.engine.SyncOfflineActions(ctx)
	require.NoError(t, err)

	entry, ok := h.cache.GetAppointment(ctx, "apt-1")
	require.True(t, ok)
	assert.Equal(t, domain.AppointmentStatusCancelled, entry.Data.Status)
	assert.Equal(t, "local notes", entry.Data.Notes)
	assert.Equal(t, 9, entry.Data.QueueNumber)
	assert.False(t, entry.LocallyModified)
}

func TestSyncEngine_DeleteRemovesCachedEntry(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, true)

	require.NoError(t, h.cache.StoreAppointments(ctx, []domain.Appointment{{ID: "apt-1"}, {ID: "apt-2"}}))
	h.enqueue(t, domain.DeleteAppointmentAction{ID: "apt-1"})

	_, err := h.engine.SyncOfflineActions(ctx)
	require.NoError(t, err)

	_, ok := h.cache.GetAppointment(ctx, "apt-1")
	assert.False(t, ok)
	_, ok = h.cache.GetAppointment(ctx, "apt-2")
	assert.True(t, ok)
}

func TestSyncEngine_MarksNotificationRead(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, true)

	require.NoError(t, h.cache.StoreNotifications(ctx, []domain.Notification{{ID: "n-1"}}))
	h.enqueue(t, domain.MarkNotificationReadAction{ID: "n-1"})

	_, err := h.engine.SyncOfflineActions(ctx)
	require.NoError(t, err)

	list, ok := h.cache.GetNotifications(ctx)
	require.True(t, ok)
	assert.True(t, list[0].Read)
}

type recordingReconciler struct {
	strategies []domain.ConflictStrategy
}

func (r *recordingReconciler) Reconcile(ctx context.Context, action domain.PendingAction, strategy domain.ConflictStrategy, response json.RawMessage) error {
	r.strategies = append(r.strategies, strategy)
	return errors.New("ignored")
}

func TestSyncEngine_RegisterReconciler(t *testing.T) {
	h := newTestHarness(t, true)
	rec := &recordingReconciler{}
	h.engine.RegisterReconciler("prescription", rec)
	h.engine.resolver.Register("prescription", func(domain.ConflictInput) domain.ConflictStrategy {
		return domain.Merge
	})

	h.enqueue(t, domain.RawAction{Verb: domain.MethodPut, Path: "/prescriptions/1", Entity: "1", EntityKind: "prescription"})

	report, err := h.engine.SyncOfflineActions(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Result.Success, 1, "reconcile errors do not fail the action")
	assert.Equal(t, []domain.ConflictStrategy{domain.Merge}, rec.strategies)
}
