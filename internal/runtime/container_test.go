package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carequeue-sync/internal/adapters/driven/memory"
	"github.com/custodia-labs/carequeue-sync/internal/config"
	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// backend is a minimal hospital API: a health endpoint that can be
// toggled and an appointment create endpoint that records requests.
type backend struct {
	*httptest.Server
	healthy atomic.Bool

	mu       sync.Mutex
	creates  int
	idemKeys []string
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{}
	b.healthy.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if !b.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /appointments", func(w http.ResponseWriter, r *http.Request) {
		var in domain.AppointmentInput
		_ = json.NewDecoder(r.Body).Decode(&in)

		b.mu.Lock()
		b.creates++
		b.idemKeys = append(b.idemKeys, r.Header.Get("Idempotency-Key"))
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(domain.AppointmentRecord{
			ID:           "apt-100",
			PatientID:    in.PatientID,
			DepartmentID: in.DepartmentID,
			Urgency:      in.Urgency,
			Status:       "scheduled",
			Version:      1,
		})
	})

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Device.ID = "test-device"
	cfg.API.BaseURL = baseURL
	cfg.Storage.Backend = config.BackendMemory
	return cfg
}

func TestNew_MemoryBackend(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")

	c, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Store)
	assert.Nil(t, c.Lock, "single-device storage has no distributed lock")
	assert.NotNil(t, c.Engine)
	assert.NotNil(t, c.Auth)
	assert.NotNil(t, c.Appointments)
	assert.NotNil(t, c.Notifications)
	assert.Nil(t, c.Scheduler, "periodic sync is off by default")
	assert.NotNil(t, c.Stream)
	assert.NotNil(t, c.Server)
}

func TestNew_OptionalComponentsDisabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Realtime.Enabled = false
	cfg.Server.Enabled = false
	cfg.Sync.IntervalSec = 60

	c, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Stream)
	assert.Nil(t, c.Server)
	assert.NotNil(t, c.Scheduler)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig("")

	_, err := New(context.Background(), cfg, discardLogger())
	assert.ErrorContains(t, err, "invalid config")
}

func TestNew_SQLiteBackend(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Storage.Backend = config.BackendSQLite
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "agent.db")
	ctx := context.Background()

	c, err := New(ctx, cfg, discardLogger())
	require.NoError(t, err)
	_, err = c.Queue.QueueAction(ctx, domain.DeleteAppointmentAction{ID: "apt-1"})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	// A second agent on the same file sees the queued action
	c, err = New(ctx, cfg, discardLogger())
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 1, c.Queue.GetPendingActionsCount(ctx))
}

func TestNew_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Storage.Backend = config.BackendRedis
	cfg.Storage.RedisURL = "redis://" + mr.Addr()
	ctx := context.Background()

	c, err := New(ctx, cfg, discardLogger())
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.Lock, "shared storage provides a distributed lock")
	_, err = c.Queue.QueueAction(ctx, domain.DeleteAppointmentAction{ID: "apt-1"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("carequeue:test-device:"+domain.KeyOfflineQueue))
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Storage.Backend = config.BackendRedis
	cfg.Storage.RedisURL = "redis://127.0.0.1:1"

	_, err := New(context.Background(), cfg, discardLogger())
	assert.ErrorContains(t, err, "connect redis")
}

func TestNew_EncryptsCredentials(t *testing.T) {
	raw := memory.NewKVStore()
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Storage.EncryptionSecret = "correct horse battery staple"
	ctx := context.Background()

	c, err := New(ctx, cfg, discardLogger(), WithStore(raw))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Client.SetAccessToken(ctx, "tok-secret"))

	stored, err := raw.Get(ctx, domain.KeyAccessToken)
	require.NoError(t, err)
	assert.NotContains(t, string(stored), "tok-secret")

	// A fresh agent over the same storage decrypts the token
	c2, err := New(ctx, cfg, discardLogger(), WithStore(raw))
	require.NoError(t, err)
	defer c2.Close()
	assert.Equal(t, "tok-secret", c2.Client.AccessToken())
}

func TestContainer_OfflineCreateReplaysOnReconnect(t *testing.T) {
	api := newBackend(t)
	cfg := testConfig(api.URL)
	ctx := context.Background()

	c, err := New(ctx, cfg, discardLogger())
	require.NoError(t, err)
	defer c.Close()

	api.healthy.Store(false)
	require.NoError(t, c.Monitor.Initialize(ctx))
	defer c.Monitor.Cleanup()
	require.False(t, c.Monitor.IsNetworkConnected())

	result, err := c.Appointments.Create(ctx, domain.AppointmentInput{
		PatientID:    "pat-1",
		DepartmentID: "cardiology",
		Urgency:      domain.UrgencyUrgent,
	})
	require.NoError(t, err)
	require.True(t, result.IsSuccess)
	assert.True(t, result.Offline)
	assert.True(t, domain.IsTempID(result.Data.ID))
	assert.Equal(t, 1, c.Engine.GetPendingActionsCount(ctx))

	api.healthy.Store(true)
	require.True(t, c.Monitor.Refresh(ctx))

	report, err := c.Engine.SyncOfflineActions(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Result.Success, 1)
	assert.Zero(t, c.Engine.GetPendingActionsCount(ctx))

	api.mu.Lock()
	assert.Equal(t, 1, api.creates)
	assert.NotEmpty(t, api.idemKeys[0])
	api.mu.Unlock()

	confirmed, ok := c.Cache.GetAppointment(ctx, "apt-100")
	require.True(t, ok, "temp entry replaced by the server copy")
	assert.Equal(t, "cardiology", confirmed.Data.DepartmentID)
	_, ok = c.Cache.GetAppointment(ctx, result.Data.ID)
	assert.False(t, ok)
}

func TestContainer_StatusServerReportsQueue(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	ctx := context.Background()

	c, err := New(ctx, cfg, discardLogger())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Queue.QueueAction(ctx, domain.DeleteAppointmentAction{ID: "apt-9"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	c.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var state domain.SyncState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, 1, state.Pending)
}
