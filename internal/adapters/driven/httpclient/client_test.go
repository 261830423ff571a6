package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven/mocks"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recorded struct {
	method string
	path   string
	header http.Header
	body   string
}

type backend struct {
	mu       sync.Mutex
	requests []recorded
	server   *httptest.Server
}

func newBackend(t *testing.T, handler http.HandlerFunc) *backend {
	t.Helper()
	b := &backend{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.requests = append(b.requests, recorded{r.Method, r.URL.Path, r.Header.Clone(), string(body)})
		b.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *backend) last() recorded {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		return recorded{}
	}
	return b.requests[len(b.requests)-1]
}

func (b *backend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

type fixture struct {
	client *Client
	store  *mocks.MockKeyValueStore
	queue  *mocks.MockOfflineQueue
	conn   *mocks.MockConnectivity
}

func newFixture(t *testing.T, baseURL string, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		store: mocks.NewMockKeyValueStore(),
		queue: mocks.NewMockOfflineQueue(),
		conn:  mocks.NewMockConnectivity(true),
	}
	cfg := Config{
		BaseURL:      baseURL,
		Timeout:      2 * time.Second,
		Store:        f.store,
		Queue:        f.queue,
		Connectivity: f.conn,
		Clock:        func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.client = New(context.Background(), cfg)
	return f
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestClient_LoadsStoredTokenAtConstruction(t *testing.T) {
	b := newBackend(t, jsonHandler(http.StatusOK, `[]`))
	store := mocks.NewMockKeyValueStore()
	require.NoError(t, store.Set(context.Background(), domain.KeyAccessToken, []byte("tok-1")))

	c := New(context.Background(), Config{BaseURL: b.server.URL, Store: store})

	var out []domain.AppointmentRecord
	require.NoError(t, c.Get(context.Background(), "/appointments", &out))
	assert.Equal(t, "Bearer tok-1", b.last().header.Get("Authorization"))
}

func TestClient_NoTokenNoHeader(t *testing.T) {
	b := newBackend(t, jsonHandler(http.StatusOK, `{}`))
	f := newFixture(t, b.server.URL, nil)

	require.NoError(t, f.client.Get(context.Background(), "/health", nil))
	assert.Empty(t, b.last().header.Get("Authorization"))
}

func TestClient_SetAndClearAccessToken(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, jsonHandler(http.StatusOK, `{}`))
	f := newFixture(t, b.server.URL, nil)

	require.NoError(t, f.client.SetAccessToken(ctx, "tok-2"))
	assert.True(t, f.store.Has(domain.KeyAccessToken))

	require.NoError(t, f.client.Get(ctx, "/auth/me", nil))
	assert.Equal(t, "Bearer tok-2", b.last().header.Get("Authorization"))

	require.NoError(t, f.client.ClearAccessToken(ctx))
	assert.False(t, f.store.Has(domain.KeyAccessToken))
	assert.Empty(t, f.client.AccessToken())
}

func TestClient_Unauthorized_RemovesTokenAndNotifies(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, jsonHandler(http.StatusUnauthorized, `{"message":"token revoked"}`))
	f := newFixture(t, b.server.URL, nil)
	require.NoError(t, f.client.SetAccessToken(ctx, "tok-3"))

	var events []domain.TokenEvent
	unsubscribe := f.client.OnTokenInvalid(func(e domain.TokenEvent) { events = append(events, e) })
	defer unsubscribe()

	err := f.client.Get(ctx, "/appointments", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "token revoked", apiErr.Message)

	assert.False(t, f.store.Has(domain.KeyAccessToken))
	assert.Empty(t, f.client.AccessToken())
	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].Reason, domain.ErrUnauthorized)
	assert.Equal(t, testNow, events[0].At)
}

func TestClient_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, jsonHandler(http.StatusUnauthorized, `{}`))
	f := newFixture(t, b.server.URL, nil)
	require.NoError(t, f.client.SetAccessToken(ctx, "tok"))

	calls := 0
	unsubscribe := f.client.OnTokenInvalid(func(domain.TokenEvent) { calls++ })
	unsubscribe()

	_ = f.client.Get(ctx, "/appointments", nil)
	assert.Zero(t, calls)
}

func TestClient_ExpiredTokenRejectedLocally(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, jsonHandler(http.StatusOK, `{}`))
	inspector := &mocks.MockTokenInspector{Info: &domain.TokenInfo{ExpiresAt: testNow.Add(-time.Hour)}}
	f := newFixture(t, b.server.URL, func(c *Config) { c.Inspector = inspector })
	require.NoError(t, f.client.SetAccessToken(ctx, "expired"))

	var reasons []error
	f.client.OnTokenInvalid(func(e domain.TokenEvent) { reasons = append(reasons, e.Reason) })

	err := f.client.Get(ctx, "/appointments", nil)

	assert.ErrorIs(t, err, domain.ErrTokenExpired)
	assert.True(t, domain.IsAuthError(err))
	assert.Zero(t, b.count(), "expired token must not reach the backend")
	assert.False(t, f.store.Has(domain.KeyAccessToken))
	require.Len(t, reasons, 1)
	assert.ErrorIs(t, reasons[0], domain.ErrTokenExpired)
}

func TestClient_UnparseableTokenRejectedLocally(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, jsonHandler(http.StatusOK, `{}`))
	inspector := &mocks.MockTokenInspector{Err: domain.ErrTokenInvalid}
	f := newFixture(t, b.server.URL, func(c *Config) { c.Inspector = inspector })
	require.NoError(t, f.client.SetAccessToken(ctx, "garbage"))

	err := f.client.Get(ctx, "/appointments", nil)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
	assert.Zero(t, b.count())
}

func TestClient_ValidationErrorCarriesFieldErrors(t *testing.T) {
	b := newBackend(t, jsonHandler(http.StatusUnprocessableEntity,
		`{"message":"validation failed","errors":{"date":"must be in the future"}}`))
	f := newFixture(t, b.server.URL, nil)

	err := f.client.Post(context.Background(), "/appointments", map[string]string{"date": "2020-01-01"}, nil)

	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "must be in the future", apiErr.Errors["date"])
	assert.True(t, domain.IsValidationError(err))
	assert.Equal(t, `{"date":"2020-01-01"}`, b.last().body)
}

func TestClient_NonJSONErrorBody(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})
	f := newFixture(t, b.server.URL, nil)

	err := f.client.Get(context.Background(), "/appointments", nil)

	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream exploded", apiErr.Message)
	assert.False(t, domain.IsNetworkError(err))
}

func TestClient_TimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	f := newFixture(t, b.server.URL, func(c *Config) { c.Timeout = 50 * time.Millisecond })

	err := f.client.Get(context.Background(), "/appointments", nil)
	assert.True(t, domain.IsNetworkError(err), "got %v", err)
}

func TestClient_OfflineGetFailsFast(t *testing.T) {
	b := newBackend(t, jsonHandler(http.StatusOK, `[]`))
	f := newFixture(t, b.server.URL, nil)
	f.conn.Set(false)

	err := f.client.Get(context.Background(), "/appointments", nil)

	assert.True(t, domain.IsNetworkError(err))
	assert.ErrorIs(t, err, domain.ErrOffline)
	assert.Zero(t, b.count())
}

func TestClient_DecodeRawMessage(t *testing.T) {
	b := newBackend(t, jsonHandler(http.StatusOK, `{"data":[{"id":"apt-1"}]}`))
	f := newFixture(t, b.server.URL, nil)

	var raw json.RawMessage
	require.NoError(t, f.client.Get(context.Background(), "/appointments", &raw))
	assert.JSONEq(t, `{"data":[{"id":"apt-1"}]}`, string(raw))
}

func TestClient_OfflineMutationIsQueued(t *testing.T) {
	b := newBackend(t, jsonHandler(http.StatusCreated, `{"id":"apt-1"}`))
	f := newFixture(t, b.server.URL, nil)
	f.conn.Set(false)

	action := domain.CancelAppointmentAction{ID: "apt-7", Reason: "patient unwell"}
	resp, err := f.client.PutWithOfflineSupport(context.Background(), action)

	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, resp.Offline)
	assert.Equal(t, "action-1", resp.ActionID)
	assert.Equal(t, QueuedMessage, resp.Message)
	assert.JSONEq(t, `{"id":"action-1","offline":true,"message":"Request queued for sync when online"}`, string(resp.Data))

	assert.Zero(t, b.count())
	require.Len(t, f.queue.Actions(), 1)
	assert.Equal(t, action, f.queue.Actions()[0])
}

func TestClient_OnlineMutationIsSent(t *testing.T) {
	b := newBackend(t, jsonHandler(http.StatusCreated, `{"id":"apt-900"}`))
	f := newFixture(t, b.server.URL, nil)

	action := domain.CreateAppointmentAction{
		TempID: "temp_1",
		Input:  domain.AppointmentInput{PatientID: "p-1", DepartmentID: "cardio"},
	}
	resp, err := f.client.PostWithOfflineSupport(context.Background(), action)

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.False(t, resp.Offline)
	assert.JSONEq(t, `{"id":"apt-900"}`, string(resp.Data))
	assert.Equal(t, "/appointments", b.last().path)
	assert.Empty(t, f.queue.Actions())
}

func TestClient_OnlineValidationErrorPropagates(t *testing.T) {
	b := newBackend(t, jsonHandler(http.StatusBadRequest, `{"message":"bad reason"}`))
	f := newFixture(t, b.server.URL, nil)

	_, err := f.client.PutWithOfflineSupport(context.Background(), domain.CancelAppointmentAction{ID: "apt-7"})

	assert.True(t, domain.IsValidationError(err))
	assert.Empty(t, f.queue.Actions())
}

func TestClient_NetworkFailureWhileGoingOfflineQueues(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:1", nil)
	f.conn.RefreshFn = func() bool { return false }

	resp, err := f.client.DeleteWithOfflineSupport(context.Background(), domain.DeleteAppointmentAction{ID: "apt-3"})

	require.NoError(t, err)
	assert.True(t, resp.Offline)
	assert.Equal(t, 1, f.conn.Refreshes())
	require.Len(t, f.queue.Actions(), 1)
}

func TestClient_NetworkFailureWhileStillOnlinePropagates(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:1", nil)
	f.conn.RefreshFn = func() bool { return true }

	_, err := f.client.DeleteWithOfflineSupport(context.Background(), domain.DeleteAppointmentAction{ID: "apt-3"})

	assert.True(t, domain.IsNetworkError(err))
	assert.Empty(t, f.queue.Actions())
}

func TestClient_MethodMismatchRejected(t *testing.T) {
	f := newFixture(t, "http://unused", nil)

	_, err := f.client.PostWithOfflineSupport(context.Background(), domain.DeleteAppointmentAction{ID: "apt-3"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestClient_QueueFailureSurfaces(t *testing.T) {
	f := newFixture(t, "http://unused", nil)
	f.conn.Set(false)
	f.queue.QueueErr = errors.New("disk full")

	_, err := f.client.PutWithOfflineSupport(context.Background(), domain.MarkNotificationReadAction{ID: "n-1"})
	assert.ErrorContains(t, err, "disk full")
}

func TestClient_DispatchSendsIdempotencyKey(t *testing.T) {
	b := newBackend(t, jsonHandler(http.StatusOK, `{"id":"apt-7","status":"cancelled"}`))
	f := newFixture(t, b.server.URL, nil)
	require.NoError(t, f.client.SetAccessToken(context.Background(), "tok"))

	pending, err := domain.NewPendingAction(domain.CancelAppointmentAction{ID: "apt-7", Reason: "x"}, testNow)
	require.NoError(t, err)

	resp, err := f.client.Dispatch(context.Background(), pending)

	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"apt-7","status":"cancelled"}`, string(resp))
	req := b.last()
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/appointments/apt-7/cancel", req.path)
	assert.Equal(t, pending.IdempotencyKey, req.header.Get(DefaultIdempotencyHeader))
	assert.Equal(t, "Bearer tok", req.header.Get("Authorization"))
	assert.JSONEq(t, `{"reason":"x"}`, req.body)
}

func TestClient_DispatchWithoutIdempotencyKeys(t *testing.T) {
	b := newBackend(t, jsonHandler(http.StatusNoContent, ``))
	f := newFixture(t, b.server.URL, func(c *Config) { c.DisableIdempotencyKeys = true })

	pending, err := domain.NewPendingAction(domain.DeleteAppointmentAction{ID: "apt-3"}, testNow)
	require.NoError(t, err)

	resp, err := f.client.Dispatch(context.Background(), pending)
	require.NoError(t, err)
	assert.Empty(t, resp)
	assert.Empty(t, b.last().header.Get(DefaultIdempotencyHeader))
	assert.Empty(t, b.last().body)
}

func TestClient_DispatchDoesNotConsultConnectivity(t *testing.T) {
	b := newBackend(t, jsonHandler(http.StatusOK, `{}`))
	f := newFixture(t, b.server.URL, nil)
	f.conn.Set(false)

	pending, err := domain.NewPendingAction(domain.MarkNotificationReadAction{ID: "n-1"}, testNow)
	require.NoError(t, err)

	_, err = f.client.Dispatch(context.Background(), pending)
	require.NoError(t, err)
	assert.Equal(t, 1, b.count())
}
