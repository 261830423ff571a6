// Package httpclient is the single gateway to the backend REST API. It
// attaches the stored access token, classifies failures, and defers
// mutations to the offline queue while the device is disconnected.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
)

// Verify interface compliance
var (
	_ driven.OfflineAwareClient = (*Client)(nil)
	_ driven.Transport          = (*Client)(nil)
	_ driven.TokenHolder        = (*Client)(nil)
)

const (
	// DefaultTimeout bounds every request.
	DefaultTimeout = 30 * time.Second

	// DefaultIdempotencyHeader carries PendingAction.IdempotencyKey on replay.
	DefaultIdempotencyHeader = "Idempotency-Key"

	// QueuedMessage is returned with synthetic offline responses.
	QueuedMessage = "Request queued for sync when online"

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 << 10
)

// Connectivity is the part of the connectivity monitor the client needs.
type Connectivity interface {
	IsNetworkConnected() bool

	// Refresh re-reads reachability from the platform and returns it.
	Refresh(ctx context.Context) bool
}

// Client implements driven.OfflineAwareClient and driven.Transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      driven.KeyValueStore
	queue      driven.OfflineQueue
	conn       Connectivity
	inspector  driven.TokenInspector
	logger     *slog.Logger
	now        func() time.Time

	idempotencyHeader string
	clockSkew         time.Duration

	mu    sync.RWMutex
	token string

	listenersMu sync.Mutex
	listeners   map[string]func(domain.TokenEvent)
}

// Config holds configuration for the client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration // Per-request timeout (default: 30s)
	HTTPClient *http.Client  // Overrides Timeout when set

	Store        driven.KeyValueStore  // Holds domain.KeyAccessToken
	Queue        driven.OfflineQueue   // Receives mutations made while offline
	Connectivity Connectivity          // nil means always online
	Inspector    driven.TokenInspector // nil skips the local expiry check

	// IdempotencyHeader names the replay header (default: Idempotency-Key).
	// Set DisableIdempotencyKeys to send none.
	IdempotencyHeader      string
	DisableIdempotencyKeys bool

	// ClockSkew tolerated when checking token expiry (default: 30s)
	ClockSkew time.Duration

	Logger *slog.Logger
	Clock  func() time.Time
}

// New creates a client and loads any stored access token.
func New(ctx context.Context, cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	header := cfg.IdempotencyHeader
	if header == "" {
		header = DefaultIdempotencyHeader
	}
	if cfg.DisableIdempotencyKeys {
		header = ""
	}
	skew := cfg.ClockSkew
	if skew == 0 {
		skew = 30 * time.Second
	}

	c := &Client{
		baseURL:           strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:        httpClient,
		store:             cfg.Store,
		queue:             cfg.Queue,
		conn:              cfg.Connectivity,
		inspector:         cfg.Inspector,
		logger:            logger.With("component", "http_client"),
		now:               clock,
		idempotencyHeader: header,
		clockSkew:         skew,
		listeners:         make(map[string]func(domain.TokenEvent)),
	}
	c.loadToken(ctx)
	return c
}

func (c *Client) loadToken(ctx context.Context) {
	if c.store == nil {
		return
	}
	data, err := c.store.Get(ctx, domain.KeyAccessToken)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("failed to load access token", "error", err)
		}
		return
	}
	c.mu.Lock()
	c.token = string(data)
	c.mu.Unlock()
}

// SetAccessToken persists token and attaches it to later requests.
func (c *Client) SetAccessToken(ctx context.Context, token string) error {
	if c.store != nil {
		if err := c.store.Set(ctx, domain.KeyAccessToken, []byte(token)); err != nil {
			return fmt.Errorf("store access token: %w", err)
		}
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

// ClearAccessToken removes the token from storage and request headers.
func (c *Client) ClearAccessToken(ctx context.Context) error {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	if err := c.store.Delete(ctx, domain.KeyAccessToken); err != nil {
		return fmt.Errorf("delete access token: %w", err)
	}
	return nil
}

// AccessToken returns the token currently attached to requests.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// OnTokenInvalid registers fn for when the stored token is rejected or
// found expired. The returned function removes the subscription.
func (c *Client) OnTokenInvalid(fn func(domain.TokenEvent)) (unsubscribe func()) {
	id := uuid.NewString()
	c.listenersMu.Lock()
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

// invalidate drops the token and tells subscribers why.
func (c *Client) invalidate(ctx context.Context, reason error) {
	if err := c.ClearAccessToken(ctx); err != nil {
		c.logger.Warn("failed to clear access token", "error", err)
	}
	c.logger.Warn("access token invalidated", "reason", reason)

	c.listenersMu.Lock()
	fns := make([]func(domain.TokenEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	event := domain.TokenEvent{Reason: reason, At: c.now()}
	for _, fn := range fns {
		c.notify(fn, event)
	}
}

func (c *Client) notify(fn func(domain.TokenEvent), event domain.TokenEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("token listener panicked", "panic", r)
		}
	}()
	fn(event)
}

// checkToken rejects an expired or unparseable token before it is sent.
func (c *Client) checkToken(ctx context.Context, token string) error {
	if token == "" || c.inspector == nil {
		return nil
	}
	info, err := c.inspector.Inspect(token)
	if err != nil {
		c.invalidate(ctx, domain.ErrTokenInvalid)
		return fmt.Errorf("access token: %w", domain.ErrTokenInvalid)
	}
	if info.IsExpired(c.now(), c.clockSkew) {
		c.invalidate(ctx, domain.ErrTokenExpired)
		return fmt.Errorf("access token expired at %s: %w", info.ExpiresAt.Format(time.RFC3339), domain.ErrTokenExpired)
	}
	return nil
}

func (c *Client) connected() bool {
	return c.conn == nil || c.conn.IsNetworkConnected()
}

// Get issues a GET and decodes the body into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.call(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with body encoded as JSON.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPost, path, body, out)
}

// Put issues a PUT with body encoded as JSON.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPut, path, body, out)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.call(ctx, http.MethodDelete, path, nil, out)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	if !c.connected() {
		return &domain.NetworkError{Op: method + " " + path, Err: domain.ErrOffline}
	}

	payload, err := encodeBody(body)
	if err != nil {
		return err
	}

	data, _, err := c.do(ctx, method, path, payload, nil)
	if err != nil {
		return err
	}
	return decodeInto(data, out)
}

// PostWithOfflineSupport sends action online or queues it while offline.
func (c *Client) PostWithOfflineSupport(ctx context.Context, action domain.Action) (*domain.MutationResponse, error) {
	return c.mutate(ctx, domain.MethodPost, action)
}

// PutWithOfflineSupport sends action online or queues it while offline.
func (c *Client) PutWithOfflineSupport(ctx context.Context, action domain.Action) (*domain.MutationResponse, error) {
	return c.mutate(ctx, domain.MethodPut, action)
}

// DeleteWithOfflineSupport sends action online or queues it while offline.
func (c *Client) DeleteWithOfflineSupport(ctx context.Context, action domain.Action) (*domain.MutationResponse, error) {
	return c.mutate(ctx, domain.MethodDelete, action)
}

// mutate sends action when connected. Offline, or when the request fails at
// the network layer and a fresh reachability check says offline, the action
// is queued and a synthetic 202 is returned. Other errors reach the caller.
func (c *Client) mutate(ctx context.Context, method domain.HTTPMethod, action domain.Action) (*domain.MutationResponse, error) {
	if action == nil {
		return nil, fmt.Errorf("%w: nil action", domain.ErrInvalidInput)
	}
	if action.Method() != method {
		return nil, fmt.Errorf("%w: %s action sent as %s", domain.ErrInvalidInput, action.Method(), method)
	}

	if !c.connected() {
		return c.enqueue(ctx, action)
	}

	payload, err := encodeBody(action.Payload())
	if err != nil {
		return nil, err
	}

	data, status, err := c.do(ctx, string(method), action.Endpoint(), payload, nil)
	if err != nil {
		if domain.IsNetworkError(err) && ctx.Err() == nil && !c.recheck(ctx) {
			c.logger.Info("request failed while going offline, queueing", "endpoint", action.Endpoint(), "error", err)
			return c.enqueue(ctx, action)
		}
		return nil, err
	}

	return &domain.MutationResponse{StatusCode: status, Data: data}, nil
}

func (c *Client) recheck(ctx context.Context) bool {
	if c.conn == nil {
		return true
	}
	return c.conn.Refresh(ctx)
}

func (c *Client) enqueue(ctx context.Context, action domain.Action) (*domain.MutationResponse, error) {
	if c.queue == nil {
		return nil, &domain.NetworkError{Op: string(action.Method()) + " " + action.Endpoint(), Err: domain.ErrOffline}
	}

	id, err := c.queue.QueueAction(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("queue %s: %w", action.Kind(), err)
	}

	data, _ := json.Marshal(map[string]any{
		"id":      id,
		"offline": true,
		"message": QueuedMessage,
	})
	return &domain.MutationResponse{
		StatusCode: http.StatusAccepted,
		Data:       data,
		Offline:    true,
		ActionID:   id,
		Message:    QueuedMessage,
	}, nil
}

// Dispatch replays a persisted action. The idempotency key lets the backend
// drop a request it already applied.
func (c *Client) Dispatch(ctx context.Context, action *domain.PendingAction) (json.RawMessage, error) {
	var payload []byte
	if action.HasPayload() {
		payload = action.Data
	}

	headers := http.Header{}
	if c.idempotencyHeader != "" && action.IdempotencyKey != "" {
		headers.Set(c.idempotencyHeader, action.IdempotencyKey)
	}

	data, _, err := c.do(ctx, string(action.Method), action.Endpoint, payload, headers)
	return data, err
}

// do sends one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, headers http.Header) (json.RawMessage, int, error) {
	token := c.AccessToken()
	if err := c.checkToken(ctx, token); err != nil {
		return nil, 0, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, &domain.NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resp.StatusCode, &domain.NetworkError{Op: "read " + path, Err: err}
		}
		return data, resp.StatusCode, nil
	}

	apiErr := parseAPIError(resp)
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		c.invalidate(ctx, domain.ErrUnauthorized)
	}
	c.logger.Debug("request rejected", "method", method, "path", path, "status", resp.StatusCode)
	return nil, resp.StatusCode, apiErr
}

// parseAPIError reads {"message": ..., "errors": {...}} from an error
// response, falling back to the raw body.
func parseAPIError(resp *http.Response) *domain.APIError {
	apiErr := &domain.APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body struct {
		Message string            `json:"message"`
		Error   string            `json:"error"`
		Errors  map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Message = body.Message
		if apiErr.Message == "" {
			apiErr.Message = body.Error
		}
		apiErr.Errors = body.Errors
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(raw))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return data, nil
}

func decodeInto(data []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
