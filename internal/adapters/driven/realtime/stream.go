// Package realtime subscribes to the backend queue-status websocket.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.QueueStatusSource = (*Stream)(nil)

const (
	// DefaultPath is the queue-status endpoint relative to the base URL.
	DefaultPath = "/ws/queue"

	// EventQueueStatus is the envelope type carrying a domain.QueueStatus.
	EventQueueStatus = "queue_status"

	readLimit = 1 << 20
)

// Envelope is the frame format on the queue socket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Stream implements driven.QueueStatusSource over a websocket with
// exponential reconnect backoff.
type Stream struct {
	url       string
	token     func() string
	conn      driven.ConnectivityReader
	logger    *slog.Logger
	heartbeat time.Duration
	recon     *reconnector
}

// StreamConfig holds configuration for the stream.
type StreamConfig struct {
	BaseURL string // http(s) base; rewritten to ws(s)
	Path    string // default: /ws/queue

	// Token returns the bearer token for the handshake. nil sends none.
	Token func() string

	// Connectivity gates dialing; nil dials regardless.
	Connectivity driven.ConnectivityReader

	HeartbeatInterval  time.Duration // default: 30s
	ReconnectBaseDelay time.Duration // default: 1s
	ReconnectMaxDelay  time.Duration // default: 30s

	Logger *slog.Logger
}

// NewStream creates a new queue-status stream.
func NewStream(cfg StreamConfig) *Stream {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	base := cfg.ReconnectBaseDelay
	if base <= 0 {
		base = time.Second
	}
	maxDelay := cfg.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	return &Stream{
		url:       wsURL(cfg.BaseURL) + path,
		token:     cfg.Token,
		conn:      cfg.Connectivity,
		logger:    logger.With("component", "queue_stream"),
		heartbeat: heartbeat,
		recon:     &reconnector{baseDelay: base, maxDelay: maxDelay},
	}
}

func wsURL(base string) string {
	u := strings.TrimSuffix(base, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}

// Run connects and delivers queue updates until ctx is cancelled.
func (s *Stream) Run(ctx context.Context, handle func(context.Context, domain.QueueStatus)) error {
	s.logger.Info("queue stream started", "url", s.url)
	defer s.logger.Info("queue stream stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		if s.conn != nil && !s.conn.IsNetworkConnected() {
			if !sleep(ctx, s.recon.baseDelay) {
				return nil
			}
			continue
		}

		err := s.session(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}

		delay := s.recon.nextDelay()
		s.logger.Warn("queue stream disconnected, reconnecting",
			"error", err,
			"attempt", s.recon.attempt,
			"delay", delay,
		)
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

// session runs one connection until it fails.
func (s *Stream) session(ctx context.Context, handle func(context.Context, domain.QueueStatus)) error {
	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if s.token != nil {
		if token := s.token(); token != "" {
			opts.HTTPHeader.Set("Authorization", "Bearer "+token)
		}
	}

	conn, _, err := websocket.Dial(ctx, s.url, opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	s.recon.markConnected()
	s.logger.Info("queue stream connected")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.heartbeatLoop(connCtx, conn)

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Debug("ignoring malformed frame", "error", err)
			continue
		}
		if env.Type != EventQueueStatus {
			continue
		}

		var status domain.QueueStatus
		if err := json.Unmarshal(env.Payload, &status); err != nil || status.DepartmentID == "" {
			s.logger.Debug("ignoring malformed queue status", "error", err)
			continue
		}
		handle(ctx, status)
	}
}

func (s *Stream) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.heartbeat)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// reconnector computes jittered exponential backoff. A connection that
// stayed up for a minute resets the attempt count.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > time.Minute {
		r.attempt = 0
	}
	r.connectedAt = time.Time{}

	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}
