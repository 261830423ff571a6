// Package network provides a NetworkSource that infers reachability by
// polling the backend health endpoint.
package network

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.NetworkSource = (*Probe)(nil)

const (
	// DefaultInterval is the time between background probes.
	DefaultInterval = 15 * time.Second

	// DefaultTimeout bounds a single probe.
	DefaultTimeout = 5 * time.Second

	// DefaultHealthPath is probed relative to the base URL.
	DefaultHealthPath = "/health"
)

// Probe implements driven.NetworkSource. Any HTTP response below 500 counts
// as reachable; transport failures and 5xx count as unreachable.
type Probe struct {
	url        string
	httpClient *http.Client
	interval   time.Duration
	logger     *slog.Logger

	mu          sync.Mutex
	subscribers map[string]func(bool)
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// ProbeConfig holds configuration for the probe.
type ProbeConfig struct {
	BaseURL    string
	HealthPath string        // default: /health
	Interval   time.Duration // default: 15s
	Timeout    time.Duration // default: 5s
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewProbe creates a new probe. Call Start to begin background polling.
func NewProbe(cfg ProbeConfig) *Probe {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	path := cfg.HealthPath
	if path == "" {
		path = DefaultHealthPath
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Probe{
		url:         strings.TrimSuffix(cfg.BaseURL, "/") + path,
		httpClient:  httpClient,
		interval:    interval,
		logger:      logger.With("component", "network_probe"),
		subscribers: make(map[string]func(bool)),
	}
}

// Current probes once and returns the result. The error is always nil;
// an unreachable backend is reported as false.
func (p *Probe) Current(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", "url", p.url, "error", err)
		return false, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode < http.StatusInternalServerError, nil
}

// Subscribe registers fn for probe results.
func (p *Probe) Subscribe(fn func(connected bool)) (func(), error) {
	id := uuid.NewString()
	p.mu.Lock()
	p.subscribers[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subscribers, id)
		p.mu.Unlock()
	}, nil
}

// Start begins polling in the background.
func (p *Probe) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	p.logger.Info("network probe started", "url", p.url, "interval", p.interval)
	go p.run(ctx, stopCh, doneCh)
}

// Stop halts polling and waits for the loop to exit.
func (p *Probe) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	doneCh := p.doneCh
	p.mu.Unlock()

	<-doneCh
	p.logger.Info("network probe stopped")
}

func (p *Probe) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			connected, _ := p.Current(ctx)
			p.publish(connected)
		}
	}
}

func (p *Probe) publish(connected bool) {
	p.mu.Lock()
	fns := make([]func(bool), 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}
