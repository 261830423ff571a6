package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStatusReader returns cached queue positions.
type QueueStatusReader interface {
	GetQueueStatus(ctx context.Context, departmentID string) (*domain.QueueStatus, bool)
}

// Server is the local status and queue-monitor API.
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	// Services
	syncService  driving.SyncService
	connectivity driven.ConnectivityReader
	queueStatus  QueueStatusReader // can be nil

	// Infrastructure
	store Pinger
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	Version        string
	AllowedOrigins []string
	// AdminToken protects everything but health endpoints; empty disables it
	AdminToken string
	Logger     *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "127.0.0.1",
		Port:    8765,
		Version: "dev",
	}
}

// NewServer creates a new HTTP server
func NewServer(
	cfg Config,
	syncService driving.SyncService,
	connectivity driven.ConnectivityReader,
	queueStatus QueueStatusReader, // can be nil
	store Pinger,
) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:       http.NewServeMux(),
		version:      cfg.Version,
		logger:       logger.With("component", "status_server"),
		syncService:  syncService,
		connectivity: connectivity,
		queueStatus:  queueStatus,
		store:        store,
	}

	s.setupRoutes(NewTokenMiddleware(cfg.AdminToken))

	var handler http.Handler = s.router
	handler = NewCORSMiddleware(cfg.AllowedOrigins).Handler(handler)
	handler = NewLoggingMiddleware(s.logger).Handler(handler)
	handler = NewRecoveryMiddleware(s.logger).Handler(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(auth *TokenMiddleware) {
	// Health endpoints (no auth)
	s.router.HandleFunc("GET /healthz", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)

	// Sync engine
	s.router.Handle("GET /status", auth.Authenticate(http.HandlerFunc(s.handleStatus)))
	s.router.Handle("POST /sync", auth.Authenticate(http.HandlerFunc(s.handleSync)))

	// Offline queue
	s.router.Handle("GET /queue", auth.Authenticate(http.HandlerFunc(s.handleListQueue)))
	s.router.Handle("DELETE /queue/{actionId}", auth.Authenticate(http.HandlerFunc(s.handleDiscardAction)))

	// Cached queue positions
	s.router.Handle("GET /queue-status/{departmentId}", auth.Authenticate(http.HandlerFunc(s.handleQueueStatus)))
}

// Handler returns the wrapped handler (for tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("status server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
