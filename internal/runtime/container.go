// Package runtime assembles the agent from configuration. It is the only
// place that knows which adapter backs each port.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/custodia-labs/carequeue-sync/internal/adapters/driven/auth"
	"github.com/custodia-labs/carequeue-sync/internal/adapters/driven/httpclient"
	"github.com/custodia-labs/carequeue-sync/internal/adapters/driven/memory"
	"github.com/custodia-labs/carequeue-sync/internal/adapters/driven/network"
	"github.com/custodia-labs/carequeue-sync/internal/adapters/driven/postgres"
	"github.com/custodia-labs/carequeue-sync/internal/adapters/driven/realtime"
	"github.com/custodia-labs/carequeue-sync/internal/adapters/driven/redis"
	"github.com/custodia-labs/carequeue-sync/internal/adapters/driven/securestore"
	"github.com/custodia-labs/carequeue-sync/internal/adapters/driven/sqlite"
	httpserver "github.com/custodia-labs/carequeue-sync/internal/adapters/driving/http"
	"github.com/custodia-labs/carequeue-sync/internal/config"
	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driving"
	"github.com/custodia-labs/carequeue-sync/internal/core/services"
)

// Version is reported by the status server. Overridden at build time.
var Version = "dev"

// Container holds every wired component. Optional parts are nil when
// disabled in configuration.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	Store driven.KeyValueStore
	Lock  driven.DistributedLock // nil for single-device backends

	Probe   *network.Probe
	Monitor *services.ConnectivityMonitor
	Queue   *services.ActionQueue
	Cache   *services.EntityCache
	Client  *httpclient.Client
	Engine  *services.SyncEngine

	Auth          driving.AuthService
	Appointments  driving.AppointmentService
	Notifications driving.NotificationService

	Scheduler *services.Scheduler // nil when sync.interval_sec is 0
	Stream    *realtime.Stream    // nil when realtime is disabled
	Server    *httpserver.Server  // nil when the status server is disabled

	closers []func() error
}

// Option adjusts container construction.
type Option func(*options)

type options struct {
	store driven.KeyValueStore
}

// WithStore bypasses the configured backend and uses store directly.
func WithStore(store driven.KeyValueStore) Option {
	return func(o *options) { o.store = store }
}

// New wires the agent. It does not start anything; see worker.Worker.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{Config: cfg, Logger: logger}

	if o.store != nil {
		c.Store = o.store
	} else if err := c.openStorage(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	if cfg.Storage.EncryptionSecret != "" {
		cipher, err := securestore.NewCipher([]byte(cfg.Storage.EncryptionSecret), []byte(cfg.Device.ID))
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("init encryption: %w", err)
		}
		c.Store = securestore.New(securestore.Config{Inner: c.Store, Cipher: cipher, Logger: logger})
		logger.Info("at-rest encryption enabled for credentials")
	}

	c.Probe = network.NewProbe(network.ProbeConfig{
		BaseURL:    cfg.API.BaseURL,
		HealthPath: cfg.API.HealthPath,
		Interval:   cfg.Sync.ProbeInterval(),
		Logger:     logger,
	})
	c.Monitor = services.NewConnectivityMonitor(services.ConnectivityMonitorConfig{
		Source: c.Probe,
		Store:  c.Store,
		Logger: logger,
	})
	c.Queue = services.NewActionQueue(services.ActionQueueConfig{
		Store:       c.Store,
		Logger:      logger,
		MaxAttempts: cfg.Sync.MaxAttempts,
	})
	c.Cache = services.NewEntityCache(services.EntityCacheConfig{
		Store:  c.Store,
		Logger: logger,
	})

	c.Client = httpclient.New(ctx, httpclient.Config{
		BaseURL:                cfg.API.BaseURL,
		Timeout:                cfg.API.Timeout(),
		Store:                  c.Store,
		Queue:                  c.Queue,
		Connectivity:           c.Monitor,
		Inspector:              auth.NewInspector(),
		DisableIdempotencyKeys: !cfg.API.IdempotencyKeys,
		Logger:                 logger,
	})
	c.Client.OnTokenInvalid(func(ev domain.TokenEvent) {
		logger.Warn("access token invalidated, sign-in required", "reason", ev.Reason)
	})

	c.Engine = services.NewSyncEngine(services.SyncEngineConfig{
		Queue:        c.Queue,
		Cache:        c.Cache,
		Transport:    c.Client,
		Monitor:      c.Monitor,
		Store:        c.Store,
		Lock:         c.Lock,
		Logger:       logger,
		RetryDelay:   cfg.Sync.RetryDelay(),
		LockTTL:      cfg.Sync.LockTTL(),
		LockRequired: cfg.Sync.LockRequired,
	})

	c.Auth = services.NewAuthService(services.AuthServiceConfig{
		Client:  c.Client,
		Tokens:  c.Client,
		Store:   c.Store,
		Queue:   c.Queue,
		Cache:   c.Cache,
		Resumer: c.Engine,
		Logger:  logger,
	})
	c.Appointments = services.NewAppointmentService(services.AppointmentServiceConfig{
		Client: c.Client,
		Cache:  c.Cache,
		Logger: logger,
	})
	c.Notifications = services.NewNotificationService(c.Client, c.Cache, logger)

	if interval := cfg.Sync.Interval(); interval > 0 {
		c.Scheduler = services.NewScheduler(services.SchedulerConfig{
			Syncer:   c.Engine,
			Logger:   logger,
			Interval: interval,
		})
	}

	if cfg.Realtime.Enabled {
		c.Stream = realtime.NewStream(realtime.StreamConfig{
			BaseURL:      cfg.API.BaseURL,
			Path:         cfg.Realtime.Path,
			Token:        c.Client.AccessToken,
			Connectivity: c.Monitor,
			Logger:       logger,
		})
	}

	if cfg.Server.Enabled {
		c.Server = httpserver.NewServer(httpserver.Config{
			Host:           cfg.Server.Host,
			Port:           cfg.Server.Port,
			Version:        Version,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AdminToken:     cfg.Server.AdminToken,
			Logger:         logger,
		}, c.Engine, c.Monitor, c.Cache, c.Store)
	}

	logger.Info("agent wired",
		"device_id", cfg.Device.ID,
		"storage", cfg.Storage.Backend,
		"distributed_lock", c.Lock != nil,
		"periodic_sync", c.Scheduler != nil,
		"realtime", c.Stream != nil,
		"status_server", c.Server != nil,
	)
	return c, nil
}

// openStorage connects the configured backend. Shared backends also
// provide the distributed lock guarding replay across devices.
func (c *Container) openStorage(ctx context.Context) error {
	cfg := c.Config
	partition := cfg.Device.ID

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		c.Store = memory.NewKVStore()

	case config.BackendSQLite:
		store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		c.Store = store
		c.closers = append(c.closers, store.Close)

	case config.BackendRedis:
		client, err := redis.Connect(ctx, cfg.Storage.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		c.Store = redis.NewKVStore(client, redis.DefaultNamespace, partition)
		c.Lock = redis.NewLock(client, redis.DefaultNamespace, partition)
		c.closers = append(c.closers, client.Close)

	case config.BackendPostgres:
		db, err := postgres.Connect(ctx, postgres.DefaultConfig(cfg.Storage.DatabaseURL))
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		c.closers = append(c.closers, db.Close)
		if err := db.InitSchema(ctx); err != nil {
			return fmt.Errorf("init postgres schema: %w", err)
		}
		c.Store = postgres.NewKVStore(db, partition)
		c.Lock = postgres.NewAdvisoryLock(db, partition)

	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	return nil
}

// Close releases storage connections in reverse order of opening.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
