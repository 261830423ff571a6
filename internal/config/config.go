// Package config loads agent settings from ~/.carequeue/config.toml and
// overlays CAREQUEUE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the agent configuration.
type Config struct {
	Device   DeviceConfig   `toml:"device"`
	API      APIConfig      `toml:"api"`
	Storage  StorageConfig  `toml:"storage"`
	Sync     SyncConfig     `toml:"sync"`
	Realtime RealtimeConfig `toml:"realtime"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
}

// DeviceConfig identifies this kiosk or tablet. ID partitions shared storage.
type DeviceConfig struct {
	ID string `toml:"id"`
}

// APIConfig describes the backend.
type APIConfig struct {
	BaseURL         string `toml:"base_url"`
	TimeoutSec      int    `toml:"timeout_sec"`
	HealthPath      string `toml:"health_path"`
	IdempotencyKeys bool   `toml:"idempotency_keys"`
}

// StorageConfig selects the key-value backend.
type StorageConfig struct {
	Backend     string `toml:"backend"`
	SQLitePath  string `toml:"sqlite_path"`
	RedisURL    string `toml:"redis_url"`
	DatabaseURL string `toml:"database_url"`
	// EncryptionSecret enables at-rest encryption of tokens and the user record
	EncryptionSecret string `toml:"encryption_secret"`
}

// SyncConfig tunes the replay pipeline.
type SyncConfig struct {
	RetryDelaySec    int  `toml:"retry_delay_sec"`
	MaxAttempts      int  `toml:"max_attempts"` // negative disables expiry
	IntervalSec      int  `toml:"interval_sec"` // 0 disables periodic sync
	ProbeIntervalSec int  `toml:"probe_interval_sec"`
	LockTTLSec       int  `toml:"lock_ttl_sec"`
	LockRequired     bool `toml:"lock_required"`
}

// RealtimeConfig controls the queue-status websocket.
type RealtimeConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// ServerConfig controls the local status server.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	AdminToken     string   `toml:"admin_token"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{ID: "default"},
		API: APIConfig{
			BaseURL:         "http://localhost:8080/api",
			TimeoutSec:      30,
			HealthPath:      "/health",
			IdempotencyKeys: true,
		},
		Storage: StorageConfig{
			Backend:    BackendSQLite,
			SQLitePath: filepath.Join(defaultDir(), "carequeue.db"),
		},
		Sync: SyncConfig{
			RetryDelaySec:    60,
			MaxAttempts:      5,
			ProbeIntervalSec: 15,
			LockTTLSec:       300,
		},
		Realtime: RealtimeConfig{Enabled: true, Path: "/ws/queue"},
		Server: ServerConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8765,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".carequeue"
	}
	return filepath.Join(home, ".carequeue")
}

// DefaultPath returns ~/.carequeue/config.toml.
func DefaultPath() string {
	return filepath.Join(defaultDir(), "config.toml")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as TOML, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// ApplyEnv overlays CAREQUEUE_* environment variables.
func (c *Config) ApplyEnv() {
	c.Device.ID = getEnv("CAREQUEUE_DEVICE_ID", c.Device.ID)

	c.API.BaseURL = getEnv("CAREQUEUE_API_URL", c.API.BaseURL)
	c.API.TimeoutSec = getEnvInt("CAREQUEUE_API_TIMEOUT_SEC", c.API.TimeoutSec)
	c.API.IdempotencyKeys = getEnvBool("CAREQUEUE_IDEMPOTENCY_KEYS", c.API.IdempotencyKeys)

	c.Storage.Backend = getEnv("CAREQUEUE_STORAGE", c.Storage.Backend)
	c.Storage.SQLitePath = getEnv("CAREQUEUE_SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.RedisURL = getEnv("REDIS_URL", c.Storage.RedisURL)
	c.Storage.DatabaseURL = getEnv("DATABASE_URL", c.Storage.DatabaseURL)
	c.Storage.EncryptionSecret = getEnv("CAREQUEUE_ENCRYPTION_SECRET", c.Storage.EncryptionSecret)

	c.Sync.RetryDelaySec = getEnvInt("CAREQUEUE_RETRY_DELAY_SEC", c.Sync.RetryDelaySec)
	c.Sync.MaxAttempts = getEnvInt("CAREQUEUE_MAX_ATTEMPTS", c.Sync.MaxAttempts)
	c.Sync.IntervalSec = getEnvInt("CAREQUEUE_SYNC_INTERVAL_SEC", c.Sync.IntervalSec)
	c.Sync.ProbeIntervalSec = getEnvInt("CAREQUEUE_PROBE_INTERVAL_SEC", c.Sync.ProbeIntervalSec)
	c.Sync.LockRequired = getEnvBool("CAREQUEUE_LOCK_REQUIRED", c.Sync.LockRequired)

	c.Realtime.Enabled = getEnvBool("CAREQUEUE_REALTIME", c.Realtime.Enabled)

	c.Server.Enabled = getEnvBool("CAREQUEUE_SERVER", c.Server.Enabled)
	c.Server.Host = getEnv("CAREQUEUE_SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Server.AdminToken = getEnv("CAREQUEUE_ADMIN_TOKEN", c.Server.AdminToken)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate checks values the agent cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for sqlite"))
		}
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("storage.redis_url is required for redis"))
		}
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("storage.database_url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q (valid: memory, sqlite, redis, postgres)", c.Storage.Backend))
	}
	return errors.Join(errs...)
}

// Set assigns a field using dot notation (e.g. "api.base_url").
func (c *Config) Set(key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. api.base_url)")
	}

	var err error
	switch section {
	case "device":
		switch field {
		case "id":
			c.Device.ID = value
		default:
			return unknownField(section, field)
		}
	case "api":
		switch field {
		case "base_url":
			c.API.BaseURL = value
		case "timeout_sec":
			c.API.TimeoutSec, err = strconv.Atoi(value)
		case "health_path":
			c.API.HealthPath = value
		case "idempotency_keys":
			c.API.IdempotencyKeys, err = strconv.ParseBool(value)
		default:
			return unknownField(section, field)
		}
	case "storage":
		switch field {
		case "backend":
			c.Storage.Backend = value
		case "sqlite_path":
			c.Storage.SQLitePath = value
		case "redis_url":
			c.Storage.RedisURL = value
		case "database_url":
			c.Storage.DatabaseURL = value
		case "encryption_secret":
			c.Storage.EncryptionSecret = value
		default:
			return unknownField(section, field)
		}
	case "sync":
		switch field {
		case "retry_delay_sec":
			c.Sync.RetryDelaySec, err = strconv.Atoi(value)
		case "max_attempts":
			c.Sync.MaxAttempts, err = strconv.Atoi(value)
		case "interval_sec":
			c.Sync.IntervalSec, err = strconv.Atoi(value)
		case "probe_interval_sec":
			c.Sync.ProbeIntervalSec, err = strconv.Atoi(value)
		case "lock_ttl_sec":
			c.Sync.LockTTLSec, err = strconv.Atoi(value)
		case "lock_required":
			c.Sync.LockRequired, err = strconv.ParseBool(value)
		default:
			return unknownField(section, field)
		}
	case "realtime":
		switch field {
		case "enabled":
			c.Realtime.Enabled, err = strconv.ParseBool(value)
		case "path":
			c.Realtime.Path = value
		default:
			return unknownField(section, field)
		}
	case "server":
		switch field {
		case "enabled":
			c.Server.Enabled, err = strconv.ParseBool(value)
		case "host":
			c.Server.Host = value
		case "port":
			c.Server.Port, err = strconv.Atoi(value)
		case "admin_token":
			c.Server.AdminToken = value
		case "allowed_origins":
			c.Server.AllowedOrigins = splitList(value)
		default:
			return unknownField(section, field)
		}
	case "log":
		switch field {
		case "level":
			c.Log.Level = value
		case "format":
			c.Log.Format = value
		default:
			return unknownField(section, field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: device, api, storage, sync, realtime, server, log)", section)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

func unknownField(section, field string) error {
	return fmt.Errorf("unknown field %q in section [%s]", field, section)
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Duration helpers

func (a APIConfig) Timeout() time.Duration { return seconds(a.TimeoutSec) }
func (s SyncConfig) RetryDelay() time.Duration { return seconds(s.RetryDelaySec) }
func (s SyncConfig) Interval() time.Duration { return seconds(s.IntervalSec) }
func (s SyncConfig) ProbeInterval() time.Duration { return seconds(s.ProbeIntervalSec) }
func (s SyncConfig) LockTTL() time.Duration { return seconds(s.LockTTLSec) }

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// NewLogger builds a slog logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(l.Level)}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}
