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
)

// EntityCache owns the cached domain collections in the key-value store.
// Nothing else writes domain.KeyAppointments, KeyNotifications or
// KeyQueueStatus. Storage failures on reads are logged and reported as misses.
type EntityCache struct {
	store  driven.KeyValueStore
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// EntityCacheConfig holds configuration for the cache.
type EntityCacheConfig struct {
	Store  driven.KeyValueStore
	Logger *slog.Logger
	Clock  func() time.Time
}

// NewEntityCache creates a new entity cache.
func NewEntityCache(cfg EntityCacheConfig) *EntityCache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &EntityCache{
		store:  cfg.Store,
		logger: logger.With("component", "entity_cache"),
		now:    clock,
	}
}

// StoreData writes data under key with the given version.
func (c *EntityCache) StoreData(ctx context.Context, key string, data any, version int) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	now := c.now()
	return c.write(ctx, key, domain.VersionedData{
		Data:         raw,
		Version:      version,
		LastModified: now,
		LastSynced:   &now,
	})
}

// GetData decodes the value under key into out. It reports a miss when the
// key is absent, unreadable, or stored with a version below minVersion.
func (c *EntityCache) GetData(ctx context.Context, key string, minVersion int, out any) bool {
	var envelope domain.VersionedData
	if !c.read(ctx, key, &envelope) {
		return false
	}
	if envelope.Version < minVersion {
		return false
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		c.logger.Warn("failed to decode cached data", "key", key, "error", err)
		return false
	}
	return true
}

// GetAppointments returns the cached appointments. found is false only when
// nothing was ever stored; an explicit empty store returns an empty slice.
func (c *EntityCache) GetAppointments(ctx context.Context) (appointments []domain.Appointment, found bool) {
	coll, ok := c.loadAppointments(ctx)
	if !ok {
		return nil, false
	}
	out := make([]domain.Appointment, 0, len(coll.Data))
	for _, entry := range coll.Data {
		out = append(out, entry.Data)
	}
	return out, true
}

// GetAppointment returns the cached entry for id.
func (c *EntityCache) GetAppointment(ctx context.Context, id string) (*domain.CachedAppointment, bool) {
	coll, ok := c.loadAppointments(ctx)
	if !ok {
		return nil, false
	}
	for i := range coll.Data {
		if coll.Data[i].Data.ID == id {
			entry := coll.Data[i]
			return &entry, true
		}
	}
	return nil, false
}

// UpdateAppointment upserts appt by id as an unconfirmed local write. An
// existing entry is shallow-merged with the non-zero fields of appt.
func (c *EntityCache) UpdateAppointment(ctx context.Context, appt domain.Appointment) error {
	return c.writeLocalAppointment(ctx, appt, true)
}

// ReplaceAppointment upserts appt by id as an unconfirmed local write,
// storing it as given. Use it when appt is already the full patched record,
// so cleared fields stay cleared.
func (c *EntityCache) ReplaceAppointment(ctx context.Context, appt domain.Appointment) error {
	return c.writeLocalAppointment(ctx, appt, false)
}

func (c *EntityCache) writeLocalAppointment(ctx context.Context, appt domain.Appointment, merge bool) error {
	if appt.ID == "" {
		return fmt.Errorf("%w: appointment id required", domain.ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	coll, _ := c.loadAppointments(ctx)
	now := c.now()

	for i := range coll.Data {
		entry := &coll.Data[i]
		if entry.Data.ID != appt.ID {
			continue
		}
		if merge {
			entry.Data.MergeFrom(appt)
		} else {
			entry.Data = appt
		}
		entry.Version++
		entry.LocallyModified = true
		entry.LastModified = now
		return c.saveAppointments(ctx, coll)
	}

	coll.Data = append(coll.Data, domain.CachedAppointment{
		Data:            appt,
		Version:         1,
		LocallyModified: true,
		LastModified:    now,
	})
	return c.saveAppointments(ctx, coll)
}

// ConfirmAppointment replaces the entry keyed by localID with the server's
// authoritative copy. localID may be a temp id that confirmed.ID replaces.
func (c *EntityCache) ConfirmAppointment(ctx context.Context, localID string, confirmed domain.Appointment) error {
	if confirmed.ID == "" {
		confirmed.ID = localID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	coll, _ := c.loadAppointments(ctx)
	now := c.now()
	entry := domain.CachedAppointment{
		Data:         confirmed,
		Version:      confirmed.Version,
		LastModified: now,
		LastSynced:   &now,
	}

	replaced := false
	kept := coll.Data[:0]
	for _, e := range coll.Data {
		if e.Data.ID == localID || e.Data.ID == confirmed.ID {
			if !replaced {
				kept = append(kept, entry)
				replaced = true
			}
			continue
		}
		kept = append(kept, e)
	}
	if !replaced {
		kept = append(kept, entry)
	}
	coll.Data = kept
	coll.LastSynced = &now
	return c.saveAppointments(ctx, coll)
}

// StoreAppointments writes a server listing. Entries with unconfirmed local
// changes are kept in place of the server copy, and offline creates not yet
// known to the server are kept at the end.
func (c *EntityCache) StoreAppointments(ctx context.Context, appointments []domain.Appointment) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, _ := c.loadAppointments(ctx)
	local := make(map[string]domain.CachedAppointment)
	for _, e := range existing.Data {
		if e.LocallyModified {
			local[e.Data.ID] = e
		}
	}

	now := c.now()
	coll := domain.AppointmentCollection{
		Data:         make([]domain.CachedAppointment, 0, len(appointments)),
		Version:      existing.Version + 1,
		LastModified: now,
		LastSynced:   &now,
	}
	seen := make(map[string]bool, len(appointments))
	for _, appt := range appointments {
		seen[appt.ID] = true
		if e, ok := local[appt.ID]; ok {
			coll.Data = append(coll.Data, e)
			continue
		}
		coll.Data = append(coll.Data, domain.CachedAppointment{
			Data:         appt,
			Version:      appt.Version,
			LastModified: now,
			LastSynced:   &now,
		})
	}
	for _, e := range existing.Data {
		if e.LocallyModified && !seen[e.Data.ID] && domain.IsTempID(e.Data.ID) {
			coll.Data = append(coll.Data, e)
		}
	}
	return c.saveAppointments(ctx, coll)
}

// RemoveAppointment drops the entry for id.
func (c *EntityCache) RemoveAppointment(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	coll, ok := c.loadAppointments(ctx)
	if !ok {
		return nil
	}
	kept := coll.Data[:0]
	for _, e := range coll.Data {
		if e.Data.ID != id {
			kept = append(kept, e)
		}
	}
	coll.Data = kept
	coll.LastModified = c.now()
	return c.saveAppointments(ctx, coll)
}

// StoreNotifications replaces the cached notifications.
func (c *EntityCache) StoreNotifications(ctx context.Context, notifications []domain.Notification) error {
	if notifications == nil {
		notifications = []domain.Notification{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.StoreData(ctx, domain.KeyNotifications, notifications, 1)
}

// GetNotifications returns the cached notifications.
func (c *EntityCache) GetNotifications(ctx context.Context) ([]domain.Notification, bool) {
	var out []domain.Notification
	if !c.GetData(ctx, domain.KeyNotifications, 0, &out) {
		return nil, false
	}
	return out, true
}

// MarkNotificationRead flags a cached notification as read.
func (c *EntityCache) MarkNotificationRead(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var list []domain.Notification
	if !c.GetData(ctx, domain.KeyNotifications, 0, &list) {
		return nil
	}
	for i := range list {
		if list[i].ID == id {
			list[i].Read = true
		}
	}
	return c.StoreData(ctx, domain.KeyNotifications, list, 1)
}

// StoreQueueStatus caches the latest queue position for a department.
func (c *EntityCache) StoreQueueStatus(ctx context.Context, status domain.QueueStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	statuses := make(map[string]domain.QueueStatus)
	c.GetData(ctx, domain.KeyQueueStatus, 0, &statuses)
	statuses[status.DepartmentID] = status
	return c.StoreData(ctx, domain.KeyQueueStatus, statuses, 1)
}

// GetQueueStatus returns the cached queue position for a department.
func (c *EntityCache) GetQueueStatus(ctx context.Context, departmentID string) (*domain.QueueStatus, bool) {
	statuses := make(map[string]domain.QueueStatus)
	if !c.GetData(ctx, domain.KeyQueueStatus, 0, &statuses) {
		return nil, false
	}
	status, ok := statuses[departmentID]
	if !ok {
		return nil, false
	}
	return &status, true
}

// ClearCache removes every cached domain collection.
func (c *EntityCache) ClearCache(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(ctx, domain.CachedKeys...); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	c.logger.Info("entity cache cleared")
	return nil
}

func (c *EntityCache) loadAppointments(ctx context.Context) (domain.AppointmentCollection, bool) {
	var coll domain.AppointmentCollection
	if !c.read(ctx, domain.KeyAppointments, &coll) {
		return domain.AppointmentCollection{}, false
	}
	if coll.Data == nil {
		coll.Data = []domain.CachedAppointment{}
	}
	return coll, true
}

func (c *EntityCache) saveAppointments(ctx context.Context, coll domain.AppointmentCollection) error {
	if coll.Data == nil {
		coll.Data = []domain.CachedAppointment{}
	}
	coll.LastModified = c.now()
	return c.write(ctx, domain.KeyAppointments, coll)
}

func (c *EntityCache) read(ctx context.Context, key string, out any) bool {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("failed to read cache, treating as empty", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Warn("failed to decode cache entry, treating as empty", "key", key, "error", err)
		return false
	}
	return true
}

func (c *EntityCache) write(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.store.Set(ctx, key, data); err != nil {
		c.logger.Error("failed to write cache", "key", key, "error", err)
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
