package domain

import (
	"encoding/json"
	"time"
)

// Persisted storage keys.
const (
	KeyOfflineQueue    = "offline_queue"
	KeyDeadLetterQueue = "offline_queue_dead"
	KeyAppointments    = "appointments"
	KeyNotifications   = "notifications"
	KeyQueueStatus     = "queue_status"
	KeySyncInfo        = "sync_info"
	KeyConnectionInfo  = "connection_info"
	KeyAccessToken     = "access_token"
	KeyRefreshToken    = "refresh_token"
	KeyUser            = "user"
)

// CachedKeys are the domain collections removed by a cache clear.
var CachedKeys = []string{KeyAppointments, KeyNotifications, KeyQueueStatus}

// SensitiveKeys hold credentials and are encrypted at rest when a key is configured.
var SensitiveKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser}

// CachedEntity is a locally cached copy of server data with version metadata.
type CachedEntity[T any] struct {
	Data T `json:"data"`

	// Version is bumped on unconfirmed local writes and reset to the
	// server version on confirmation
	Version int `json:"version"`

	// LocallyModified is set on optimistic writes and cleared on confirmation
	LocallyModified bool `json:"locallyModified,omitempty"`

	// LastModified is the client time of the last local write
	LastModified time.Time `json:"timestamp"`

	// LastSynced is the time of the last server confirmation
	LastSynced *time.Time `json:"lastSynced"`
}

// VersionedData is the generic envelope written by StoreData.
type VersionedData = CachedEntity[json.RawMessage]

// CachedAppointment is one appointment entry in the cache.
type CachedAppointment = CachedEntity[Appointment]

// AppointmentCollection is the value stored under KeyAppointments.
type AppointmentCollection = CachedEntity[[]CachedAppointment]
