package domain

import (
	"encoding/json"
	"time"
)

// SyncStatus represents the current state of the sync engine
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusRunning SyncStatus = "running"
	SyncStatusPaused  SyncStatus = "paused"
)

// SyncTrigger identifies what started a replay pass
type SyncTrigger string

const (
	SyncTriggerReconnect SyncTrigger = "reconnect"
	SyncTriggerManual    SyncTrigger = "manual"
	SyncTriggerRetry     SyncTrigger = "retry"
	SyncTriggerPeriodic  SyncTrigger = "periodic"
	SyncTriggerStartup   SyncTrigger = "startup"
)

// SyncInfo is persisted under KeySyncInfo after every pass.
type SyncInfo struct {
	LastSyncAt  *time.Time  `json:"lastSyncAt,omitempty"`
	Trigger     SyncTrigger `json:"trigger,omitempty"`
	LastSuccess int         `json:"lastSuccess"`
	LastFailed  int         `json:"lastFailed"`
	LastExpired int         `json:"lastExpired"`
	Pending     int         `json:"pending"`
	LastError   string      `json:"lastError,omitempty"`
}

// SyncReport describes a completed replay pass.
type SyncReport struct {
	Trigger        SyncTrigger   `json:"trigger"`
	Result         ReplayResult  `json:"result"`
	StartedAt      time.Time     `json:"startedAt"`
	Duration       time.Duration `json:"duration"`
	RetryScheduled bool          `json:"retryScheduled"`
	// Paused is set when replay stopped on an authentication failure
	Paused bool `json:"paused"`
}

// SyncState is a point-in-time view of the engine for status surfaces.
type SyncState struct {
	Status         SyncStatus `json:"status"`
	Connected      bool       `json:"connected"`
	Pending        int        `json:"pending"`
	DeadLetters    int        `json:"deadLetters"`
	RetryScheduled bool       `json:"retryScheduled"`
	Info           *SyncInfo  `json:"info,omitempty"`
}

// ConnectionInfo is persisted under KeyConnectionInfo on each transition.
type ConnectionInfo struct {
	IsConnected bool      `json:"isConnected"`
	ChangedAt   time.Time `json:"changedAt"`
}

// MutationResponse is returned by offline-aware client verbs. When the
// device is offline it is a synthetic 202 carrying the queued action id.
type MutationResponse struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data,omitempty"`
	Offline    bool            `json:"offline"`
	ActionID   string          `json:"actionId,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// Decode unmarshals the response body into v. Offline responses carry no
// server data and leave v untouched.
func (r *MutationResponse) Decode(v any) error {
	if r.Offline || len(r.Data) == 0 || v == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}
