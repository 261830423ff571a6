package domain

import "encoding/json"

// ConflictStrategy selects whose data wins when a replayed action and the
// server's response disagree.
type ConflictStrategy string

const (
	// ServerWins overwrites the cache with the server's copy
	ServerWins ConflictStrategy = "SERVER_WINS"

	// LocalWins keeps local values and adopts only server-assigned fields
	LocalWins ConflictStrategy = "LOCAL_WINS"

	// Merge takes fields present in the action payload, the rest from the server
	Merge ConflictStrategy = "MERGE"
)

// Valid reports whether s is a known strategy.
func (s ConflictStrategy) Valid() bool {
	switch s {
	case ServerWins, LocalWins, Merge:
		return true
	}
	return false
}

// ConflictInput is handed to a per-entity-type handler.
type ConflictInput struct {
	Action     PendingAction
	ServerData json.RawMessage
}

// ConflictHandler picks a strategy for one replayed action.
type ConflictHandler func(in ConflictInput) ConflictStrategy
