package driving

import (
	"context"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

// SyncService is the UI-facing surface of the offline queue and sync engine.
type SyncService interface {
	// QueueAction defers a mutation and returns its action id
	QueueAction(ctx context.Context, action domain.Action) (string, error)

	// GetPendingActionsCount returns the queue length (0 when no queue exists)
	GetPendingActionsCount(ctx context.Context) int

	// ListPendingActions returns queued actions in replay order
	ListPendingActions(ctx context.Context) []domain.PendingAction

	// ListDeadLetters returns actions that exhausted their attempts
	ListDeadLetters(ctx context.Context) []domain.PendingAction

	// DiscardAction permanently drops a queued or dead-lettered action
	DiscardAction(ctx context.Context, actionID string) error

	// ClearPendingActions drops every queued action (logout)
	ClearPendingActions(ctx context.Context) error

	// SyncOfflineActions replays the queue now ("Sync Now").
	// Returns domain.ErrSyncInProgress if a pass is already running.
	SyncOfflineActions(ctx context.Context) (*domain.SyncReport, error)

	// Status returns the engine state for status surfaces
	Status(ctx context.Context) *domain.SyncState
}
