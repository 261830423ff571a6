package driven

import (
	"context"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

// OfflineQueue accepts mutations that cannot be sent right now.
// The HTTP client depends on this and nothing else from the sync layer.
type OfflineQueue interface {
	// QueueAction persists action for later replay and returns its id.
	QueueAction(ctx context.Context, action domain.Action) (actionID string, err error)
}
