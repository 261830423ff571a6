package driven

import (
	"context"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

// QueueStatusSource pushes live queue positions from the backend.
type QueueStatusSource interface {
	// Run delivers updates to handle until ctx is cancelled, reconnecting
	// as needed. Returns nil on cancellation.
	Run(ctx context.Context, handle func(ctx context.Context, status domain.QueueStatus)) error
}
