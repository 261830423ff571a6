package driven

import (
	"context"
	"encoding/json"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

// Transport sends a persisted action to the backend.
type Transport interface {
	// Dispatch issues the request described by action and returns the
	// response body. Errors are *domain.NetworkError when no response
	// arrived and *domain.APIError for non-2xx responses.
	Dispatch(ctx context.Context, action *domain.PendingAction) (json.RawMessage, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, action *domain.PendingAction) (json.RawMessage, error)

// Dispatch calls f.
func (f TransportFunc) Dispatch(ctx context.Context, action *domain.PendingAction) (json.RawMessage, error) {
	return f(ctx, action)
}
