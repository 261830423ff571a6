package driven

import (
	"context"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

// APIClient issues plain requests against the backend REST API.
// Response bodies are decoded into out when out is non-nil.
type APIClient interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string, out any) error
}

// OfflineAwareClient adds verbs that defer to the offline queue when the
// device is disconnected instead of failing.
type OfflineAwareClient interface {
	APIClient

	PostWithOfflineSupport(ctx context.Context, action domain.Action) (*domain.MutationResponse, error)
	PutWithOfflineSupport(ctx context.Context, action domain.Action) (*domain.MutationResponse, error)
	DeleteWithOfflineSupport(ctx context.Context, action domain.Action) (*domain.MutationResponse, error)
}

// TokenHolder owns the access token used on outgoing requests.
type TokenHolder interface {
	// SetAccessToken persists token and attaches it to later requests
	SetAccessToken(ctx context.Context, token string) error

	// ClearAccessToken removes the token from storage and request headers
	ClearAccessToken(ctx context.Context) error
}
