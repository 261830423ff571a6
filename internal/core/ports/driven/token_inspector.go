package driven

import "github.com/custodia-labs/carequeue-sync/internal/core/domain"

// TokenInspector reads claims from an access token without verifying its
// signature. The backend remains the authority on validity.
type TokenInspector interface {
	// Inspect returns the claims the client cares about.
	// Returns domain.ErrTokenInvalid if the token cannot be parsed.
	Inspect(token string) (*domain.TokenInfo, error)
}
