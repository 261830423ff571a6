package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
)

// Ensure Inspector implements TokenInspector
var _ driven.TokenInspector = (*Inspector)(nil)

// jwtClaims holds the access token claims the client reads
type jwtClaims struct {
	UserID string      `json:"user_id"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Inspector reads access token claims without verifying the signature.
// The client never holds the signing key; the backend still validates
// every request, this only avoids sending a token known to be expired.
type Inspector struct {
	parser *jwt.Parser
}

// NewInspector creates a new token inspector
func NewInspector() *Inspector {
	return &Inspector{parser: jwt.NewParser()}
}

// Inspect extracts subject, role and expiry from token
func (i *Inspector) Inspect(token string) (*domain.TokenInfo, error) {
	var claims jwtClaims
	if _, _, err := i.parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}

	info := &domain.TokenInfo{
		Subject: claims.Subject,
		Role:    claims.Role,
	}
	if info.Subject == "" {
		info.Subject = claims.UserID
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}
