package domain

import "time"

// LoginRequest represents a login attempt
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by the backend after successful authentication
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	User         *User  `json:"user"`
}

// TokenInfo is what the client can learn from an access token without verifying it
type TokenInfo struct {
	Subject   string    `json:"sub,omitempty"`
	Role      Role      `json:"role,omitempty"`
	ExpiresAt time.Time `json:"exp"`
}

// IsExpired checks if the token has expired at now, allowing for clock skew
func (t *TokenInfo) IsExpired(now time.Time, skew time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.After(t.ExpiresAt.Add(skew))
}

// TokenEvent is emitted when the stored access token stops being usable
type TokenEvent struct {
	Reason error
	At     time.Time
}
