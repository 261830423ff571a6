package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driving"
)

// Ensure authService implements AuthService
var _ driving.AuthService = (*authService)(nil)

// Resumer is notified after a successful login so a replay paused by an
// authentication failure can continue.
type Resumer interface {
	Resume()
}

// authService implements the AuthService interface
type authService struct {
	client driven.APIClient
	tokens driven.TokenHolder
	store  driven.KeyValueStore
	queue  *ActionQueue
	cache  *EntityCache
	resume Resumer
	logger *slog.Logger
}

// AuthServiceConfig holds dependencies for the auth service.
type AuthServiceConfig struct {
	Client  driven.APIClient
	Tokens  driven.TokenHolder
	Store   driven.KeyValueStore // Holds refresh_token and user
	Queue   *ActionQueue
	Cache   *EntityCache
	Resumer Resumer // Optional
	Logger  *slog.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(cfg AuthServiceConfig) driving.AuthService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &authService{
		client: cfg.Client,
		tokens: cfg.Tokens,
		store:  cfg.Store,
		queue:  cfg.Queue,
		cache:  cfg.Cache,
		resume: cfg.Resumer,
		logger: logger.With("component", "auth_service"),
	}
}

// Login authenticates against the backend and stores the session locally
func (s *authService) Login(ctx context.Context, email, password string) (domain.Result[*domain.User], error) {
	// Validate input
	errs := make(map[string]string)
	if email == "" {
		errs["email"] = "email is required"
	}
	if password == "" {
		errs["password"] = "password is required"
	}
	if len(errs) > 0 {
		return domain.Invalid[*domain.User](errs), nil
	}

	var resp domain.LoginResponse
	err := s.client.Post(ctx, "/auth/login", domain.LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		// A 401 here means bad credentials, not an expired session
		res := domain.Failed[*domain.User](err)
		if domain.IsAuthError(err) {
			res.Message = "invalid email or password"
		}
		return res, nil
	}
	if resp.AccessToken == "" {
		return domain.Failed[*domain.User](fmt.Errorf("%w: login response without token", domain.ErrTokenInvalid)), nil
	}

	if err := s.tokens.SetAccessToken(ctx, resp.AccessToken); err != nil {
		return domain.Failed[*domain.User](err), nil
	}
	if resp.RefreshToken != "" {
		if err := s.store.Set(ctx, domain.KeyRefreshToken, []byte(resp.RefreshToken)); err != nil {
			s.logger.Warn("failed to store refresh token", "error", err)
		}
	}
	if resp.User != nil {
		s.saveUser(ctx, resp.User)
	}

	if s.resume != nil {
		s.resume.Resume()
	}

	s.logger.Info("signed in", "email", email)
	return domain.Succeeded(resp.User, "signed in"), nil
}

// Logout ends the session and wipes everything stored for the user
func (s *authService) Logout(ctx context.Context) error {
	// Best effort: the local session is cleared even if the backend is unreachable
	if err := s.client.Post(ctx, "/auth/logout", nil, nil); err != nil {
		s.logger.Debug("backend logout failed", "error", err)
	}

	var errs []error
	if err := s.tokens.ClearAccessToken(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Delete(ctx, domain.KeyRefreshToken, domain.KeyUser, domain.KeySyncInfo); err != nil {
		errs = append(errs, fmt.Errorf("clear session: %w", err))
	}
	if s.queue != nil {
		if err := s.queue.ClearPendingActions(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.cache != nil {
		if err := s.cache.ClearCache(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info("signed out")
	return errors.Join(errs...)
}

// CurrentUser returns the cached profile, fetching it once if a token is present
func (s *authService) CurrentUser(ctx context.Context) (*domain.User, error) {
	data, err := s.store.Get(ctx, domain.KeyUser)
	if err == nil {
		var user domain.User
		if err := json.Unmarshal(data, &user); err == nil {
			return &user, nil
		}
	}

	if _, err := s.store.Get(ctx, domain.KeyAccessToken); err != nil {
		return nil, domain.ErrUnauthorized
	}

	var user domain.User
	if err := s.client.Get(ctx, "/auth/me", &user); err != nil {
		if domain.IsAuthError(err) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	s.saveUser(ctx, &user)
	return &user, nil
}

func (s *authService) saveUser(ctx context.Context, user *domain.User) {
	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := s.store.Set(ctx, domain.KeyUser, data); err != nil {
		s.logger.Warn("failed to store user profile", "error", err)
	}
}
