package driving

import (
	"context"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

// AppointmentService manages appointments with offline support.
// Only authentication failures are returned as errors; everything else is
// reported through the Result.
type AppointmentService interface {
	// List returns appointments from the server, or the cache when offline
	List(ctx context.Context) (domain.Result[[]domain.Appointment], error)

	// Get returns a single appointment
	Get(ctx context.Context, id string) (domain.Result[*domain.Appointment], error)

	// Create books an appointment; offline it is queued under a temp id
	Create(ctx context.Context, input domain.AppointmentInput) (domain.Result[*domain.Appointment], error)

	// Update changes the given fields
	Update(ctx context.Context, id string, changes domain.AppointmentChanges) (domain.Result[*domain.Appointment], error)

	// Cancel cancels an appointment
	Cancel(ctx context.Context, id, reason string) (domain.Result[*domain.Appointment], error)

	// Delete removes an appointment
	Delete(ctx context.Context, id string) (domain.Result[struct{}], error)
}

// NotificationService manages the user's notifications.
type NotificationService interface {
	// List returns notifications, falling back to the cache when offline
	List(ctx context.Context) (domain.Result[[]domain.Notification], error)

	// MarkRead marks a notification as read; offline it is queued
	MarkRead(ctx context.Context, id string) (domain.Result[struct{}], error)
}

// AuthService manages the signed-in session on the device.
type AuthService interface {
	// Login authenticates and stores tokens and the user profile
	Login(ctx context.Context, email, password string) (domain.Result[*domain.User], error)

	// Logout clears tokens, the offline queue and the entity cache
	Logout(ctx context.Context) error

	// CurrentUser returns the cached profile.
	// Returns domain.ErrUnauthorized when nobody is signed in.
	CurrentUser(ctx context.Context) (*domain.User, error)
}
