package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driving"
)

// Ensure appointmentService implements AppointmentService
var _ driving.AppointmentService = (*appointmentService)(nil)

const (
	msgQueuedOffline = "saved offline, will sync when connection is restored"
	msgFromCache     = "showing saved data while offline"
)

// appointmentService implements the AppointmentService interface
type appointmentService struct {
	client driven.OfflineAwareClient
	cache  *EntityCache
	logger *slog.Logger
	now    func() time.Time
}

// AppointmentServiceConfig holds dependencies for the appointment service.
type AppointmentServiceConfig struct {
	Client driven.OfflineAwareClient
	Cache  *EntityCache
	Logger *slog.Logger
	Clock  func() time.Time
}

// NewAppointmentService creates a new AppointmentService
func NewAppointmentService(cfg AppointmentServiceConfig) driving.AppointmentService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &appointmentService{
		client: cfg.Client,
		cache:  cfg.Cache,
		logger: logger.With("component", "appointment_service"),
		now:    clock,
	}
}

// List fetches appointments and refreshes the cache. On a network failure
// the cached list is returned instead.
func (s *appointmentService) List(ctx context.Context) (domain.Result[[]domain.Appointment], error) {
	var raw json.RawMessage
	if err := s.client.Get(ctx, "/appointments", &raw); err != nil {
		if domain.IsAuthError(err) {
			return domain.Failed[[]domain.Appointment](err), err
		}
		if domain.IsNetworkError(err) {
			if cached, ok := s.cache.GetAppointments(ctx); ok {
				res := domain.Succeeded(cached, msgFromCache)
				res.Offline = true
				return res, nil
			}
		}
		return domain.Failed[[]domain.Appointment](err), nil
	}

	appointments, err := decodeAppointmentList(raw)
	if err != nil {
		return domain.Failed[[]domain.Appointment](err), nil
	}
	if err := s.cache.StoreAppointments(ctx, appointments); err != nil {
		s.logger.Warn("failed to cache appointments", "error", err)
		return domain.Succeeded(appointments, ""), nil
	}

	// The cache view keeps unconfirmed local edits on top of the server list
	if merged, ok := s.cache.GetAppointments(ctx); ok {
		return domain.Succeeded(merged, ""), nil
	}
	return domain.Succeeded(appointments, ""), nil
}

// Get returns one appointment. Offline creates are served from the cache.
func (s *appointmentService) Get(ctx context.Context, id string) (domain.Result[*domain.Appointment], error) {
	if id == "" {
		return domain.Invalid[*domain.Appointment](map[string]string{"id": "id is required"}), nil
	}
	if domain.IsTempID(id) {
		if cached, ok := s.cache.GetAppointment(ctx, id); ok {
			appt := cached.Data
			return domain.Succeeded(&appt, ""), nil
		}
		return domain.Failed[*domain.Appointment](domain.ErrNotFound), nil
	}

	var raw json.RawMessage
	if err := s.client.Get(ctx, "/appointments/"+id, &raw); err != nil {
		if domain.IsAuthError(err) {
			return domain.Failed[*domain.Appointment](err), err
		}
		if domain.IsNetworkError(err) {
			if cached, ok := s.cache.GetAppointment(ctx, id); ok {
				appt := cached.Data
				res := domain.Succeeded(&appt, msgFromCache)
				res.Offline = true
				return res, nil
			}
		}
		return domain.Failed[*domain.Appointment](err), nil
	}

	appt, ok := decodeAppointment(raw)
	if !ok {
		return domain.Failed[*domain.Appointment](domain.ErrNotFound), nil
	}
	return domain.Succeeded(&appt, ""), nil
}

// Create books an appointment. Offline, the appointment is cached under a
// temp id and the create is queued.
func (s *appointmentService) Create(ctx context.Context, input domain.AppointmentInput) (domain.Result[*domain.Appointment], error) {
	if errs := input.Validate(); errs != nil {
		return domain.Invalid[*domain.Appointment](errs), nil
	}

	now := s.now()
	action := domain.CreateAppointmentAction{
		TempID: domain.TempID(domain.GenerateActionID(now)),
		Input:  input,
	}

	resp, err := s.client.PostWithOfflineSupport(ctx, action)
	if err != nil {
		return s.mutationFailed(err)
	}

	if resp.Offline {
		appt := domain.Appointment{CreatedAt: now, UpdatedAt: now}
		action.ApplyTo(&appt)
		if err := s.cache.UpdateAppointment(ctx, appt); err != nil {
			s.logger.Warn("failed to cache offline appointment", "id", appt.ID, "error", err)
		}
		s.logger.Info("appointment queued offline", "temp_id", appt.ID, "action_id", resp.ActionID, "urgency", input.Urgency)
		return domain.Queued(&appt, resp.ActionID, msgQueuedOffline), nil
	}

	appt, ok := decodeAppointment(resp.Data)
	if !ok {
		appt = domain.Appointment{CreatedAt: now, UpdatedAt: now}
		action.ApplyTo(&appt)
	}
	if err := s.cache.ConfirmAppointment(ctx, appt.ID, appt); err != nil {
		s.logger.Warn("failed to cache appointment", "id", appt.ID, "error", err)
	}
	return domain.Succeeded(&appt, "appointment created"), nil
}

// Update changes the given fields.
func (s *appointmentService) Update(ctx context.Context, id string, changes domain.AppointmentChanges) (domain.Result[*domain.Appointment], error) {
	if id == "" {
		return domain.Invalid[*domain.Appointment](map[string]string{"id": "id is required"}), nil
	}
	if changes.IsEmpty() {
		return domain.Invalid[*domain.Appointment](map[string]string{"changes": "nothing to update"}), nil
	}
	return s.mutate(ctx, domain.UpdateAppointmentAction{ID: id, Changes: changes}, "appointment updated")
}

// Cancel cancels an appointment.
func (s *appointmentService) Cancel(ctx context.Context, id, reason string) (domain.Result[*domain.Appointment], error) {
	if id == "" {
		return domain.Invalid[*domain.Appointment](map[string]string{"id": "id is required"}), nil
	}
	return s.mutate(ctx, domain.CancelAppointmentAction{ID: id, Reason: reason}, "appointment cancelled")
}

// Delete removes an appointment.
func (s *appointmentService) Delete(ctx context.Context, id string) (domain.Result[struct{}], error) {
	if id == "" {
		return domain.Invalid[struct{}](map[string]string{"id": "id is required"}), nil
	}

	resp, err := s.client.DeleteWithOfflineSupport(ctx, domain.DeleteAppointmentAction{ID: id})
	if err != nil {
		if domain.IsAuthError(err) {
			return domain.Failed[struct{}](err), err
		}
		return domain.Failed[struct{}](err), nil
	}

	if err := s.cache.RemoveAppointment(ctx, id); err != nil {
		s.logger.Warn("failed to remove cached appointment", "id", id, "error", err)
	}
	if resp.Offline {
		return domain.Queued(struct{}{}, resp.ActionID, msgQueuedOffline), nil
	}
	return domain.Succeeded(struct{}{}, "appointment deleted"), nil
}

// mutate sends an update-style action and keeps the cache in step.
func (s *appointmentService) mutate(ctx context.Context, action domain.AppointmentMutation, message string) (domain.Result[*domain.Appointment], error) {
	resp, err := s.client.PutWithOfflineSupport(ctx, action)
	if err != nil {
		return s.mutationFailed(err)
	}

	id := action.EntityID()
	if resp.Offline {
		appt := domain.Appointment{ID: id}
		if cached, ok := s.cache.GetAppointment(ctx, id); ok {
			appt = cached.Data
		}
		action.ApplyTo(&appt)
		appt.UpdatedAt = s.now()
		if err := s.cache.ReplaceAppointment(ctx, appt); err != nil {
			s.logger.Warn("failed to cache offline change", "id", id, "error", err)
		}
		return domain.Queued(&appt, resp.ActionID, msgQueuedOffline), nil
	}

	appt, ok := decodeAppointment(resp.Data)
	if !ok {
		appt = domain.Appointment{ID: id}
		if cached, found := s.cache.GetAppointment(ctx, id); found {
			appt = cached.Data
		}
		action.ApplyTo(&appt)
	}
	if err := s.cache.ConfirmAppointment(ctx, id, appt); err != nil {
		s.logger.Warn("failed to cache appointment", "id", id, "error", err)
	}
	return domain.Succeeded(&appt, message), nil
}

func (s *appointmentService) mutationFailed(err error) (domain.Result[*domain.Appointment], error) {
	if domain.IsAuthError(err) {
		return domain.Failed[*domain.Appointment](err), err
	}
	return domain.Failed[*domain.Appointment](err), nil
}

// decodeAppointmentList accepts a bare array or one wrapped in {"data": [...]}.
func decodeAppointmentList(raw json.RawMessage) ([]domain.Appointment, error) {
	var records []domain.AppointmentRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		var wrapped struct {
			Data []domain.AppointmentRecord `json:"data"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, err
		}
		records = wrapped.Data
	}

	out := make([]domain.Appointment, 0, len(records))
	for _, r := range records {
		out = append(out, r.ToAppointment())
	}
	return out, nil
}
