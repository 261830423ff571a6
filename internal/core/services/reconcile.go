package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

// Reconciler applies a confirmed server response for one entity type to
// the entity cache, honouring the resolved conflict strategy.
type Reconciler interface {
	Reconcile(ctx context.Context, action domain.PendingAction, strategy domain.ConflictStrategy, response json.RawMessage) error
}

type appointmentReconciler struct {
	cache  *EntityCache
	logger *slog.Logger
}

func (r *appointmentReconciler) Reconcile(ctx context.Context, action domain.PendingAction, strategy domain.ConflictStrategy, response json.RawMessage) error {
	if action.Method == domain.MethodDelete {
		return r.cache.RemoveAppointment(ctx, action.EntityID)
	}

	local, found := r.cache.GetAppointment(ctx, action.EntityID)

	server, ok := decodeAppointment(response)
	if !ok {
		// Nothing authoritative to merge; the local copy is now confirmed
		if !found {
			return nil
		}
		return r.cache.ConfirmAppointment(ctx, action.EntityID, local.Data)
	}

	var mutation domain.AppointmentMutation
	if typed, err := domain.DecodeAction(&action); err == nil {
		mutation, _ = typed.(domain.AppointmentMutation)
	}

	result := resolveAppointment(strategy, server, local, mutation)
	if result.ID == "" {
		result.ID = action.EntityID
	}

	r.logger.Debug("reconciled appointment",
		"entity_id", action.EntityID,
		"server_id", result.ID,
		"strategy", strategy,
	)
	return r.cache.ConfirmAppointment(ctx, action.EntityID, result)
}

// resolveAppointment builds the cache entry for a confirmed action.
func resolveAppointment(strategy domain.ConflictStrategy, server domain.Appointment, local *domain.CachedAppointment, mutation domain.AppointmentMutation) domain.Appointment {
	switch strategy {
	case domain.LocalWins:
		result := server
		if local != nil {
			result = local.Data
			result.AdoptServerAssigned(server)
		}
		if mutation != nil {
			mutation.ApplyTo(&result)
		}
		return result

	case domain.Merge:
		result := server
		if mutation != nil {
			mutation.ApplyTo(&result)
		}
		return result
	}
	return server
}

// decodeAppointment accepts a bare record or one wrapped in {"data": ...}.
func decodeAppointment(response json.RawMessage) (domain.Appointment, bool) {
	if len(response) == 0 {
		return domain.Appointment{}, false
	}

	var wrapped struct {
		Data *domain.AppointmentRecord `json:"data"`
	}
	if err := json.Unmarshal(response, &wrapped); err == nil && wrapped.Data != nil && wrapped.Data.ID != "" {
		return wrapped.Data.ToAppointment(), true
	}

	var rec domain.AppointmentRecord
	if err := json.Unmarshal(response, &rec); err != nil || rec.ID == "" {
		return domain.Appointment{}, false
	}
	return rec.ToAppointment(), true
}

type notificationReconciler struct {
	cache *EntityCache
}

func (r *notificationReconciler) Reconcile(ctx context.Context, action domain.PendingAction, strategy domain.ConflictStrategy, response json.RawMessage) error {
	if action.Kind != domain.ActionMarkNotificationRead {
		return nil
	}
	return r.cache.MarkNotificationRead(ctx, action.EntityID)
}
