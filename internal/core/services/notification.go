package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driving"
)

// Ensure notificationService implements NotificationService
var _ driving.NotificationService = (*notificationService)(nil)

type notificationService struct {
	client driven.OfflineAwareClient
	cache  *EntityCache
	logger *slog.Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(client driven.OfflineAwareClient, cache *EntityCache, logger *slog.Logger) driving.NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &notificationService{
		client: client,
		cache:  cache,
		logger: logger.With("component", "notification_service"),
	}
}

func (s *notificationService) List(ctx context.Context) (domain.Result[[]domain.Notification], error) {
	var raw json.RawMessage
	if err := s.client.Get(ctx, "/notifications", &raw); err != nil {
		if domain.IsAuthError(err) {
			return domain.Failed[[]domain.Notification](err), err
		}
		if domain.IsNetworkError(err) {
			if cached, ok := s.cache.GetNotifications(ctx); ok {
				res := domain.Succeeded(cached, msgFromCache)
				res.Offline = true
				return res, nil
			}
		}
		return domain.Failed[[]domain.Notification](err), nil
	}

	var records []domain.NotificationRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		var wrapped struct {
			Data []domain.NotificationRecord `json:"data"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return domain.Failed[[]domain.Notification](err), nil
		}
		records = wrapped.Data
	}

	list := make([]domain.Notification, 0, len(records))
	for _, r := range records {
		list = append(list, r.ToNotification())
	}
	if err := s.cache.StoreNotifications(ctx, list); err != nil {
		s.logger.Warn("failed to cache notifications", "error", err)
	}
	return domain.Succeeded(list, ""), nil
}

func (s *notificationService) MarkRead(ctx context.Context, id string) (domain.Result[struct{}], error) {
	if id == "" {
		return domain.Invalid[struct{}](map[string]string{"id": "id is required"}), nil
	}

	resp, err := s.client.PutWithOfflineSupport(ctx, domain.MarkNotificationReadAction{ID: id})
	if err != nil {
		if domain.IsAuthError(err) {
			return domain.Failed[struct{}](err), err
		}
		return domain.Failed[struct{}](err), nil
	}

	if err := s.cache.MarkNotificationRead(ctx, id); err != nil {
		s.logger.Warn("failed to update cached notification", "id", id, "error", err)
	}
	if resp.Offline {
		return domain.Queued(struct{}{}, resp.ActionID, msgQueuedOffline), nil
	}
	return domain.Succeeded(struct{}{}, ""), nil
}
