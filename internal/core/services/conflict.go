package services

import (
	"strings"
	"sync"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

// ConflictResolver maps entity types to conflict handlers. Entity types
// without a handler resolve to domain.ServerWins.
type ConflictResolver struct {
	mu       sync.RWMutex
	handlers map[string]domain.ConflictHandler
}

// NewConflictResolver creates a resolver with the appointment handler registered.
func NewConflictResolver() *ConflictResolver {
	r := &ConflictResolver{
		handlers: make(map[string]domain.ConflictHandler),
	}
	r.Register(domain.EntityTypeAppointment, AppointmentConflictHandler)
	return r
}

// Register sets the handler for entityType, replacing any previous one.
func (r *ConflictResolver) Register(entityType string, handler domain.ConflictHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[entityType] = handler
}

// Resolve returns the strategy for in.
func (r *ConflictResolver) Resolve(in domain.ConflictInput) domain.ConflictStrategy {
	r.mu.RLock()
	handler, ok := r.handlers[in.Action.EntityType]
	r.mu.RUnlock()

	if !ok || handler == nil {
		return domain.ServerWins
	}
	strategy := handler(in)
	if !strategy.Valid() {
		return domain.ServerWins
	}
	return strategy
}

// AppointmentConflictHandler keeps the user's cancellation over a stale
// server copy and lets the server win otherwise.
func AppointmentConflictHandler(in domain.ConflictInput) domain.ConflictStrategy {
	if in.Action.Kind == domain.ActionCancelAppointment || isCancelEndpoint(in.Action.Endpoint) {
		return domain.LocalWins
	}
	return domain.ServerWins
}

func isCancelEndpoint(endpoint string) bool {
	path := endpoint
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(strings.TrimSuffix(path, "/"), "/cancel")
}
