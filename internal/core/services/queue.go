package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
	"github.com/custodia-labs/carequeue-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.OfflineQueue = (*ActionQueue)(nil)

// DefaultMaxAttempts is how many server rejections an action survives
// before it is moved to the dead-letter list.
const DefaultMaxAttempts = 5

// ReplayHook is called after each successful dispatch, before the next
// action is sent.
type ReplayHook func(ctx context.Context, action domain.PendingAction, response json.RawMessage)

// ActionQueue is the durable FIFO of deferred mutations stored under
// domain.KeyOfflineQueue. Read-modify-write sequences are serialised by mu;
// dispatch happens outside the lock so enqueues are never blocked by a replay.
type ActionQueue struct {
	store       driven.KeyValueStore
	logger      *slog.Logger
	now         func() time.Time
	maxAttempts int

	mu sync.Mutex
}

// ActionQueueConfig holds configuration for the queue.
type ActionQueueConfig struct {
	Store       driven.KeyValueStore
	Logger      *slog.Logger
	Clock       func() time.Time
	MaxAttempts int // Server rejections before dead-lettering (default: 5, negative disables)
}

// NewActionQueue creates a new action queue.
func NewActionQueue(cfg ActionQueueConfig) *ActionQueue {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &ActionQueue{
		store:       cfg.Store,
		logger:      logger.With("component", "action_queue"),
		now:         clock,
		maxAttempts: maxAttempts,
	}
}

// QueueAction appends action to the persisted queue and returns its id.
func (q *ActionQueue) QueueAction(ctx context.Context, action domain.Action) (string, error) {
	pending, err := domain.NewPendingAction(action, q.now())
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	actions, err := q.load(ctx, domain.KeyOfflineQueue)
	if err != nil {
		// Writing over an unreadable queue would drop its entries
		return "", fmt.Errorf("read offline queue: %w", err)
	}
	actions = append(actions, *pending)

	if err := q.save(ctx, domain.KeyOfflineQueue, actions); err != nil {
		return "", err
	}

	q.logger.Info("action queued",
		"action_id", pending.ID,
		"kind", pending.Kind,
		"method", pending.Method,
		"endpoint", pending.Endpoint,
		"pending", len(actions),
	)
	return pending.ID, nil
}

// GetPendingActionsCount returns the number of queued actions.
// Storage errors are logged and reported as an empty queue.
func (q *ActionQueue) GetPendingActionsCount(ctx context.Context) int {
	return len(q.ListPendingActions(ctx))
}

// ListPendingActions returns queued actions in replay order.
func (q *ActionQueue) ListPendingActions(ctx context.Context) []domain.PendingAction {
	return q.list(ctx, domain.KeyOfflineQueue)
}

// ListDeadLetters returns actions that exhausted their attempts.
func (q *ActionQueue) ListDeadLetters(ctx context.Context) []domain.PendingAction {
	return q.list(ctx, domain.KeyDeadLetterQueue)
}

func (q *ActionQueue) list(ctx context.Context, key string) []domain.PendingAction {
	actions, err := q.load(ctx, key)
	if err != nil {
		q.logger.Warn("failed to read queue, treating as empty", "key", key, "error", err)
		return nil
	}
	return actions
}

// ClearPendingActions drops every queued and dead-lettered action.
func (q *ActionQueue) ClearPendingActions(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Delete(ctx, domain.KeyOfflineQueue, domain.KeyDeadLetterQueue); err != nil {
		return fmt.Errorf("clear offline queue: %w", err)
	}
	q.logger.Info("offline queue cleared")
	return nil
}

// DiscardAction removes one action from the queue or the dead-letter list.
// Returns domain.ErrNotFound if neither holds it.
func (q *ActionQueue) DiscardAction(ctx context.Context, actionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, key := range []string{domain.KeyOfflineQueue, domain.KeyDeadLetterQueue} {
		actions, err := q.load(ctx, key)
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		for i, a := range actions {
			if a.ID != actionID {
				continue
			}
			actions = append(actions[:i:i], actions[i+1:]...)
			if err := q.save(ctx, key, actions); err != nil {
				return err
			}
			q.logger.Info("action discarded", "action_id", actionID, "key", key)
			return nil
		}
	}
	return fmt.Errorf("action %s: %w", actionID, domain.ErrNotFound)
}

// ProcessPendingActions replays the queue in stored order through transport.
//
// Each action lands in Success or Failed. Once an action for an entity fails,
// later actions for that entity are not sent in this pass. An authentication
// failure stops the pass; the untouched remainder is reported as failed and
// the returned error wraps domain.ErrUnauthorized.
//
// After the pass the persisted queue is rewritten without the successes and
// expired actions. Actions enqueued while the pass ran are kept at the end.
func (q *ActionQueue) ProcessPendingActions(ctx context.Context, transport driven.Transport, onSuccess ReplayHook) (domain.ReplayResult, error) {
	result := domain.ReplayResult{
		Success: []domain.PendingAction{},
		Failed:  []domain.PendingAction{},
	}

	snapshot := q.ListPendingActions(ctx)
	if len(snapshot) == 0 {
		return result, nil
	}

	q.logger.Info("replaying offline queue", "pending", len(snapshot))

	blocked := make(map[string]error)
	idMap := make(map[string]string)
	updated := make(map[string]domain.PendingAction)
	var passErr error

	for i := range snapshot {
		action := snapshot[i]
		remapEntity(&action, idMap)

		if passErr != nil {
			result.Failed = append(result.Failed, action)
			updated[action.ID] = action
			continue
		}
		if err := ctx.Err(); err != nil {
			passErr = err
			result.Failed = append(result.Failed, action)
			updated[action.ID] = action
			continue
		}

		if key := entityKey(action); key != "" {
			if cause, ok := blocked[key]; ok {
				action.LastError = fmt.Sprintf("%v: %v", domain.ErrBlockedByPredecessor, cause)
				result.Failed = append(result.Failed, action)
				updated[action.ID] = action
				continue
			}
		}

		response, err := transport.Dispatch(ctx, &action)
		if err == nil {
			result.Success = append(result.Success, action)
			if action.Method == domain.MethodPost && domain.IsTempID(action.EntityID) {
				if serverID := extractID(response); serverID != "" {
					idMap[action.EntityID] = serverID
				}
			}
			if onSuccess != nil {
				onSuccess(context.WithoutCancel(ctx), action, response)
			}
			continue
		}

		action.RecordFailure(err)
		q.logger.Warn("replay failed",
			"action_id", action.ID,
			"endpoint", action.Endpoint,
			"attempts", action.Attempts,
			"error", err,
		)

		if domain.IsAuthError(err) {
			passErr = fmt.Errorf("replay paused: %w", err)
			result.Failed = append(result.Failed, action)
			updated[action.ID] = action
			continue
		}

		if key := entityKey(action); key != "" {
			blocked[key] = err
		}

		if action.Exhausted(q.maxAttempts) {
			result.Expired = append(result.Expired, action)
			continue
		}
		result.Failed = append(result.Failed, action)
		updated[action.ID] = action
	}

	// The server has already applied the successes, so the rewrite must
	// land even if ctx was cancelled mid-pass.
	if err := q.commit(context.WithoutCancel(ctx), result, updated, idMap); err != nil {
		if passErr == nil {
			passErr = err
		}
	}

	q.logger.Info("replay pass finished",
		"success", len(result.Success),
		"failed", len(result.Failed),
		"expired", len(result.Expired),
	)
	return result, passErr
}

// commit rewrites the persisted queue against its current contents so
// entries added during the pass survive.
func (q *ActionQueue) commit(ctx context.Context, result domain.ReplayResult, updated map[string]domain.PendingAction, idMap map[string]string) error {
	remove := make(map[string]bool, len(result.Success)+len(result.Expired))
	for _, a := range result.Success {
		remove[a.ID] = true
	}
	for _, a := range result.Expired {
		remove[a.ID] = true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.load(ctx, domain.KeyOfflineQueue)
	if err != nil {
		q.logger.Error("failed to reload queue after replay", "error", err)
		return fmt.Errorf("reload offline queue: %w", err)
	}

	remaining := make([]domain.PendingAction, 0, len(current))
	for _, a := range current {
		if remove[a.ID] {
			continue
		}
		if u, ok := updated[a.ID]; ok {
			a = u
		}
		remapEntity(&a, idMap)
		remaining = append(remaining, a)
	}

	if err := q.save(ctx, domain.KeyOfflineQueue, remaining); err != nil {
		q.logger.Error("failed to rewrite queue after replay", "error", err)
		return err
	}

	if len(result.Expired) > 0 {
		dead, err := q.load(ctx, domain.KeyDeadLetterQueue)
		if err != nil {
			q.logger.Warn("failed to read dead-letter list", "error", err)
			dead = nil
		}
		dead = append(dead, result.Expired...)
		if err := q.save(ctx, domain.KeyDeadLetterQueue, dead); err != nil {
			q.logger.Error("failed to write dead-letter list", "error", err)
			return err
		}
		for _, a := range result.Expired {
			q.logger.Warn("action expired", "action_id", a.ID, "endpoint", a.Endpoint, "last_error", a.LastError)
		}
	}
	return nil
}

// load returns the actions under key; a missing key is an empty queue.
func (q *ActionQueue) load(ctx context.Context, key string) ([]domain.PendingAction, error) {
	data, err := q.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var actions []domain.PendingAction
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return actions, nil
}

func (q *ActionQueue) save(ctx context.Context, key string, actions []domain.PendingAction) error {
	if actions == nil {
		actions = []domain.PendingAction{}
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := q.store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func entityKey(a domain.PendingAction) string {
	if a.EntityID == "" {
		return ""
	}
	return a.EntityType + ":" + a.EntityID
}

// remapEntity points an action created against a temp id at the id the
// server assigned earlier in the pass.
func remapEntity(a *domain.PendingAction, idMap map[string]string) {
	serverID, ok := idMap[a.EntityID]
	if !ok {
		return
	}
	a.Endpoint = strings.ReplaceAll(a.Endpoint, "/"+a.EntityID, "/"+serverID)
	a.EntityID = serverID
}

// extractID reads the id from a response shaped {"id": ...} or {"data": {"id": ...}}.
func extractID(response json.RawMessage) string {
	if len(response) == 0 {
		return ""
	}
	var body struct {
		ID   json.RawMessage `json:"id"`
		Data struct {
			ID json.RawMessage `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(response, &body); err != nil {
		return ""
	}
	if id := rawID(body.ID); id != "" {
		return id
	}
	return rawID(body.Data.ID)
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// Numeric ids
	return string(raw)
}
