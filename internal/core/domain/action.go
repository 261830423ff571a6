package domain

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HTTPMethod is a mutating verb that can be deferred.
type HTTPMethod string

const (
	MethodPost   HTTPMethod = "POST"
	MethodPut    HTTPMethod = "PUT"
	MethodDelete HTTPMethod = "DELETE"
)

// Valid reports whether m may be queued.
func (m HTTPMethod) Valid() bool {
	switch m {
	case MethodPost, MethodPut, MethodDelete:
		return true
	}
	return false
}

// ActionKind tags the typed payload carried by a PendingAction.
type ActionKind string

const (
	ActionCreateAppointment    ActionKind = "appointment.create"
	ActionUpdateAppointment    ActionKind = "appointment.update"
	ActionCancelAppointment    ActionKind = "appointment.cancel"
	ActionDeleteAppointment    ActionKind = "appointment.delete"
	ActionMarkNotificationRead ActionKind = "notification.read"
	ActionRaw                  ActionKind = "raw"
)

// Entity types used to route conflict resolution and cache updates.
const (
	EntityTypeAppointment  = "appointment"
	EntityTypeNotification = "notification"
)

// Action is a mutation that can be sent now or deferred to the offline queue.
// Each kind carries its own typed payload so the shape written at enqueue time
// is the shape decoded at replay time.
type Action interface {
	Kind() ActionKind
	Method() HTTPMethod
	Endpoint() string
	EntityID() string
	EntityType() string
	// Payload returns the request body, or nil when the verb carries none.
	Payload() any
}

// CreateAppointmentAction books a new appointment. TempID identifies the
// optimistic cache entry until the server assigns a real id.
type CreateAppointmentAction struct {
	TempID string
	Input  AppointmentInput
}

func (a CreateAppointmentAction) Kind() ActionKind   { return ActionCreateAppointment }
func (a CreateAppointmentAction) Method() HTTPMethod { return MethodPost }
func (a CreateAppointmentAction) Endpoint() string   { return "/appointments" }
func (a CreateAppointmentAction) EntityID() string   { return a.TempID }
func (a CreateAppointmentAction) EntityType() string { return EntityTypeAppointment }
func (a CreateAppointmentAction) Payload() any       { return a.Input }

// ApplyTo writes the requested fields onto appt.
func (a CreateAppointmentAction) ApplyTo(appt *Appointment) {
	if a.TempID != "" && appt.ID == "" {
		appt.ID = a.TempID
	}
	appt.PatientID = a.Input.PatientID
	appt.DoctorID = a.Input.DoctorID
	appt.DepartmentID = a.Input.DepartmentID
	appt.ScheduledAt = a.Input.ScheduledAt
	appt.Urgency = a.Input.Urgency
	appt.Reason = a.Input.Reason
	appt.Notes = a.Input.Notes
	if appt.Status == "" {
		appt.Status = AppointmentStatusPending
	}
}

// UpdateAppointmentAction changes a subset of an appointment's fields.
type UpdateAppointmentAction struct {
	ID      string
	Changes AppointmentChanges
}

func (a UpdateAppointmentAction) Kind() ActionKind   { return ActionUpdateAppointment }
func (a UpdateAppointmentAction) Method() HTTPMethod { return MethodPut }
func (a UpdateAppointmentAction) Endpoint() string   { return "/appointments/" + a.ID }
func (a UpdateAppointmentAction) EntityID() string   { return a.ID }
func (a UpdateAppointmentAction) EntityType() string { return EntityTypeAppointment }
func (a UpdateAppointmentAction) Payload() any       { return a.Changes }

// ApplyTo writes only the fields present in Changes.
func (a UpdateAppointmentAction) ApplyTo(appt *Appointment) {
	a.Changes.ApplyTo(appt)
}

// CancelAppointmentAction cancels an appointment.
type CancelAppointmentAction struct {
	ID     string
	Reason string
}

// CancelPayload is the body sent to the cancel endpoint.
type CancelPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (a CancelAppointmentAction) Kind() ActionKind   { return ActionCancelAppointment }
func (a CancelAppointmentAction) Method() HTTPMethod { return MethodPut }
func (a CancelAppointmentAction) Endpoint() string   { return "/appointments/" + a.ID + "/cancel" }
func (a CancelAppointmentAction) EntityID() string   { return a.ID }
func (a CancelAppointmentAction) EntityType() string { return EntityTypeAppointment }
func (a CancelAppointmentAction) Payload() any       { return CancelPayload{Reason: a.Reason} }

func (a CancelAppointmentAction) ApplyTo(appt *Appointment) {
	appt.Status = AppointmentStatusCancelled
}

// DeleteAppointmentAction removes an appointment.
type DeleteAppointmentAction struct {
	ID string
}

func (a DeleteAppointmentAction) Kind() ActionKind   { return ActionDeleteAppointment }
func (a DeleteAppointmentAction) Method() HTTPMethod { return MethodDelete }
func (a DeleteAppointmentAction) Endpoint() string   { return "/appointments/" + a.ID }
func (a DeleteAppointmentAction) EntityID() string   { return a.ID }
func (a DeleteAppointmentAction) EntityType() string { return EntityTypeAppointment }
func (a DeleteAppointmentAction) Payload() any       { return nil }

// MarkNotificationReadAction marks a notification as read.
type MarkNotificationReadAction struct {
	ID string
}

func (a MarkNotificationReadAction) Kind() ActionKind   { return ActionMarkNotificationRead }
func (a MarkNotificationReadAction) Method() HTTPMethod { return MethodPut }
func (a MarkNotificationReadAction) Endpoint() string   { return "/notifications/" + a.ID + "/read" }
func (a MarkNotificationReadAction) EntityID() string   { return a.ID }
func (a MarkNotificationReadAction) EntityType() string { return EntityTypeNotification }
func (a MarkNotificationReadAction) Payload() any       { return nil }

// RawAction is an untyped mutation for endpoints without a dedicated kind.
type RawAction struct {
	Verb       HTTPMethod
	Path       string
	Body       json.RawMessage
	Entity     string
	EntityKind string
}

func (a RawAction) Kind() ActionKind   { return ActionRaw }
func (a RawAction) Method() HTTPMethod { return a.Verb }
func (a RawAction) Endpoint() string   { return a.Path }
func (a RawAction) EntityID() string   { return a.Entity }
func (a RawAction) EntityType() string { return a.EntityKind }

func (a RawAction) Payload() any {
	if len(a.Body) == 0 {
		return nil
	}
	return a.Body
}

// AppointmentMutation is implemented by actions that change a cached appointment.
type AppointmentMutation interface {
	Action
	ApplyTo(appt *Appointment)
}

var (
	_ AppointmentMutation = CreateAppointmentAction{}
	_ AppointmentMutation = UpdateAppointmentAction{}
	_ AppointmentMutation = CancelAppointmentAction{}
)

// PendingAction is the persisted record of a deferred mutation.
type PendingAction struct {
	// ID is {unixMillis}-{random}, unique without coordination
	ID string `json:"id"`

	// Kind selects the typed payload used to decode Data
	Kind ActionKind `json:"kind,omitempty"`

	Endpoint string          `json:"endpoint"`
	Method   HTTPMethod      `json:"method"`
	Data     json.RawMessage `json:"data"`

	// Timestamp is the creation time; queue order is insertion order
	Timestamp time.Time `json:"timestamp"`

	EntityID   string `json:"entityId,omitempty"`
	EntityType string `json:"entityType,omitempty"`

	// IdempotencyKey is sent on replay so the backend can drop duplicates
	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	// Attempts counts replays rejected by the server
	Attempts int `json:"attempts"`

	// LastError holds the most recent replay failure
	LastError  string `json:"lastError,omitempty"`
	LastStatus int    `json:"lastStatus,omitempty"`
}

// GenerateActionID creates an id of the form {unixMillis}-{random}.
func GenerateActionID(now time.Time) string {
	b := make([]byte, 5)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%d-%s", now.UnixMilli(), hex.EncodeToString(b))
}

// NewPendingAction serialises a typed action for the queue.
func NewPendingAction(a Action, now time.Time) (*PendingAction, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nil action", ErrInvalidInput)
	}
	if !a.Method().Valid() {
		return nil, fmt.Errorf("%w: method %q cannot be queued", ErrInvalidInput, a.Method())
	}
	if a.Endpoint() == "" {
		return nil, fmt.Errorf("%w: empty endpoint", ErrInvalidInput)
	}

	data, err := json.Marshal(a.Payload())
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", a.Kind(), err)
	}

	return &PendingAction{
		ID:             GenerateActionID(now),
		Kind:           a.Kind(),
		Endpoint:       a.Endpoint(),
		Method:         a.Method(),
		Data:           data,
		Timestamp:      now,
		EntityID:       a.EntityID(),
		EntityType:     a.EntityType(),
		IdempotencyKey: uuid.NewString(),
	}, nil
}

// HasPayload reports whether the action carries a request body.
func (p *PendingAction) HasPayload() bool {
	return len(p.Data) > 0 && string(p.Data) != "null"
}

// RecordFailure stores the outcome of a rejected replay.
func (p *PendingAction) RecordFailure(err error) {
	p.LastError = err.Error()
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		p.LastStatus = apiErr.StatusCode
	}
	if IsValidationError(err) {
		p.Attempts++
	}
}

// Exhausted reports whether the action has used up maxAttempts server rejections.
// A non-positive maxAttempts disables expiry.
func (p *PendingAction) Exhausted(maxAttempts int) bool {
	return maxAttempts > 0 && p.Attempts >= maxAttempts
}

// DecodeAction rebuilds the typed action from a persisted record.
func DecodeAction(p *PendingAction) (Action, error) {
	switch p.Kind {
	case ActionCreateAppointment:
		var input AppointmentInput
		if err := unmarshalPayload(p, &input); err != nil {
			return nil, err
		}
		return CreateAppointmentAction{TempID: p.EntityID, Input: input}, nil

	case ActionUpdateAppointment:
		var changes AppointmentChanges
		if err := unmarshalPayload(p, &changes); err != nil {
			return nil, err
		}
		return UpdateAppointmentAction{ID: p.EntityID, Changes: changes}, nil

	case ActionCancelAppointment:
		var body CancelPayload
		if err := unmarshalPayload(p, &body); err != nil {
			return nil, err
		}
		return CancelAppointmentAction{ID: p.EntityID, Reason: body.Reason}, nil

	case ActionDeleteAppointment:
		return DeleteAppointmentAction{ID: p.EntityID}, nil

	case ActionMarkNotificationRead:
		return MarkNotificationReadAction{ID: p.EntityID}, nil

	case ActionRaw, "":
		var body json.RawMessage
		if p.HasPayload() {
			body = p.Data
		}
		return RawAction{
			Verb:       p.Method,
			Path:       p.Endpoint,
			Body:       body,
			Entity:     p.EntityID,
			EntityKind: p.EntityType,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownActionKind, p.Kind)
}

func unmarshalPayload(p *PendingAction, v any) error {
	if !p.HasPayload() {
		return nil
	}
	if err := json.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("decode %s payload for action %s: %w", p.Kind, p.ID, err)
	}
	return nil
}

// ReplayResult is the outcome of one pass over the queue.
type ReplayResult struct {
	Success []PendingAction `json:"success"`
	Failed  []PendingAction `json:"failed"`
	// Expired holds actions moved to the dead-letter list during this pass
	Expired []PendingAction `json:"expired,omitempty"`
}
