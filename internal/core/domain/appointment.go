package domain

import (
	"strings"
	"time"
)

// Urgency is the triage level requested for an appointment
type Urgency string

const (
	UrgencyNormal    Urgency = "normal"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

// AppointmentStatus is the lifecycle state of an appointment
type AppointmentStatus string

const (
	AppointmentStatusPending    AppointmentStatus = "pending"
	AppointmentStatusConfirmed  AppointmentStatus = "confirmed"
	AppointmentStatusInProgress AppointmentStatus = "in_progress"
	AppointmentStatusCompleted  AppointmentStatus = "completed"
	AppointmentStatusCancelled  AppointmentStatus = "cancelled"
)

// TempIDPrefix marks ids assigned locally to appointments created offline.
const TempIDPrefix = "temp-"

// TempID returns the local placeholder id for an offline create.
func TempID(actionID string) string {
	return TempIDPrefix + actionID
}

// IsTempID reports whether id was assigned locally.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Appointment is the client-side appointment shape.
type Appointment struct {
	ID           string            `json:"id"`
	PatientID    string            `json:"patientId,omitempty"`
	DoctorID     string            `json:"doctorId,omitempty"`
	DepartmentID string            `json:"departmentId,omitempty"`
	ScheduledAt  time.Time         `json:"scheduledAt"`
	Urgency      Urgency           `json:"urgency,omitempty"`
	Status       AppointmentStatus `json:"status,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	QueueNumber  int               `json:"queueNumber,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	Version      int               `json:"version,omitempty"`
}

// MergeFrom shallow-merges the non-zero fields of patch into a.
func (a *Appointment) MergeFrom(patch Appointment) {
	if patch.ID != "" {
		a.ID = patch.ID
	}
	if patch.PatientID != "" {
		a.PatientID = patch.PatientID
	}
	if patch.DoctorID != "" {
		a.DoctorID = patch.DoctorID
	}
	if patch.DepartmentID != "" {
		a.DepartmentID = patch.DepartmentID
	}
	if !patch.ScheduledAt.IsZero() {
		a.ScheduledAt = patch.ScheduledAt
	}
	if patch.Urgency != "" {
		a.Urgency = patch.Urgency
	}
	if patch.Status != "" {
		a.Status = patch.Status
	}
	if patch.Reason != "" {
		a.Reason = patch.Reason
	}
	if patch.Notes != "" {
		a.Notes = patch.Notes
	}
	if patch.QueueNumber != 0 {
		a.QueueNumber = patch.QueueNumber
	}
	if !patch.CreatedAt.IsZero() {
		a.CreatedAt = patch.CreatedAt
	}
	if !patch.UpdatedAt.IsZero() {
		a.UpdatedAt = patch.UpdatedAt
	}
	if patch.Version != 0 {
		a.Version = patch.Version
	}
}

// AdoptServerAssigned copies the fields only the server can know.
func (a *Appointment) AdoptServerAssigned(server Appointment) {
	if server.ID != "" {
		a.ID = server.ID
	}
	if server.QueueNumber != 0 {
		a.QueueNumber = server.QueueNumber
	}
	if !server.CreatedAt.IsZero() {
		a.CreatedAt = server.CreatedAt
	}
	if !server.UpdatedAt.IsZero() {
		a.UpdatedAt = server.UpdatedAt
	}
	if server.Version != 0 {
		a.Version = server.Version
	}
}

// AppointmentRecord is the backend wire shape.
type AppointmentRecord struct {
	ID           string            `json:"id"`
	PatientID    string            `json:"patient_id,omitempty"`
	DoctorID     string            `json:"doctor_id,omitempty"`
	DepartmentID string            `json:"department_id,omitempty"`
	ScheduledAt  time.Time         `json:"scheduled_at"`
	Urgency      Urgency           `json:"urgency,omitempty"`
	Status       AppointmentStatus `json:"status,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	QueueNumber  int               `json:"queue_number,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Version      int               `json:"version,omitempty"`
}

// ToAppointment converts the backend shape to the client shape.
func (r AppointmentRecord) ToAppointment() Appointment {
	return Appointment{
		ID:           r.ID,
		PatientID:    r.PatientID,
		DoctorID:     r.DoctorID,
		DepartmentID: r.DepartmentID,
		ScheduledAt:  r.ScheduledAt,
		Urgency:      r.Urgency,
		Status:       r.Status,
		Reason:       r.Reason,
		Notes:        r.Notes,
		QueueNumber:  r.QueueNumber,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		Version:      r.Version,
	}
}

// AppointmentRecordFrom converts the client shape to the backend shape.
func AppointmentRecordFrom(a Appointment) AppointmentRecord {
	return AppointmentRecord{
		ID:           a.ID,
		PatientID:    a.PatientID,
		DoctorID:     a.DoctorID,
		DepartmentID: a.DepartmentID,
		ScheduledAt:  a.ScheduledAt,
		Urgency:      a.Urgency,
		Status:       a.Status,
		Reason:       a.Reason,
		Notes:        a.Notes,
		QueueNumber:  a.QueueNumber,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		Version:      a.Version,
	}
}

// AppointmentInput is the body of a create request.
type AppointmentInput struct {
	PatientID    string    `json:"patient_id"`
	DoctorID     string    `json:"doctor_id,omitempty"`
	DepartmentID string    `json:"department_id"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Urgency      Urgency   `json:"urgency"`
	Reason       string    `json:"reason,omitempty"`
	Notes        string    `json:"notes,omitempty"`
}

// Validate checks the fields the backend requires.
func (in AppointmentInput) Validate() map[string]string {
	errs := make(map[string]string)
	if in.PatientID == "" {
		errs["patientId"] = "patient is required"
	}
	if in.DepartmentID == "" {
		errs["departmentId"] = "department is required"
	}
	switch in.Urgency {
	case UrgencyNormal, UrgencyUrgent, UrgencyEmergency:
	case "":
		errs["urgency"] = "urgency is required"
	default:
		errs["urgency"] = "unknown urgency " + string(in.Urgency)
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// AppointmentChanges is the body of an update request. Nil fields are not sent.
type AppointmentChanges struct {
	DoctorID     *string            `json:"doctor_id,omitempty"`
	DepartmentID *string            `json:"department_id,omitempty"`
	ScheduledAt  *time.Time         `json:"scheduled_at,omitempty"`
	Urgency      *Urgency           `json:"urgency,omitempty"`
	Status       *AppointmentStatus `json:"status,omitempty"`
	Reason       *string            `json:"reason,omitempty"`
	Notes        *string            `json:"notes,omitempty"`
}

// IsEmpty reports whether no field is set.
func (c AppointmentChanges) IsEmpty() bool {
	return c.DoctorID == nil && c.DepartmentID == nil && c.ScheduledAt == nil &&
		c.Urgency == nil && c.Status == nil && c.Reason == nil && c.Notes == nil
}

// ApplyTo writes the present fields onto appt.
func (c AppointmentChanges) ApplyTo(appt *Appointment) {
	if c.DoctorID != nil {
		appt.DoctorID = *c.DoctorID
	}
	if c.DepartmentID != nil {
		appt.DepartmentID = *c.DepartmentID
	}
	if c.ScheduledAt != nil {
		appt.ScheduledAt = *c.ScheduledAt
	}
	if c.Urgency != nil {
		appt.Urgency = *c.Urgency
	}
	if c.Status != nil {
		appt.Status = *c.Status
	}
	if c.Reason != nil {
		appt.Reason = *c.Reason
	}
	if c.Notes != nil {
		appt.Notes = *c.Notes
	}
}
