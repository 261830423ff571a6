package domain

import (
	"testing"
	"time"
)

func TestTempID(t *testing.T) {
	id := TempID("1700000000000-abc")
	if id != "temp-1700000000000-abc" {
		t.Errorf("unexpected temp id %s", id)
	}
	if !IsTempID(id) {
		t.Error("expected IsTempID to be true")
	}
	if IsTempID("apt-42") {
		t.Error("expected server id not to be temp")
	}
}

func TestAppointment_MergeFrom(t *testing.T) {
	base := Appointment{ID: "a-1", PatientID: "p-1", Reason: "checkup", Urgency: UrgencyNormal, Version: 2}

	base.MergeFrom(Appointment{Urgency: UrgencyEmergency, Notes: "chest pain"})

	if base.Urgency != UrgencyEmergency {
		t.Errorf("expected urgency to merge, got %s", base.Urgency)
	}
	if base.Notes != "chest pain" {
		t.Errorf("expected notes to merge, got %s", base.Notes)
	}
	if base.Reason != "checkup" || base.PatientID != "p-1" || base.Version != 2 {
		t.Error("expected zero-valued patch fields to leave existing values")
	}
}

func TestAppointment_AdoptServerAssigned(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	local := Appointment{ID: "temp-1", Status: AppointmentStatusCancelled, Reason: "local reason"}

	local.AdoptServerAssigned(Appointment{
		ID:          "apt-99",
		Status:      AppointmentStatusConfirmed,
		Reason:      "server reason",
		QueueNumber: 14,
		CreatedAt:   created,
		Version:     3,
	})

	if local.ID != "apt-99" || local.QueueNumber != 14 || local.Version != 3 || !local.CreatedAt.Equal(created) {
		t.Errorf("expected server-assigned fields adopted, got %+v", local)
	}
	if local.Status != AppointmentStatusCancelled || local.Reason != "local reason" {
		t.Errorf("expected local fields kept, got %+v", local)
	}
}

func TestAppointmentRecord_Conversion(t *testing.T) {
	rec := AppointmentRecord{ID: "a-1", PatientID: "p-1", DepartmentID: "er", QueueNumber: 7, Status: AppointmentStatusPending}

	appt := rec.ToAppointment()
	if appt.PatientID != "p-1" || appt.DepartmentID != "er" || appt.QueueNumber != 7 {
		t.Errorf("unexpected conversion: %+v", appt)
	}

	back := AppointmentRecordFrom(appt)
	if back != rec {
		t.Errorf("expected round trip to be lossless: %+v vs %+v", back, rec)
	}
}

func TestAppointmentInput_Validate(t *testing.T) {
	tests := []struct {
		name     string
		input    AppointmentInput
		wantKeys []string
	}{
		{"valid", AppointmentInput{PatientID: "p", DepartmentID: "d", Urgency: UrgencyNormal}, nil},
		{"missing all", AppointmentInput{}, []string{"patientId", "departmentId", "urgency"}},
		{"bad urgency", AppointmentInput{PatientID: "p", DepartmentID: "d", Urgency: "asap"}, []string{"urgency"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.input.Validate()
			if len(errs) != len(tt.wantKeys) {
				t.Fatalf("expected %d errors, got %v", len(tt.wantKeys), errs)
			}
			for _, k := range tt.wantKeys {
				if _, ok := errs[k]; !ok {
					t.Errorf("expected error for %s", k)
				}
			}
		})
	}
}

func TestAppointmentChanges_ApplyTo(t *testing.T) {
	urgency := UrgencyUrgent
	changes := AppointmentChanges{Urgency: &urgency}
	appt := Appointment{ID: "a-1", Urgency: UrgencyNormal, Reason: "keep me"}

	if changes.IsEmpty() {
		t.Fatal("expected non-empty changes")
	}
	changes.ApplyTo(&appt)

	if appt.Urgency != UrgencyUrgent {
		t.Errorf("expected urgency applied, got %s", appt.Urgency)
	}
	if appt.Reason != "keep me" {
		t.Errorf("expected untouched field preserved, got %s", appt.Reason)
	}
	if !(AppointmentChanges{}).IsEmpty() {
		t.Error("expected zero changes to be empty")
	}
}
