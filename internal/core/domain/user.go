package domain

import "time"

// Role defines what a signed-in user may do in the hospital app
type Role string

const (
	RolePatient      Role = "patient"
	RoleDoctor       Role = "doctor"
	RoleStaff        Role = "staff"
	RoleReceptionist Role = "receptionist"
	RoleAdmin        Role = "admin"
)

// User is the signed-in account, cached under KeyUser
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Role       Role      `json:"role"`
	PatientID  string    `json:"patient_id,omitempty"`
	Department string    `json:"department,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsStaff reports whether the user works at the hospital
func (u *User) IsStaff() bool {
	switch u.Role {
	case RoleDoctor, RoleStaff, RoleReceptionist, RoleAdmin:
		return true
	}
	return false
}
