package domain

import "time"

// Notification is a message shown in the patient or staff inbox
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationRecord is the backend wire shape
type NotificationRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// ToNotification converts the backend shape to the client shape
func (r NotificationRecord) ToNotification() Notification {
	return Notification{
		ID:        r.ID,
		Title:     r.Title,
		Message:   r.Message,
		Type:      r.Type,
		Read:      r.IsRead,
		CreatedAt: r.CreatedAt,
	}
}

// QueueStatus is the live position of a department queue, pushed over the
// realtime stream and cached under KeyQueueStatus
type QueueStatus struct {
	DepartmentID     string    `json:"department_id"`
	CurrentNumber    int       `json:"current_number"`
	WaitingCount     int       `json:"waiting_count"`
	EstimatedWaitMin int       `json:"estimated_wait_minutes"`
	UpdatedAt        time.Time `json:"updated_at"`
}
