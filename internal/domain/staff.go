package domain

import "time"

// StaffRequestStatus tracks an escalation through the staff workflow.
type StaffRequestStatus string

const (
	// StaffRequestOpen marks an escalation waiting for a staff answer.
	StaffRequestOpen StaffRequestStatus = "open"
	// StaffRequestAnswered marks an escalation a staff member replied to.
	StaffRequestAnswered StaffRequestStatus = "answered"
)

// StaffRequest is a question a student escalated to human staff with /request.
type StaffRequest struct {
	ID         string             `json:"id"`
	UserID     UserID             `json:"telegramId"`
	Text       string             `json:"text"`
	Status     StaffRequestStatus `json:"status"`
	Answer     string             `json:"answer,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	AnsweredAt *time.Time         `json:"answeredAt,omitempty"`
}

// Feedback is a free-form note left with /feedback.
type Feedback struct {
	ID        int64     `json:"id"`
	UserID    UserID    `json:"telegramId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}
