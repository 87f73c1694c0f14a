// Package store persists staff escalations and student feedback.
// Conversational state is intentionally not persisted.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/student-desk/internal/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting escalations and feedback.
type Repository interface {
	// CreateStaffRequest stores a new open escalation.
	CreateStaffRequest(ctx context.Context, req *domain.StaffRequest) error

	// GetStaffRequest retrieves an escalation by ID.
	GetStaffRequest(ctx context.Context, id string) (*domain.StaffRequest, error)

	// ListStaffRequests returns escalations with the given status, newest first.
	// An empty status lists all of them.
	ListStaffRequests(ctx context.Context, status domain.StaffRequestStatus, limit int) ([]*domain.StaffRequest, error)

	// MarkStaffRequestAnswered records the staff answer for an escalation.
	MarkStaffRequestAnswered(ctx context.Context, id, answer string, at time.Time) error

	// SaveFeedback stores a feedback note and sets its ID.
	SaveFeedback(ctx context.Context, fb *domain.Feedback) error

	// ListFeedback returns feedback notes, newest first.
	ListFeedback(ctx context.Context, limit int) ([]*domain.Feedback, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
