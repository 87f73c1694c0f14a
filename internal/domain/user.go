// Package domain contains core domain types for the student desk bot.
package domain

import (
	"strconv"
	"time"
)

// UserID is the messaging platform's stable identifier for an end user.
// In private chats it doubles as the chat ID.
type UserID int64

// String returns the decimal form of the ID.
func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// UserSession holds the per-user conversational and navigational state.
type UserSession struct {
	UserID              UserID    `json:"user_id"`
	LanguageCode        string    `json:"language_code,omitempty"`
	SelectedCourseID    string    `json:"selected_course_id,omitempty"`
	LastExternalClearAt time.Time `json:"last_external_clear_at"`
}

// HasLanguage returns true if the user picked a language explicitly.
func (s UserSession) HasLanguage() bool {
	return s.LanguageCode != ""
}

// ExternalSessionHandle returns the key that scopes the user's conversation
// inside the knowledge service. It is recomputed on every call.
func (id UserID) ExternalSessionHandle() string {
	return "telegram_" + id.String()
}

// ClearDue reports whether the remote conversation context is older than interval.
// A zero LastExternalClearAt is always due.
func (s UserSession) ClearDue(now time.Time, interval time.Duration) bool {
	if s.LastExternalClearAt.IsZero() {
		return true
	}
	return now.Sub(s.LastExternalClearAt) > interval
}
