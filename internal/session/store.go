// Package session tracks per-user conversational state and decides when the
// user's remote conversation context must be reset.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/student-desk/internal/domain"
)

// Store owns every UserSession, keyed by user ID. Sessions are created
// lazily on first read and are only changed through the setters.
type Store interface {
	// Get returns the user's session, creating a default one if absent.
	Get(ctx context.Context, userID domain.UserID) (domain.UserSession, error)

	// SetLanguage records the language the user picked.
	SetLanguage(ctx context.Context, userID domain.UserID, code string) error

	// SetSelectedCourse records the course the user is browsing.
	SetSelectedCourse(ctx context.Context, userID domain.UserID, courseID string) error

	// MarkCleared records when the remote conversation context was last reset.
	MarkCleared(ctx context.Context, userID domain.UserID, at time.Time) error
}

// MemoryStore keeps sessions in process memory for the process lifetime.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[domain.UserID]*domain.UserSession
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[domain.UserID]*domain.UserSession),
	}
}

// Get implements Store. The returned session is a copy.
func (s *MemoryStore) Get(_ context.Context, userID domain.UserID) (domain.UserSession, error) {
	s.mu.RLock()
	sess, ok := s.sessions[userID]
	if ok {
		out := *sess
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.getOrCreate(userID), nil
}

// SetLanguage implements Store.
func (s *MemoryStore) SetLanguage(_ context.Context, userID domain.UserID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(userID).LanguageCode = code
	return nil
}

// SetSelectedCourse implements Store.
func (s *MemoryStore) SetSelectedCourse(_ context.Context, userID domain.UserID, courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(userID).SelectedCourseID = courseID
	return nil
}

// MarkCleared implements Store.
func (s *MemoryStore) MarkCleared(_ context.Context, userID domain.UserID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(userID).LastExternalClearAt = at
	return nil
}

// Len returns the number of known users.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// getOrCreate must be called with the write lock held.
func (s *MemoryStore) getOrCreate(userID domain.UserID) *domain.UserSession {
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &domain.UserSession{UserID: userID}
		s.sessions[userID] = sess
	}
	return sess
}
