package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/student-desk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "desk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStaffRequestLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	req := &domain.StaffRequest{ID: "r-1", UserID: 77, Text: "Need a certificate", CreatedAt: created}
	require.NoError(t, s.CreateStaffRequest(ctx, req))
	assert.Equal(t, domain.StaffRequestOpen, req.Status)

	got, err := s.GetStaffRequest(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID(77), got.UserID)
	assert.Equal(t, "Need a certificate", got.Text)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Nil(t, got.AnsweredAt)

	answeredAt := created.Add(time.Hour)
	require.NoError(t, s.MarkStaffRequestAnswered(ctx, "r-1", "Ready on Monday", answeredAt))

	got, err = s.GetStaffRequest(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StaffRequestAnswered, got.Status)
	assert.Equal(t, "Ready on Monday", got.Answer)
	require.NotNil(t, got.AnsweredAt)
	assert.True(t, got.AnsweredAt.Equal(answeredAt))
}

func TestListStaffRequestsFiltersByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateStaffRequest(ctx, &domain.StaffRequest{
			ID: id, UserID: 1, Text: id, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.MarkStaffRequestAnswered(ctx, "b", "done", base))

	open, err := s.ListStaffRequests(ctx, domain.StaffRequestOpen, 0)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "c", open[0].ID, "newest first")
	assert.Equal(t, "a", open[1].ID)

	all, err := s.ListStaffRequests(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMissingStaffRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetStaffRequest(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = s.MarkStaffRequestAnswered(ctx, "nope", "x", time.Now())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFeedback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &domain.Feedback{UserID: 5, Text: "Great bot", CreatedAt: time.Now()}
	require.NoError(t, s.SaveFeedback(ctx, first))
	assert.NotZero(t, first.ID)

	require.NoError(t, s.SaveFeedback(ctx, &domain.Feedback{UserID: 6, Text: "Needs more FAQ", CreatedAt: time.Now()}))

	list, err := s.ListFeedback(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Needs more FAQ", list[0].Text)
	assert.Equal(t, domain.UserID(5), list[1].UserID)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestWithRetryStopsOnNonConflict(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "op", func() error {
		calls++
		return errors.New("constraint failed")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRetriesConflicts(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestIsConflict(t *testing.T) {
	assert.False(t, isConflict(nil))
	assert.True(t, isConflict(errors.New("SQLITE_BUSY")))
	assert.True(t, isConflict(errors.New("database is locked")))
	assert.False(t, isConflict(errors.New("no such table")))
}
