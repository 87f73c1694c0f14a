package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/student-desk/internal/domain"
)

// Clearer resets a conversation context inside the knowledge service.
type Clearer interface {
	ClearSession(ctx context.Context, handle string) error
}

// Refresher decides when a user's remote conversation context is stale and
// clears it before the next query.
//
// The clear timestamp is only advanced when the remote call succeeds, so a
// failed clear is retried on the user's next query.
type Refresher struct {
	store    Store
	clearer  Clearer
	interval time.Duration
	now      func() time.Time
}

// NewRefresher creates a Refresher that resets contexts older than interval.
func NewRefresher(store Store, clearer Clearer, interval time.Duration) *Refresher {
	return &Refresher{
		store:    store,
		clearer:  clearer,
		interval: interval,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (r *Refresher) WithClock(now func() time.Time) *Refresher {
	r.now = now
	return r
}

// EnsureFresh clears the remote context when it is older than the interval.
// It is best-effort: failures are logged and never block the caller.
func (r *Refresher) EnsureFresh(ctx context.Context, userID domain.UserID) {
	now := r.now()

	sess, err := r.store.Get(ctx, userID)
	if err != nil {
		slog.Warn("Session lookup failed, skipping freshness check", "user_id", userID, "error", err)
		return
	}
	if !sess.ClearDue(now, r.interval) {
		return
	}

	if err := r.clear(ctx, userID, now); err != nil {
		slog.Warn("Remote session clear failed", "user_id", userID, "error", err)
	}
}

// ForceClear clears the remote context unconditionally, as for an explicit
// user "clear" command.
func (r *Refresher) ForceClear(ctx context.Context, userID domain.UserID) error {
	return r.clear(ctx, userID, r.now())
}

func (r *Refresher) clear(ctx context.Context, userID domain.UserID, now time.Time) error {
	handle := userID.ExternalSessionHandle()
	if err := r.clearer.ClearSession(ctx, handle); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrSessionClear, handle, err)
	}

	if err := r.store.MarkCleared(ctx, userID, now); err != nil {
		slog.Warn("Failed to record session clear", "user_id", userID, "error", err)
	}
	slog.Debug("Remote session cleared", "user_id", userID, "handle", handle)
	return nil
}
