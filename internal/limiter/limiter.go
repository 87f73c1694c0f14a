// Package limiter implements per-user sliding-window admission control.
package limiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/student-desk/internal/domain"
)

// Window stores admission timestamps per key.
// Admit must prune entries at least period old, reject when limit entries
// remain and otherwise record now, all as one atomic step per key.
type Window interface {
	Admit(ctx context.Context, key string, now time.Time, limit int, period time.Duration) (bool, error)
}

// RateLimiter implements a per-user rate limiter. There is no global cap.
type RateLimiter struct {
	window Window
	limit  int
	period time.Duration
	now    func() time.Time
}

// New creates a rate limiter over the given window backend.
func New(window Window, limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		window: window,
		limit:  limit,
		period: period,
		now:    time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (r *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	r.now = now
	return r
}

// Allow checks if a request is allowed for the given user at the current time.
func (r *RateLimiter) Allow(ctx context.Context, userID domain.UserID) bool {
	return r.Admit(ctx, userID, r.now())
}

// Admit checks if a request is allowed for the given user at now.
// Backend failures admit the request so a flaky shared store cannot lock users out.
func (r *RateLimiter) Admit(ctx context.Context, userID domain.UserID, now time.Time) bool {
	ok, err := r.window.Admit(ctx, userID.String(), now, r.limit, r.period)
	if err != nil {
		slog.Warn("Rate limit window unavailable, admitting request", "user_id", userID, "error", err)
		return true
	}
	return ok
}

// Limit returns the number of admissions allowed per window.
func (r *RateLimiter) Limit() int {
	return r.limit
}

// Period returns the window length.
func (r *RateLimiter) Period() time.Duration {
	return r.period
}
