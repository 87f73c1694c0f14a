package limiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/student-desk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitCapsAtLimitWithinWindow(t *testing.T) {
	rl := New(NewMemoryWindow(), 5, time.Minute)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.True(t, rl.Admit(ctx, 42, start.Add(time.Duration(i)*time.Second)), "request %d", i+1)
	}
	assert.False(t, rl.Admit(ctx, 42, start.Add(10*time.Second)), "6th request inside window must be rejected")
}

func TestAdmitSlidesWindow(t *testing.T) {
	rl := New(NewMemoryWindow(), 5, time.Minute)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.True(t, rl.Admit(ctx, 1, start.Add(time.Duration(i)*10*time.Second)))
	}
	// 59s after the first admission it is still inside the window.
	assert.False(t, rl.Admit(ctx, 1, start.Add(59*time.Second)))
	// Exactly 60s later the first timestamp no longer counts.
	assert.True(t, rl.Admit(ctx, 1, start.Add(60*time.Second)))
	assert.False(t, rl.Admit(ctx, 1, start.Add(61*time.Second)))
}

func TestRejectionDoesNotConsumeSlot(t *testing.T) {
	w := NewMemoryWindow()
	rl := New(w, 2, time.Minute)
	ctx := context.Background()
	now := time.Now()

	rl.Admit(ctx, 7, now)
	rl.Admit(ctx, 7, now)
	rl.Admit(ctx, 7, now)
	rl.Admit(ctx, 7, now)

	assert.Equal(t, 2, w.Len("7"))
}

func TestLimitsArePerUser(t *testing.T) {
	rl := New(NewMemoryWindow(), 1, time.Minute)
	ctx := context.Background()
	now := time.Now()

	assert.True(t, rl.Admit(ctx, 1, now))
	assert.False(t, rl.Admit(ctx, 1, now))
	assert.True(t, rl.Admit(ctx, 2, now))
}

func TestAllowUsesClock(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rl := New(NewMemoryWindow(), 1, time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	assert.True(t, rl.Allow(ctx, 9))
	assert.False(t, rl.Allow(ctx, 9))
	now = now.Add(time.Minute)
	assert.True(t, rl.Allow(ctx, 9))
}

type failingWindow struct{}

func (failingWindow) Admit(context.Context, string, time.Time, int, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestBackendFailureAdmits(t *testing.T) {
	rl := New(failingWindow{}, 1, time.Minute)
	assert.True(t, rl.Admit(context.Background(), 1, time.Now()))
}

func TestConcurrentAdmitNeverExceedsLimit(t *testing.T) {
	rl := New(NewMemoryWindow(), 5, time.Minute)
	ctx := context.Background()
	now := time.Now()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Admit(ctx, domain.UserID(3), now) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, admitted)
}

func TestEvictDropsIdleKeys(t *testing.T) {
	w := NewMemoryWindow()
	ctx := context.Background()
	start := time.Now()

	_, _ = w.Admit(ctx, "a", start, 5, time.Minute)
	_, _ = w.Admit(ctx, "b", start.Add(30*time.Second), 5, time.Minute)

	w.evict(start.Add(61*time.Second), time.Minute)

	assert.Equal(t, 0, w.Len("a"))
	assert.Equal(t, 1, w.Len("b"))
}
