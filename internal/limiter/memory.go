package limiter

import (
	"context"
	"sync"
	"time"
)

// MemoryWindow keeps admission timestamps in process memory.
type MemoryWindow struct {
	mu       sync.Mutex
	requests map[string][]time.Time
}

// NewMemoryWindow creates an empty in-memory window store.
func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{requests: make(map[string][]time.Time)}
}

// Admit implements Window.
func (m *MemoryWindow) Admit(_ context.Context, key string, now time.Time, limit int, period time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recent := prune(m.requests[key], now, period)
	if len(recent) >= limit {
		m.requests[key] = recent
		return false, nil
	}

	m.requests[key] = append(recent, now)
	return true, nil
}

// Len returns the number of timestamps currently held for key.
func (m *MemoryWindow) Len(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests[key])
}

// StartEviction runs a background goroutine that periodically removes expired
// keys from the requests map, preventing unbounded memory growth.
func (m *MemoryWindow) StartEviction(ctx context.Context, period time.Duration) {
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.evict(now, period)
			}
		}
	}()
}

func (m *MemoryWindow) evict(now time.Time, period time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, times := range m.requests {
		fresh := prune(times, now, period)
		if len(fresh) == 0 {
			delete(m.requests, key)
		} else {
			m.requests[key] = fresh
		}
	}
}

// prune keeps timestamps younger than period. Input is ordered oldest first.
func prune(times []time.Time, now time.Time, period time.Duration) []time.Time {
	i := 0
	for i < len(times) && now.Sub(times[i]) >= period {
		i++
	}
	if i == 0 {
		return times
	}
	fresh := make([]time.Time, len(times)-i)
	copy(fresh, times[i:])
	return fresh
}
