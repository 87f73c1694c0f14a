package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// FAQThreshold is the view count a procedure must exceed to be promoted.
const FAQThreshold = 2

// ClickTracker counts procedure views and exposes FAQ promotion.
// Counters never decrease. FAQ entries are listed in the order they crossed
// the threshold.
type ClickTracker interface {
	RecordView(ctx context.Context, procedureID string) error
	FAQVisible(ctx context.Context) (bool, error)
	FAQProcedures(ctx context.Context) ([]string, error)
}

// MemoryClicks keeps counters in process memory.
type MemoryClicks struct {
	mu     sync.RWMutex
	counts map[string]int
	faq    []string
}

// NewMemoryClicks creates zeroed counters.
func NewMemoryClicks() *MemoryClicks {
	return &MemoryClicks{counts: make(map[string]int)}
}

// RecordView implements ClickTracker.
func (m *MemoryClicks) RecordView(_ context.Context, procedureID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[procedureID]++
	if m.counts[procedureID] == FAQThreshold+1 {
		m.faq = append(m.faq, procedureID)
	}
	return nil
}

// FAQVisible implements ClickTracker.
func (m *MemoryClicks) FAQVisible(_ context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.faq) > 0, nil
}

// FAQProcedures implements ClickTracker.
func (m *MemoryClicks) FAQProcedures(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.faq))
	copy(out, m.faq)
	return out, nil
}

// Count returns the current view count of a procedure.
func (m *MemoryClicks) Count(procedureID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[procedureID]
}

const (
	clicksKey = "catalog:clicks"
	faqKey    = "catalog:faq"
)

// recordScript increments a counter and promotes the procedure in the same
// server-side step, so a promotion is never lost between the two writes.
// KEYS[1] counters hash, KEYS[2] faq list; ARGV: procedure id, threshold.
var recordScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
if n == tonumber(ARGV[2]) + 1 then
	redis.call('RPUSH', KEYS[2], ARGV[1])
end
return n
`)

// RedisClicks keeps counters in Redis so promotion is shared across instances.
type RedisClicks struct {
	rdb       redis.Cmdable
	countsKey string
	faqKey    string
}

// NewRedisClicks creates a Redis-backed tracker.
func NewRedisClicks(rdb redis.Cmdable) *RedisClicks {
	return &RedisClicks{rdb: rdb, countsKey: clicksKey, faqKey: faqKey}
}

// RecordView implements ClickTracker.
func (r *RedisClicks) RecordView(ctx context.Context, procedureID string) error {
	keys := []string{r.countsKey, r.faqKey}
	if err := recordScript.Run(ctx, r.rdb, keys, procedureID, FAQThreshold).Err(); err != nil {
		return fmt.Errorf("record view for %s: %w", procedureID, err)
	}
	return nil
}

// FAQVisible implements ClickTracker.
func (r *RedisClicks) FAQVisible(ctx context.Context) (bool, error) {
	n, err := r.rdb.LLen(ctx, r.faqKey).Result()
	if err != nil {
		return false, fmt.Errorf("count faq: %w", err)
	}
	return n > 0, nil
}

// FAQProcedures implements ClickTracker.
func (r *RedisClicks) FAQProcedures(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.LRange(ctx, r.faqKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list faq: %w", err)
	}
	return ids, nil
}
