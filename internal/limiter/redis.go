package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// admitScript prunes, counts and appends in one server-side step.
// KEYS[1] window key; ARGV: cutoff, now, limit, member, ttl ms.
var admitScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// RedisWindow keeps admission timestamps in a Redis sorted set per user,
// so several bot instances share one limit.
type RedisWindow struct {
	rdb redis.Scripter
}

// NewRedisWindow creates a Redis-backed window store.
func NewRedisWindow(rdb redis.Scripter) *RedisWindow {
	return &RedisWindow{rdb: rdb}
}

func windowKey(key string) string {
	return fmt.Sprintf("ratelimit:%s", key)
}

// Admit implements Window.
func (w *RedisWindow) Admit(ctx context.Context, key string, now time.Time, limit int, period time.Duration) (bool, error) {
	cutoff := now.Add(-period).UnixMilli()
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())

	res, err := admitScript.Run(ctx, w.rdb, []string{windowKey(key)},
		cutoff, now.UnixMilli(), limit, member, period.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("run admit script: %w", err)
	}
	return res == 1, nil
}
