package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ashureev/student-desk/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	fieldLanguage = "lang"
	fieldCourse   = "course"
	fieldCleared  = "cleared_at"
)

// RedisStore keeps sessions in a Redis hash per user so several bot
// instances observe the same state.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisStore creates a Redis-backed session store. A positive ttl is
// refreshed on every write.
func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func sessionKey(userID domain.UserID) string {
	return fmt.Sprintf("session:%s", userID)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, userID domain.UserID) (domain.UserSession, error) {
	sess := domain.UserSession{UserID: userID}

	fields, err := s.rdb.HGetAll(ctx, sessionKey(userID)).Result()
	if err != nil {
		return sess, fmt.Errorf("load session %s: %w", userID, err)
	}

	sess.LanguageCode = fields[fieldLanguage]
	sess.SelectedCourseID = fields[fieldCourse]
	if raw := fields[fieldCleared]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return sess, fmt.Errorf("parse %s for %s: %w", fieldCleared, userID, err)
		}
		sess.LastExternalClearAt = time.UnixMilli(ms)
	}
	return sess, nil
}

// SetLanguage implements Store.
func (s *RedisStore) SetLanguage(ctx context.Context, userID domain.UserID, code string) error {
	return s.set(ctx, userID, fieldLanguage, code)
}

// SetSelectedCourse implements Store.
func (s *RedisStore) SetSelectedCourse(ctx context.Context, userID domain.UserID, courseID string) error {
	return s.set(ctx, userID, fieldCourse, courseID)
}

// MarkCleared implements Store.
func (s *RedisStore) MarkCleared(ctx context.Context, userID domain.UserID, at time.Time) error {
	return s.set(ctx, userID, fieldCleared, strconv.FormatInt(at.UnixMilli(), 10))
}

func (s *RedisStore) set(ctx context.Context, userID domain.UserID, field, value string) error {
	key := sessionKey(userID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, field, value)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update session %s field %s: %w", userID, field, err)
	}
	return nil
}
