package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/student-desk/internal/catalog"
	"github.com/ashureev/student-desk/internal/config"
	"github.com/ashureev/student-desk/internal/limiter"
	"github.com/ashureev/student-desk/internal/session"
	"github.com/redis/go-redis/v9"
)

// sessionTTL bounds how long an idle user's state is kept in Redis.
const sessionTTL = 90 * 24 * time.Hour

// stateBackends holds the per-user and per-procedure mutable state.
type stateBackends struct {
	window   limiter.Window
	sessions session.Store
	clicks   catalog.ClickTracker
	close    func() error
}

// newStateBackends keeps state in process memory, or in Redis when
// REDIS_URL is set so several instances can share it.
func newStateBackends(ctx context.Context, cfg *config.Config) (*stateBackends, error) {
	if cfg.RedisURL == "" {
		window := limiter.NewMemoryWindow()
		window.StartEviction(ctx, cfg.RateLimit.WindowDuration)
		slog.Info("Using in-memory state backend")
		return &stateBackends{
			window:   window,
			sessions: session.NewMemoryStore(),
			clicks:   catalog.NewMemoryClicks(),
			close:    func() error { return nil },
		}, nil
	}

	rdb, err := newRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	slog.Info("Using Redis state backend")
	return &stateBackends{
		window:   limiter.NewRedisWindow(rdb),
		sessions: session.NewRedisStore(rdb, sessionTTL),
		clicks:   catalog.NewRedisClicks(rdb),
		close:    rdb.Close,
	}, nil
}

func newRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
