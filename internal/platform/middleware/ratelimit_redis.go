package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares a fixed one-second window across server instances. Each
// key may make BurstSize requests per window.
type RedisLimiter struct {
	client *redis.Client
	cfg    RateLimitConfig
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, cfg RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{client: client, cfg: cfg, prefix: "meditrust:ratelimit:", now: time.Now}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (l *RedisLimiter) windowKey(key string) string {
	return l.prefix + key + ":" + strconv.FormatInt(l.now().Unix(), 10)
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	wk := l.windowKey(key)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, wk)
		pipe.Expire(ctx, wk, 2*time.Second)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("redis rate limit: %w", err)
	}

	if incr.Val() > int64(l.cfg.BurstSize) {
		return false, 1, nil
	}
	return true, 0, nil
}
