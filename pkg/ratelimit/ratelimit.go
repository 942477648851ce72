package ratelimit

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/diagnosis/citizen-portal/pkg/config"
	"github.com/redis/go-redis/v9"
)

// Limiter answers whether another request under key fits the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a fixed-window counter stored in Redis.
type RedisLimiter struct {
	client   *redis.Client
	prefix   string
	requests int
	window   time.Duration
}

func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DB = cfg.DB

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisLimiter(client *redis.Client, prefix string, requests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, requests: requests, window: window}
}

// windowScript starts the window TTL on the first hit. It runs on any Redis
// with scripting, unlike EXPIRE NX which needs 7.0.
var windowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n`)

// Key is the Redis key a caller key is counted under. Caller keys carry
// emails and addresses, so only their hash is stored.
func (l *RedisLimiter) Key(key string) string {
	return fmt.Sprintf("rl:%s:%x", l.prefix, sha256.Sum256([]byte(key)))
}

// Allow fails open: on a Redis error it returns true with the error.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	n, err := windowScript.Run(ctx, l.client, []string{l.Key(key)}, l.window.Milliseconds()).Int64()
	if err != nil {
		return true, err
	}
	return n <= int64(l.requests), nil
}

// Noop allows everything. Used when Redis is not reachable at startup.
type Noop struct{}

func (Noop) Allow(context.Context, string) (bool, error) { return true, nil }
