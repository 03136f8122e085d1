package confirm

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"callconfirm/pkg/utils"
)

// Limiter caps simultaneous outbound calls across processes.
type Limiter interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	InFlight(ctx context.Context) (int, error)
}

const DefaultCallCapKey = "confirm:calls:inflight"

// RedisLimiter is a counting cap in Redis. The TTL bounds how long a leaked slot survives
// when a call never resolves in this process.
type RedisLimiter struct {
	rdb   *redis.Client
	key   string
	limit int
	ttl   time.Duration
}

func NewRedisLimiter(rdb *redis.Client, key string, limit int, ttl time.Duration) *RedisLimiter {
	if key == "" {
		key = DefaultCallCapKey
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLimiter{rdb: rdb, key: key, limit: limit, ttl: ttl}
}

func (l *RedisLimiter) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, l.key, l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, l.key)
}

func (l *RedisLimiter) InFlight(ctx context.Context) (int, error) {
	return utils.CurrentConcurrency(ctx, l.rdb, l.key)
}
