package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis is a sliding-window limiter shared by every instance, stored as one
// sorted set per key scored by request time.
type Redis struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

var _ Limiter = (*Redis)(nil)

// NewRedis creates a limiter allowing limit requests per window under prefix.
func NewRedis(rdb *redis.Client, prefix string, limit int, window time.Duration) *Redis {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Redis{rdb: rdb, prefix: prefix, limit: limit, window: window, now: time.Now}
}

// Allow records the attempt and reports whether it fits. Rejected attempts
// are removed again so they do not extend the caller's penalty.
func (l *Redis) Allow(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("rate limit key required")
	}
	now := l.now().UnixMilli()
	start := now - l.window.Milliseconds()
	limitKey := l.prefix + "ratelimit:" + key
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, limitKey, "0", strconv.FormatInt(start, 10))
	pipe.ZAdd(ctx, limitKey, redis.Z{Score: float64(now), Member: member})
	countCmd := pipe.ZCard(ctx, limitKey)
	pipe.Expire(ctx, limitKey, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}

	if countCmd.Val() > int64(l.limit) {
		if err := l.rdb.ZRem(ctx, limitKey, member).Err(); err != nil {
			return false, fmt.Errorf("rate limit %s: %w", key, err)
		}
		return false, nil
	}
	return true, nil
}
