// Package ratelimiter implements the per-project sliding-window rate limit
// of spec §4.2, backed by Redis sorted sets (ZADD/ZREMRANGEBYSCORE/ZCARD),
// generalizing the teacher's infrastructure/ratelimit token-bucket idiom to
// a shared, cross-worker sliding window.
package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/riftwatch/easm/pkg/logger"
	"github.com/riftwatch/easm/pkg/metrics"
)

// redisClient is the subset of *redis.Client the limiter needs, so tests
// can substitute a fake without a live Redis server.
type redisClient interface {
	ZAdd(ctx context.Context, key string, members ...*redis.Z) *redis.IntCmd
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// ScanKey and RatelimitKey build the two disjoint key namespaces spec §9
// requires stay independent: scan-level limits never share a counter with
// generic-level limits.
func ScanKey(projectID string) string { return fmt.Sprintf("scan:%s", projectID) }
func RatelimitKey(name string) string { return fmt.Sprintf("ratelimit:%s", name) }

type Limiter struct {
	client redisClient
	log    *logger.Logger
	now    func() time.Time
}

func New(client redisClient, log *logger.Logger) *Limiter {
	return &Limiter{client: client, log: log, now: time.Now}
}

// IsAllowed implements spec §4.2: rejects once the count of timestamps
// within the last window_seconds reaches max; otherwise inserts now and
// returns true. On backend errors, fails open (availability over strict
// compliance) and logs — per spec's explicit TransientBackend policy.
func (l *Limiter) IsAllowed(ctx context.Context, key string, max int, window time.Duration) bool {
	now := l.now()
	windowStart := now.Add(-window)

	if err := l.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart.UnixNano())).Err(); err != nil {
		l.logBackendError("zremrangebyscore", key, err)
		return true
	}

	count, err := l.client.ZCard(ctx, key).Result()
	if err != nil {
		l.logBackendError("zcard", key, err)
		return true
	}
	if int(count) >= max {
		metrics.RateLimiterRejections.WithLabelValues(keyPrefix(key)).Inc()
		return false
	}

	member := fmt.Sprintf("%d", now.UnixNano())
	if err := l.client.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		l.logBackendError("zadd", key, err)
		return true
	}
	_ = l.client.Expire(ctx, key, window+time.Second).Err()
	return true
}

// WaitIfNeeded polls IsAllowed at 100ms intervals, capped at maxWait
// (default 10s), per spec §4.2.
func (l *Limiter) WaitIfNeeded(ctx context.Context, key string, max int, window time.Duration, maxWait time.Duration) bool {
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	deadline := l.now().Add(maxWait)
	for {
		if l.IsAllowed(ctx, key, max, window) {
			return true
		}
		if l.now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (l *Limiter) logBackendError(op, key string, err error) {
	if l.log != nil {
		l.log.WithField("op", op).WithField("key", key).WithError(err).Warn("rate limiter backend error, failing open")
	}
}

func keyPrefix(key string) string {
	for i, c := range key {
		if c == ':' {
			return key[:i]
		}
	}
	return key
}
