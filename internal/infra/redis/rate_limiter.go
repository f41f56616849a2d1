package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Quota is the outcome of one counted request.
type Quota struct {
	Allowed   bool
	Remaining int
	// Reset is the time left until the current window closes.
	Reset time.Duration
}

// RateLimiter counts API writes in fixed windows aligned to the wall clock,
// so every API instance shares the same bucket. Each window gets its own
// key, created with its expiry in one MULTI.
type RateLimiter struct {
	client *Client
	now    func() time.Time
}

func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

func (r *RateLimiter) Take(ctx context.Context, key string, limit int, window time.Duration) (Quota, error) {
	now := r.now()
	start := now.Truncate(window)
	bucket := windowKey(key, start)

	var count *redis.IntCmd
	_, err := r.client.Raw().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, bucket)
		pipe.ExpireAt(ctx, bucket, start.Add(window+time.Second))
		return nil
	})
	if err != nil {
		return Quota{}, err
	}
	return quotaFor(count.Val(), limit, start.Add(window).Sub(now)), nil
}

func quotaFor(count int64, limit int, reset time.Duration) Quota {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Quota{Allowed: count <= int64(limit), Remaining: remaining, Reset: reset}
}

func windowKey(key string, start time.Time) string {
	return fmt.Sprintf("%s:%d", key, start.Unix())
}

// OrgRouteKey scopes a write quota to the calling organization (or client
// address when unauthenticated) and the route pattern.
func OrgRouteKey(org, route string) string {
	return fmt.Sprintf("rate_limit:org:%s:%s", org, route)
}
