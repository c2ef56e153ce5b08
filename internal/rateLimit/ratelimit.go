package rateLimit

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/ticket-cart-coupons/internal/adapters/redis"
	"github.com/robertarktes/ticket-cart-coupons/internal/observability"
)

// RateLimiter is a fixed-window counter in Redis. It guards coupon code
// guessing, so it fails closed when Redis is unreachable.
type RateLimiter struct {
	redis *redisadapter.Cache
}

func NewRateLimiter(redis *redisadapter.Cache) *RateLimiter {
	return &RateLimiter{redis: redis}
}

func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	fullKey := "rl:" + key

	pipe := rl.redis.Client().TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, period)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return false
	}

	if incr.Val() > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}
