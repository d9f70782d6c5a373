package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateCounter is the subset of the Redis client the limiter needs.
type RateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RateLimitOptions configures a fixed-window limiter keyed by client IP.
type RateLimitOptions struct {
	Max    int
	Window time.Duration
	// Scope separates counters of different route groups.
	Scope string
}

// RateLimit rejects clients exceeding opts.Max requests per window. Redis
// errors let the request through.
func RateLimit(rdb RateCounter, opts RateLimitOptions) gin.HandlerFunc {
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.Scope == "" {
		opts.Scope = "api"
	}
	return func(c *gin.Context) {
		if rdb == nil || opts.Max <= 0 {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if ip == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		window := time.Now().UnixNano() / int64(opts.Window)
		key := fmt.Sprintf("chaptr:rate_limit:%s:%s:%d", opts.Scope, ip, window)

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			c.Next()
			return
		}
		if count == 1 {
			rdb.PExpire(ctx, key, opts.Window+time.Second)
		}

		if count > int64(opts.Max) {
			c.Header("Retry-After", strconv.Itoa(int(opts.Window.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"ok":      0,
				"code":    http.StatusTooManyRequests,
				"message": "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}
