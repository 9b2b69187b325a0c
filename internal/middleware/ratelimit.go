package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/exp/slog"

	"pvp-casino-backend/internal/lib/logger/sl"
)

// RateLimiter is implemented by services.RedisService and MemoryRateLimiter.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, userID, action string, limit int, window time.Duration) (bool, error)
}

// MemoryRateLimiter is a fixed-window counter for single-instance runs
// without Redis.
type MemoryRateLimiter struct {
	counters *cache.Cache
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{counters: cache.New(time.Minute, 5*time.Minute)}
}

func (l *MemoryRateLimiter) CheckRateLimit(_ context.Context, userID, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf("%s:%s", userID, action)

	if err := l.counters.Add(key, 1, window); err == nil {
		return limit >= 1, nil
	}

	count, err := l.counters.IncrementInt(key, 1)
	if err != nil {
		// Expired between Add and IncrementInt; start a new window.
		l.counters.Set(key, 1, window)
		return limit >= 1, nil
	}
	return count <= limit, nil
}

func RateLimitMiddleware(log *slog.Logger, limiter RateLimiter, action string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(ctxUserID)
		if userID == "" || limiter == nil || limit <= 0 {
			c.Next()
			return
		}

		allowed, err := limiter.CheckRateLimit(c.Request.Context(), userID, action, limit, window)
		if err != nil {
			// Fail open: a limiter outage must not stop play.
			log.Warn("rate limit check failed", sl.Err(err), slog.String("action", action))
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": window.Seconds(),
			})
			return
		}

		c.Next()
	}
}
