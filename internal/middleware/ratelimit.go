package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
	"github.com/noah-isme/attendance-integrity-api/pkg/config"
	appErrors "github.com/noah-isme/attendance-integrity-api/pkg/errors"
	"github.com/noah-isme/attendance-integrity-api/pkg/response"
)

// RateLimit enforces a redis fixed-window limit on check-in submissions,
// keyed by the caller identity when available and the client IP otherwise.
// When redis is unavailable the request is allowed through; the limiter is
// protection against floods, not a correctness gate.
func RateLimit(client *redis.Client, cfg config.RateLimitConfig) gin.HandlerFunc {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	limit := int64(cfg.CheckinPerMinute)
	if limit <= 0 {
		limit = 10
	}
	return func(c *gin.Context) {
		if !cfg.Enabled || client == nil {
			c.Next()
			return
		}

		key := rateLimitKey(c, window)
		pipe := client.TxPipeline()
		count := pipe.Incr(c.Request.Context(), key)
		pipe.Expire(c.Request.Context(), key, window)
		if _, err := pipe.Exec(c.Request.Context()); err != nil {
			c.Next()
			return
		}

		if count.Val() > limit {
			response.Error(c, appErrors.Clone(appErrors.ErrTooManyAttempts, "too many requests, slow down"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func rateLimitKey(c *gin.Context, window time.Duration) string {
	identity := c.ClientIP()
	if claimsValue, ok := c.Get(ContextUserKey); ok {
		if claims, ok := claimsValue.(*models.JWTClaims); ok {
			identity = claims.UserID
		}
	}
	bucket := time.Now().Unix() / int64(window.Seconds())
	return fmt.Sprintf("ratelimit:checkin:%s:%s:%d", c.Param("id"), identity, bucket)
}
