package ratelimiter

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/milopalmaerts/Crypto/internal/models"
	"github.com/milopalmaerts/Crypto/pkg/logger"
)

// Middleware creates a Gin middleware for per-client rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		allowed, remaining, retryAfter := rl.Allow(clientIP)

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			// Whole seconds, never below one
			wait := time.Duration(math.Max(1, retryAfter.Round(time.Second).Seconds())) * time.Second
			details := "Maximum " + strconv.Itoa(rl.limit) + " requests per " + rl.window.String() + " allowed."
			models.HandleError(c, models.NewRateLimitError(details, wait), logger.GetLogger())
			return
		}

		c.Next()
	}
}
