package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/milopalmaerts/Crypto/pkg/metrics"
)

// MetricsMiddleware creates a middleware that tracks request metrics
func MetricsMiddleware(metricsCollector *metrics.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		metricsCollector.RecordRequest()

		c.Next()

		// 429s from the gateway count as failures too
		success := c.Writer.Status() < 400
		metricsCollector.RecordRequestComplete(time.Since(startTime), success)
	}
}
