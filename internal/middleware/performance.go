package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/milopalmaerts/Crypto/internal/models"
	"github.com/milopalmaerts/Crypto/pkg/logger"
)

// timingWriter stamps the elapsed time onto the response headers just
// before the status line is committed.
type timingWriter struct {
	gin.ResponseWriter
	start time.Time
}

func (w *timingWriter) WriteHeader(code int) {
	if !w.Written() {
		duration := time.Since(w.start)
		w.Header().Set("X-Response-Time", duration.String())
		w.Header().Set("X-Response-Time-Ms", strconv.FormatInt(duration.Milliseconds(), 10))
	}
	w.ResponseWriter.WriteHeader(code)
}

// PerformanceMiddleware adds response time headers and warns about slow requests.
// A zero slow threshold disables the warning.
func PerformanceMiddleware(slow time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Writer = &timingWriter{ResponseWriter: c.Writer, start: startTime}

		c.Next()

		duration := time.Since(startTime)
		if slow > 0 && duration > slow {
			logger.GetLogger().WithContext(c.Request.Context()).Warn("Slow request",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Duration("duration", duration),
				zap.Int("status", c.Writer.Status()),
			)
		}
	}
}

// RequestSizeMiddleware rejects bodies larger than maxBytes
func RequestSizeMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > maxBytes {
			models.HandleError(c, models.NewAppErrorWithDetails(
				models.ErrorCodeRequestTooLarge,
				"Request body too large",
				"Maximum body size is "+strconv.FormatInt(maxBytes, 10)+" bytes",
			), nil)
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// ConcurrencyMiddleware caps in-flight requests, answering 503 when full.
// A non-positive limit disables the cap.
func ConcurrencyMiddleware(limit int) gin.HandlerFunc {
	if limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	slots := make(chan struct{}, limit)

	return func(c *gin.Context) {
		select {
		case slots <- struct{}{}:
			defer func() { <-slots }()
			c.Next()
		default:
			c.Header("Retry-After", "1")
			models.HandleError(c, models.NewAppError(models.ErrorCodeServerBusy, "Server is busy, try again shortly"), nil)
		}
	}
}
