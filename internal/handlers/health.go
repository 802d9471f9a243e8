package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/milopalmaerts/Crypto/internal/services"
)

// HealthChecker is the part of the health service the handler needs
type HealthChecker interface {
	CheckStorage(ctx context.Context) *services.HealthCheck
	GetDetailedHealth(ctx context.Context) map[string]*services.HealthCheck
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checker HealthChecker
	version string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker HealthChecker, version string) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		version: version,
	}
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    services.HealthStatus            `json:"status"`
	Timestamp time.Time                        `json:"timestamp"`
	Services  map[string]*services.HealthCheck `json:"services"`
	Version   string                           `json:"version,omitempty"`
}

// GetHealth returns the overall health status. Degraded still answers 200.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	serviceChecks := h.checker.GetDetailedHealth(c.Request.Context())
	overallStatus := services.OverallStatus(serviceChecks)

	statusCode := http.StatusOK
	if overallStatus == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Services:  serviceChecks,
		Version:   h.version,
	})
}

// GetLiveness returns a simple liveness check
func (h *HealthHandler) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// GetReadiness reports whether storage is reachable. A throttled upstream
// does not make the service unready since cached and portfolio routes still work.
func (h *HealthHandler) GetReadiness(c *gin.Context) {
	storageHealth := h.checker.CheckStorage(c.Request.Context())

	if storageHealth.Status == services.HealthStatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"message":   "storage not available",
			"timestamp": time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// GetStorageHealth returns detailed storage health information
func (h *HealthHandler) GetStorageHealth(c *gin.Context) {
	healthCheck := h.checker.CheckStorage(c.Request.Context())

	statusCode := http.StatusOK
	if healthCheck.Status == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, healthCheck)
}
