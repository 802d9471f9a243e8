package services

import (
	"context"
	"fmt"
	"time"

	"github.com/milopalmaerts/Crypto/internal/gateway"
	"github.com/milopalmaerts/Crypto/internal/storage"
)

// HealthStatus represents the health status of a service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck represents a health check result
type HealthCheck struct {
	Service      string        `json:"service"`
	Status       HealthStatus  `json:"status"`
	Message      string        `json:"message,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Pinger is any dependency that can report reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// IndexChecker is implemented by stores that can report missing indexes
type IndexChecker interface {
	MissingIndexes(ctx context.Context) ([]string, error)
}

// HealthService checks storage, the shared cache and the upstream gateway
type HealthService struct {
	store   storage.Store
	cache   Pinger
	gateway *gateway.Gateway
	timeout time.Duration
}

// NewHealthService creates a checker. cache and gw may be nil.
func NewHealthService(store storage.Store, cache Pinger, gw *gateway.Gateway) *HealthService {
	return &HealthService{
		store:   store,
		cache:   cache,
		gateway: gw,
		timeout: 5 * time.Second,
	}
}

// CheckStorage pings the store and verifies its indexes when it can
func (hs *HealthService) CheckStorage(ctx context.Context) *HealthCheck {
	start := time.Now()
	healthCheck := &HealthCheck{
		Service:   "storage:" + hs.store.Backend(),
		Timestamp: start,
	}

	ctx, cancel := context.WithTimeout(ctx, hs.timeout)
	defer cancel()

	if err := hs.store.Ping(ctx); err != nil {
		healthCheck.Status = HealthStatusUnhealthy
		healthCheck.Message = fmt.Sprintf("ping failed: %v", err)
		healthCheck.ResponseTime = time.Since(start)
		return healthCheck
	}

	if checker, ok := hs.store.(IndexChecker); ok {
		missing, err := checker.MissingIndexes(ctx)
		switch {
		case err != nil:
			healthCheck.Status = HealthStatusDegraded
			healthCheck.Message = fmt.Sprintf("failed to list indexes: %v", err)
			healthCheck.ResponseTime = time.Since(start)
			return healthCheck
		case len(missing) > 0:
			healthCheck.Status = HealthStatusDegraded
			healthCheck.Message = fmt.Sprintf("missing indexes: %v", missing)
			healthCheck.ResponseTime = time.Since(start)
			return healthCheck
		}
	}

	healthCheck.Status = HealthStatusHealthy
	healthCheck.Message = "all checks passed"
	healthCheck.ResponseTime = time.Since(start)
	return healthCheck
}

// CheckCache pings the shared cache. An unreachable cache only degrades
// the service since reads fall through to the upstream.
func (hs *HealthService) CheckCache(ctx context.Context) *HealthCheck {
	start := time.Now()
	healthCheck := &HealthCheck{Service: "cache", Timestamp: start}

	if hs.cache == nil {
		healthCheck.Status = HealthStatusHealthy
		healthCheck.Message = "in-process cache"
		return healthCheck
	}

	ctx, cancel := context.WithTimeout(ctx, hs.timeout)
	defer cancel()

	if err := hs.cache.Ping(ctx); err != nil {
		healthCheck.Status = HealthStatusDegraded
		healthCheck.Message = fmt.Sprintf("ping failed: %v", err)
	} else {
		healthCheck.Status = HealthStatusHealthy
		healthCheck.Message = "shared cache reachable"
	}
	healthCheck.ResponseTime = time.Since(start)
	return healthCheck
}

// CheckGateway reports the upstream scheduler state
func (hs *HealthService) CheckGateway() *HealthCheck {
	healthCheck := &HealthCheck{Service: "upstream_gateway", Timestamp: time.Now()}
	if hs.gateway == nil {
		healthCheck.Status = HealthStatusHealthy
		return healthCheck
	}

	state := hs.gateway.Snapshot()
	switch {
	case state.Closed:
		healthCheck.Status = HealthStatusUnhealthy
		healthCheck.Message = "gateway closed"
	case state.InCooldown:
		healthCheck.Status = HealthStatusDegraded
		healthCheck.Message = fmt.Sprintf("cooling down, %s remaining", state.CooldownRemaining.Round(time.Second))
	case state.ConsecutiveFailures > 0:
		healthCheck.Status = HealthStatusDegraded
		healthCheck.Message = fmt.Sprintf("%d consecutive rate-limited calls, %d queued", state.ConsecutiveFailures, state.QueueLength)
	default:
		healthCheck.Status = HealthStatusHealthy
		healthCheck.Message = fmt.Sprintf("%d queued", state.QueueLength)
	}
	return healthCheck
}

// GetDetailedHealth returns comprehensive health information
func (hs *HealthService) GetDetailedHealth(ctx context.Context) map[string]*HealthCheck {
	return map[string]*HealthCheck{
		"storage":  hs.CheckStorage(ctx),
		"cache":    hs.CheckCache(ctx),
		"upstream": hs.CheckGateway(),
	}
}

// OverallStatus folds individual checks into one status
func OverallStatus(checks map[string]*HealthCheck) HealthStatus {
	overall := HealthStatusHealthy
	for _, check := range checks {
		switch check.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			overall = HealthStatusDegraded
		}
	}
	return overall
}
