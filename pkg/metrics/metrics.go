package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds performance metrics for the application
type Metrics struct {
	// Request metrics
	TotalRequests      int64 `json:"total_requests"`
	SuccessfulRequests int64 `json:"successful_requests"`
	FailedRequests     int64 `json:"failed_requests"`

	// Response time metrics
	AverageResponseTime time.Duration `json:"average_response_time"`
	MinResponseTime     time.Duration `json:"min_response_time"`
	MaxResponseTime     time.Duration `json:"max_response_time"`

	// Cache metrics
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`

	// Upstream metrics
	UpstreamCalls       int64         `json:"upstream_calls"`
	UpstreamFailures    int64         `json:"upstream_failures"`
	AverageUpstreamTime time.Duration `json:"average_upstream_time"`
	RateLimitedCalls    int64         `json:"rate_limited_calls"`
	CooldownRejections  int64         `json:"cooldown_rejections"`
	PacedWaits          int64         `json:"paced_waits"`
	TotalPacedWait      time.Duration `json:"total_paced_wait"`

	// Fallback metrics
	PlaceholderResponses int64 `json:"placeholder_responses"`

	ActiveRequests int64 `json:"active_requests"`

	// Internal fields for calculations
	totalResponseTime time.Duration
	totalUpstreamTime time.Duration
	mutex             sync.RWMutex
}

// MetricsCollector provides thread-safe metrics collection
type MetricsCollector struct {
	metrics   *Metrics
	startTime time.Time
}

const maxDuration = time.Duration(^uint64(0) >> 1)

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: &Metrics{
			MinResponseTime: maxDuration,
		},
		startTime: time.Now(),
	}
}

// RecordRequest records a new inbound request
func (mc *MetricsCollector) RecordRequest() {
	atomic.AddInt64(&mc.metrics.TotalRequests, 1)
	atomic.AddInt64(&mc.metrics.ActiveRequests, 1)
}

// RecordRequestComplete records request completion
func (mc *MetricsCollector) RecordRequestComplete(duration time.Duration, success bool) {
	atomic.AddInt64(&mc.metrics.ActiveRequests, -1)

	if success {
		atomic.AddInt64(&mc.metrics.SuccessfulRequests, 1)
	} else {
		atomic.AddInt64(&mc.metrics.FailedRequests, 1)
	}

	mc.metrics.mutex.Lock()
	defer mc.metrics.mutex.Unlock()

	mc.metrics.totalResponseTime += duration
	if duration < mc.metrics.MinResponseTime {
		mc.metrics.MinResponseTime = duration
	}
	if duration > mc.metrics.MaxResponseTime {
		mc.metrics.MaxResponseTime = duration
	}

	completed := atomic.LoadInt64(&mc.metrics.SuccessfulRequests) + atomic.LoadInt64(&mc.metrics.FailedRequests)
	if completed > 0 {
		mc.metrics.AverageResponseTime = mc.metrics.totalResponseTime / time.Duration(completed)
	}
}

// RecordCacheHit records a cache hit
func (mc *MetricsCollector) RecordCacheHit() {
	atomic.AddInt64(&mc.metrics.CacheHits, 1)
}

// RecordCacheMiss records a cache miss
func (mc *MetricsCollector) RecordCacheMiss() {
	atomic.AddInt64(&mc.metrics.CacheMisses, 1)
}

// RecordUpstreamCall records one executed gateway job
func (mc *MetricsCollector) RecordUpstreamCall(duration time.Duration, success bool) {
	atomic.AddInt64(&mc.metrics.UpstreamCalls, 1)
	if !success {
		atomic.AddInt64(&mc.metrics.UpstreamFailures, 1)
	}

	mc.metrics.mutex.Lock()
	defer mc.metrics.mutex.Unlock()

	mc.metrics.totalUpstreamTime += duration
	if calls := atomic.LoadInt64(&mc.metrics.UpstreamCalls); calls > 0 {
		mc.metrics.AverageUpstreamTime = mc.metrics.totalUpstreamTime / time.Duration(calls)
	}
}

// RecordRateLimited records an upstream 429
func (mc *MetricsCollector) RecordRateLimited() {
	atomic.AddInt64(&mc.metrics.RateLimitedCalls, 1)
}

// RecordCooldownRejection records a job rejected by the circuit breaker
func (mc *MetricsCollector) RecordCooldownRejection() {
	atomic.AddInt64(&mc.metrics.CooldownRejections, 1)
}

// RecordPacedWait records a job held back to respect the call spacing
func (mc *MetricsCollector) RecordPacedWait(wait time.Duration) {
	atomic.AddInt64(&mc.metrics.PacedWaits, 1)

	mc.metrics.mutex.Lock()
	defer mc.metrics.mutex.Unlock()
	mc.metrics.TotalPacedWait += wait
}

// RecordPlaceholder records a synthetic market response
func (mc *MetricsCollector) RecordPlaceholder() {
	atomic.AddInt64(&mc.metrics.PlaceholderResponses, 1)
}

// GetMetrics returns a copy of current metrics
func (mc *MetricsCollector) GetMetrics() *Metrics {
	mc.metrics.mutex.RLock()
	defer mc.metrics.mutex.RUnlock()

	minResponse := mc.metrics.MinResponseTime
	if minResponse == maxDuration {
		minResponse = 0
	}

	return &Metrics{
		TotalRequests:        atomic.LoadInt64(&mc.metrics.TotalRequests),
		SuccessfulRequests:   atomic.LoadInt64(&mc.metrics.SuccessfulRequests),
		FailedRequests:       atomic.LoadInt64(&mc.metrics.FailedRequests),
		AverageResponseTime:  mc.metrics.AverageResponseTime,
		MinResponseTime:      minResponse,
		MaxResponseTime:      mc.metrics.MaxResponseTime,
		CacheHits:            atomic.LoadInt64(&mc.metrics.CacheHits),
		CacheMisses:          atomic.LoadInt64(&mc.metrics.CacheMisses),
		UpstreamCalls:        atomic.LoadInt64(&mc.metrics.UpstreamCalls),
		UpstreamFailures:     atomic.LoadInt64(&mc.metrics.UpstreamFailures),
		AverageUpstreamTime:  mc.metrics.AverageUpstreamTime,
		RateLimitedCalls:     atomic.LoadInt64(&mc.metrics.RateLimitedCalls),
		CooldownRejections:   atomic.LoadInt64(&mc.metrics.CooldownRejections),
		PacedWaits:           atomic.LoadInt64(&mc.metrics.PacedWaits),
		TotalPacedWait:       mc.metrics.TotalPacedWait,
		PlaceholderResponses: atomic.LoadInt64(&mc.metrics.PlaceholderResponses),
		ActiveRequests:       atomic.LoadInt64(&mc.metrics.ActiveRequests),
	}
}

// GetUptime returns the uptime since metrics collection started
func (mc *MetricsCollector) GetUptime() time.Duration {
	mc.metrics.mutex.RLock()
	defer mc.metrics.mutex.RUnlock()
	return time.Since(mc.startTime)
}

// Reset resets all metrics
func (mc *MetricsCollector) Reset() {
	mc.metrics.mutex.Lock()
	defer mc.metrics.mutex.Unlock()

	for _, counter := range []*int64{
		&mc.metrics.TotalRequests,
		&mc.metrics.SuccessfulRequests,
		&mc.metrics.FailedRequests,
		&mc.metrics.CacheHits,
		&mc.metrics.CacheMisses,
		&mc.metrics.UpstreamCalls,
		&mc.metrics.UpstreamFailures,
		&mc.metrics.RateLimitedCalls,
		&mc.metrics.CooldownRejections,
		&mc.metrics.PacedWaits,
		&mc.metrics.PlaceholderResponses,
		&mc.metrics.ActiveRequests,
	} {
		atomic.StoreInt64(counter, 0)
	}

	mc.metrics.AverageResponseTime = 0
	mc.metrics.MinResponseTime = maxDuration
	mc.metrics.MaxResponseTime = 0
	mc.metrics.AverageUpstreamTime = 0
	mc.metrics.TotalPacedWait = 0
	mc.metrics.totalResponseTime = 0
	mc.metrics.totalUpstreamTime = 0

	mc.startTime = time.Now()
}

// GetCacheHitRatio returns the cache hit ratio as a percentage
func (mc *MetricsCollector) GetCacheHitRatio() float64 {
	hits := atomic.LoadInt64(&mc.metrics.CacheHits)
	total := hits + atomic.LoadInt64(&mc.metrics.CacheMisses)
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total) * 100.0
}

// GetSuccessRate returns the success rate as a percentage
func (mc *MetricsCollector) GetSuccessRate() float64 {
	successful := atomic.LoadInt64(&mc.metrics.SuccessfulRequests)
	total := atomic.LoadInt64(&mc.metrics.TotalRequests)
	if total == 0 {
		return 0.0
	}
	return float64(successful) / float64(total) * 100.0
}
