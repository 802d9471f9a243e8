package gateway

import "errors"

var (
	// ErrRateLimited marks an upstream response that signalled throttling (HTTP 429).
	ErrRateLimited = errors.New("upstream rate limit exceeded")

	// ErrCooldownActive is returned for jobs rejected while the gateway is cooling down.
	ErrCooldownActive = errors.New("upstream cooldown active")

	// ErrUpstreamFailure wraps every other upstream failure (network, 5xx, bad payload).
	ErrUpstreamFailure = errors.New("upstream request failed")

	// ErrClosed is returned for jobs submitted to, or still queued in, a closed gateway.
	ErrClosed = errors.New("gateway closed")
)

// IsRateLimited reports whether err counts toward the consecutive failure counter.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
