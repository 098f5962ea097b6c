// Package infra provides shared infrastructure used across the application:
// structured logging, tracing, and outbound rate limiting.
package infra

import (
	"golang.org/x/time/rate"
)

// --- Rate limiter ---

// NewRateLimiter builds a token-bucket limiter allowing requestsPerMinute
// sustained calls with the given burst. It returns nil when
// requestsPerMinute is not positive, meaning "unlimited"; callers
// treat a nil limiter as a no-op.
func NewRateLimiter(requestsPerMinute, burst int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
}
