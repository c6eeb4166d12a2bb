package ratelimit

import "context"

// RateLimiter decides whether one more event is allowed for a key.
//
// Implementations use GCRA (Generic Cell Rate Algorithm), which spreads
// events evenly over the period instead of resetting at window boundaries.
type RateLimiter interface {
	// Allow consumes one cell for key under cfg when it is available.
	// When the event is not allowed, RetryAfter in the result says when the
	// next one will be.
	Allow(ctx context.Context, key string, cfg Config) (Result, error)
}
