// Package ratelimit provides the rate limiting types used for tenant
// ingest quotas.
package ratelimit

import (
	"fmt"
	"time"
)

// Config defines the rate limiting parameters.
type Config struct {
	// Rate is the number of allowed events in the period.
	Rate int

	// Burst is the maximum number of events accepted at once.
	// Defaults to Rate.
	Burst int

	// Period is the time window for Rate.
	Period time.Duration
}

// Result contains the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the event is allowed.
	Allowed bool

	// Remaining is the number of events that could still be accepted now.
	Remaining int

	// RetryAfter is the duration until the next event will be allowed.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration

	// ResetAfter is the duration until the full burst is available again.
	ResetAfter time.Duration
}

// KeyType identifies what a rate limit key counts.
type KeyType string

const (
	// KeyTypeTenant limits all events of one tenant.
	KeyTypeTenant KeyType = "tenant"

	// KeyTypeSource limits one producer, e.g. an API key name.
	KeyTypeSource KeyType = "source"
)

// keyPrefix is the base prefix for all rate limit keys.
const keyPrefix = "ratelimit"

// FormatKey returns a structured rate limit key.
// Format: "ratelimit:{type}:{value}"
// Examples:
//   - FormatKey(KeyTypeTenant, "acme") -> "ratelimit:tenant:acme"
//   - FormatKey(KeyTypeSource, "siem") -> "ratelimit:source:siem"
func FormatKey(keyType KeyType, value string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, keyType, value)
}
