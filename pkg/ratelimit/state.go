// Package ratelimit gates requests to the Wikimedia REST API.
//
// Two mechanisms are combined:
//
//   - a client-side token bucket that keeps the request rate under the
//     configured requests-per-second budget
//   - a throttle window recorded whenever the upstream answers 429 Too Many
//     Requests; no request is sent until the window (taken from the
//     Retry-After header) has passed
//
// The throttle window lives in a Store so several client instances can share
// it through Redis.
package ratelimit

import (
	"time"
)

// Redis keys for throttle state storage.
const (
	RedisKeyThrottledUntil = "pageviews:rate_limit:throttled_until"
	RedisKeyThrottleCount  = "pageviews:rate_limit:throttle_count"
	RedisKeyLastUpdate     = "pageviews:rate_limit:last_update"
)

// DefaultCooldown is the throttle window applied when a 429 carries no usable Retry-After.
const DefaultCooldown = 1 * time.Second

// MaxCooldown caps the throttle window taken from Retry-After.
const MaxCooldown = 5 * time.Minute

// ThrottleState is the current upstream throttle window.
type ThrottleState struct {
	// ThrottledUntil is the time before which no request should be sent.
	// Zero means not throttled.
	ThrottledUntil time.Time `json:"throttled_until"`

	// Throttles counts 429 responses seen since the store was created.
	Throttles int64 `json:"throttles"`

	// LastUpdate is when the state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// IsThrottled reports whether requests must be held back at now.
func (s *ThrottleState) IsThrottled(now time.Time) bool {
	return now.Before(s.ThrottledUntil)
}

// TimeUntilReset returns the remaining throttle window.
// Returns 0 if the window has already passed.
func (s *ThrottleState) TimeUntilReset() time.Duration {
	d := time.Until(s.ThrottledUntil)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if the state is older than maxAge.
func (s *ThrottleState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Extend moves the throttle window to until if that is later than the
// current window and counts one more throttle.
func (s *ThrottleState) Extend(until, now time.Time) {
	if until.After(s.ThrottledUntil) {
		s.ThrottledUntil = until
	}
	s.Throttles++
	s.LastUpdate = now
}
