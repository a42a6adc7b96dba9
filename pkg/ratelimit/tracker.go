package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrThrottled is returned when a request is refused because the upstream
// throttle window is still open.
var ErrThrottled = errors.New("upstream throttle window active")

// Prometheus metrics for throttle tracking.
var (
	throttledUntilSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pageviews_throttled_until_seconds",
		Help: "Unix time until which requests to the pageviews API are held back",
	})

	throttleBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pageviews_throttle_blocks_total",
		Help: "Total number of requests refused while the throttle window was open",
	})

	throttleEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pageviews_throttle_events_total",
		Help: "Total number of 429 responses recorded",
	})
)

// Tracker gates outbound requests.
type Tracker struct {
	store   Store
	limiter *rate.Limiter
	logger  zerolog.Logger
	now     func() time.Time
}

// NewTracker creates a tracker. requestsPerSecond <= 0 disables the token
// bucket; the throttle window is always enforced.
func NewTracker(store Store, requestsPerSecond float64, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}

	return &Tracker{
		store:   store,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
}

// GetState returns the current throttle state.
func (t *Tracker) GetState(ctx context.Context) (*ThrottleState, error) {
	return t.store.Load(ctx)
}

// Wait blocks until the token bucket admits one request or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	return nil
}

// ShouldAllowRequest reports whether a request may be sent now.
// When it returns false the error wraps ErrThrottled and names the
// remaining window.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("get throttle state: %w", err)
	}

	if state.IsThrottled(t.now()) {
		wait := state.ThrottledUntil.Sub(t.now())

		t.logger.Warn().
			Dur("wait_duration", wait).
			Int64("throttles", state.Throttles).
			Msg("Upstream throttle window active - refusing request")

		throttleBlocksTotal.Inc()
		return false, fmt.Errorf("%w: %s remaining", ErrThrottled, wait.Round(time.Millisecond))
	}

	return true, nil
}

// UpdateFromResponse records a throttle window when status is 429.
// Other statuses are ignored.
func (t *Tracker) UpdateFromResponse(ctx context.Context, status int, headers http.Header) error {
	if status != http.StatusTooManyRequests {
		return nil
	}

	now := t.now()
	cooldown := ParseRetryAfter(headers.Get("Retry-After"), now)

	state, err := t.store.Record(ctx, now.Add(cooldown))
	if err != nil {
		return fmt.Errorf("record throttle: %w", err)
	}

	throttleEventsTotal.Inc()
	throttledUntilSeconds.Set(float64(state.ThrottledUntil.Unix()))

	t.logger.Warn().
		Dur("cooldown", cooldown).
		Time("throttled_until", state.ThrottledUntil).
		Int64("throttles", state.Throttles).
		Msg("Upstream returned 429 - throttle window opened")

	return nil
}

// ParseRetryAfter converts a Retry-After header (delta seconds or HTTP date)
// into a cooldown, bounded by MaxCooldown. Unusable values yield DefaultCooldown.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultCooldown
	}

	var d time.Duration
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		// Clamp before converting so large values cannot overflow.
		if secs > int64(MaxCooldown/time.Second) {
			return MaxCooldown
		}
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
	} else {
		return DefaultCooldown
	}

	switch {
	case d <= 0:
		return DefaultCooldown
	case d > MaxCooldown:
		return MaxCooldown
	default:
		return d
	}
}
