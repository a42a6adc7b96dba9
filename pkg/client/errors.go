package client

import (
	"errors"
	"net/http"

	"github.com/Sternrassler/wiki-pageviews-client/pkg/pageviews"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/ratelimit"
)

// IsNotFound reports whether err is a 404 from the API. The pageviews API
// answers 404 for unknown articles and for ranges without data.
func IsNotFound(err error) bool {
	var upErr *pageviews.UpstreamError
	return errors.As(err, &upErr) && upErr.StatusCode == http.StatusNotFound
}

// IsThrottled reports whether err is a 429 or a request refused because a
// throttle window was open.
func IsThrottled(err error) bool {
	if errors.Is(err, ratelimit.ErrThrottled) {
		return true
	}
	var upErr *pageviews.UpstreamError
	return errors.As(err, &upErr) && upErr.ErrorClass == pageviews.ErrorClassRateLimit
}

// IsTransient reports whether a later attempt could succeed. The client never
// retries on its own; callers decide.
func IsTransient(err error) bool {
	var upErr *pageviews.UpstreamError
	if !errors.As(err, &upErr) {
		return false
	}
	switch upErr.ErrorClass {
	case pageviews.ErrorClassServer, pageviews.ErrorClassRateLimit, pageviews.ErrorClassNetwork:
		return true
	default:
		return false
	}
}
