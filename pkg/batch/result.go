package batch

import (
	"errors"

	"github.com/Sternrassler/wiki-pageviews-client/pkg/pageviews"
)

// Result is the outcome for one input page.
type Result struct {
	// Index is the position of the page in the input.
	Index int

	// PageURL is the input URL.
	PageURL string

	// Request is the built request (zero if the URL was invalid).
	Request pageviews.Request

	Stats pageviews.PageStatistics
	Err   error
}

// OK reports whether the page was fetched successfully.
func (r Result) OK() bool {
	return r.Err == nil
}

// Results holds one Result per input page, in input order.
type Results []Result

// Successful returns the statistics of the successful pages, in input order.
func (rs Results) Successful() []pageviews.PageStatistics {
	out := make([]pageviews.PageStatistics, 0, len(rs))
	for _, r := range rs {
		if r.OK() {
			out = append(out, r.Stats)
		}
	}
	return out
}

// Failed returns the failed slots, in input order.
func (rs Results) Failed() Results {
	var out Results
	for _, r := range rs {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Err joins the per-page errors, or returns nil if every page succeeded.
func (rs Results) Err() error {
	var errs []error
	for _, r := range rs {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// Merge combines the successful pages into one row set.
func (rs Results) Merge() pageviews.CombinedStatistics {
	return pageviews.Merge(rs.Successful()...)
}
