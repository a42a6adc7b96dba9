package pageviews

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// TimestampLayout is the upstream item timestamp format (hour is always 00).
const TimestampLayout = "2006010215"

// Entry is one granularity bucket.
type Entry struct {
	Date  time.Time
	Views int64
}

// PageStatistics is the parsed result for one page over one date range.
// Entries are ordered by date ascending with at most one entry per bucket.
type PageStatistics struct {
	Page        PageID
	Access      Access
	Agent       Agent
	Granularity Granularity

	// Start and End are the requested range, not the range of the data.
	Start time.Time
	End   time.Time

	Entries []Entry
}

// Len returns the number of entries.
func (s PageStatistics) Len() int {
	return len(s.Entries)
}

// Total returns the sum of all views.
func (s PageStatistics) Total() int64 {
	var total int64
	for _, e := range s.Entries {
		total += e.Views
	}
	return total
}

// StartDate returns the earliest entry date, or the zero time when empty.
func (s PageStatistics) StartDate() time.Time {
	if len(s.Entries) == 0 {
		return time.Time{}
	}
	return s.Entries[0].Date
}

// EndDate returns the latest entry date, or the zero time when empty.
func (s PageStatistics) EndDate() time.Time {
	if len(s.Entries) == 0 {
		return time.Time{}
	}
	return s.Entries[len(s.Entries)-1].Date
}

// Peak returns the entry with the most views. Ties resolve to the earliest date.
func (s PageStatistics) Peak() (Entry, bool) {
	if len(s.Entries) == 0 {
		return Entry{}, false
	}
	peak := s.Entries[0]
	for _, e := range s.Entries[1:] {
		if e.Views > peak.Views {
			peak = e
		}
	}
	return peak, true
}

// ZeroFilled returns a copy with a zero-view entry for every bucket of the
// requested range that the upstream omitted.
func (s PageStatistics) ZeroFilled() PageStatistics {
	if s.Start.IsZero() || s.End.IsZero() {
		return s
	}

	views := make(map[time.Time]int64, len(s.Entries))
	for _, e := range s.Entries {
		views[e.Date] = e.Views
	}

	out := s
	out.Entries = nil
	for d := bucketStart(s.Start, s.Granularity); !d.After(s.End); d = nextBucket(d, s.Granularity) {
		out.Entries = append(out.Entries, Entry{Date: d, Views: views[d]})
	}
	return out
}

func bucketStart(t time.Time, g Granularity) time.Time {
	if g == Monthly {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return CalendarDate(t)
}

func nextBucket(t time.Time, g Granularity) time.Time {
	if g == Monthly {
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(0, 0, 1)
}

// apiResponse is the upstream JSON envelope.
type apiResponse struct {
	Items *[]apiItem `json:"items"`
}

type apiItem struct {
	Project     string    `json:"project"`
	Article     string    `json:"article"`
	Granularity string    `json:"granularity"`
	Timestamp   string    `json:"timestamp"`
	Access      string    `json:"access"`
	Agent       string    `json:"agent"`
	Views       viewCount `json:"views"`
}

// viewCount accepts both JSON numbers and numeric strings.
type viewCount struct {
	n     int64
	valid bool
}

func (v *viewCount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	data = bytes.Trim(data, `"`)
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("views %s: %w", data, err)
	}
	if n < 0 {
		return fmt.Errorf("views %d: negative", n)
	}
	v.n, v.valid = n, true
	return nil
}

// ParseResponse decodes an upstream response body for req.
// Item order is preserved; duplicate timestamps keep their first occurrence.
func ParseResponse(req Request, body []byte) (PageStatistics, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return PageStatistics{}, &ParseError{Page: req.Page, Detail: "invalid JSON body", Err: err}
	}
	if resp.Items == nil {
		return PageStatistics{}, &ParseError{Page: req.Page, Detail: `missing "items" array`}
	}

	stats := PageStatistics{
		Page:        req.Page,
		Access:      req.Access,
		Agent:       req.Agent,
		Granularity: req.Granularity,
		Start:       req.Start,
		End:         req.End,
		Entries:     make([]Entry, 0, len(*resp.Items)),
	}

	seen := make(map[time.Time]struct{}, len(*resp.Items))
	for i, item := range *resp.Items {
		date, err := time.Parse(TimestampLayout, item.Timestamp)
		if err != nil {
			return PageStatistics{}, &ParseError{
				Page:   req.Page,
				Detail: fmt.Sprintf("item %d: invalid timestamp %q", i, item.Timestamp),
				Err:    err,
			}
		}
		if !item.Views.valid {
			return PageStatistics{}, &ParseError{Page: req.Page, Detail: fmt.Sprintf("item %d: missing views", i)}
		}

		date = CalendarDate(date)
		if _, dup := seen[date]; dup {
			continue
		}
		seen[date] = struct{}{}
		stats.Entries = append(stats.Entries, Entry{Date: date, Views: item.Views.n})
	}

	// The upstream already returns ascending dates; stable sort keeps it that way.
	slices.SortStableFunc(stats.Entries, func(a, b Entry) int {
		return a.Date.Compare(b.Date)
	})

	return stats, nil
}
