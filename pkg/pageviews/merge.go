package pageviews

import (
	"time"
)

// Row is one (page, date, views) triple of a combined result.
type Row struct {
	Page        PageID
	Access      Access
	Agent       Agent
	Granularity Granularity
	Date        time.Time
	Views       int64
}

// CombinedStatistics is the concatenation of several PageStatistics.
type CombinedStatistics struct {
	Rows []Row
}

// Len returns the number of rows.
func (c CombinedStatistics) Len() int {
	return len(c.Rows)
}

// Merge concatenates stats into one row set: input order first, then each
// page's date order. Rows of different pages sharing a date are all kept.
// The inputs are not modified.
func Merge(stats ...PageStatistics) CombinedStatistics {
	n := 0
	for _, s := range stats {
		n += len(s.Entries)
	}

	rows := make([]Row, 0, n)
	for _, s := range stats {
		for _, e := range s.Entries {
			rows = append(rows, Row{
				Page:        s.Page,
				Access:      s.Access,
				Agent:       s.Agent,
				Granularity: s.Granularity,
				Date:        e.Date,
				Views:       e.Views,
			})
		}
	}

	return CombinedStatistics{Rows: rows}
}

// TotalsByPage sums views per page, keyed by PageID.String().
func (c CombinedStatistics) TotalsByPage() map[string]int64 {
	totals := make(map[string]int64)
	for _, r := range c.Rows {
		totals[r.Page.String()] += r.Views
	}
	return totals
}
