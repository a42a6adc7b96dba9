package pageviews

import (
	"fmt"
	"testing"
)

func makeStats(project, title string, n int) PageStatistics {
	s := PageStatistics{
		Page:        PageID{Project: project, Title: title},
		Access:      AccessAny,
		Agent:       AgentUser,
		Granularity: Daily,
	}
	for i := 0; i < n; i++ {
		s.Entries = append(s.Entries, Entry{Date: date(2025, 1, 1+i), Views: int64(10 * (i + 1))})
	}
	return s
}

func TestMerge_Empty(t *testing.T) {
	combined := Merge()
	if combined.Len() != 0 {
		t.Errorf("Merge().Len() = %d, want 0", combined.Len())
	}
	if tbl := combined.Table(); len(tbl.Rows) != 0 || len(tbl.Columns) != len(Columns) {
		t.Errorf("empty Table() = %+v", tbl)
	}
}

func TestMerge_PageThenDateOrder(t *testing.T) {
	for _, tc := range []struct{ pages, entries int }{{1, 1}, {3, 4}, {5, 0}, {2, 31}} {
		t.Run(fmt.Sprintf("%dx%d", tc.pages, tc.entries), func(t *testing.T) {
			var stats []PageStatistics
			for p := 0; p < tc.pages; p++ {
				stats = append(stats, makeStats("en.wikipedia", fmt.Sprintf("Page_%d", p), tc.entries))
			}

			combined := Merge(stats...)
			if combined.Len() != tc.pages*tc.entries {
				t.Fatalf("Len() = %d, want %d", combined.Len(), tc.pages*tc.entries)
			}

			for i, row := range combined.Rows {
				p, e := i/tc.entries, i%tc.entries
				if row.Page.Title != fmt.Sprintf("Page_%d", p) {
					t.Errorf("row %d page = %s, want Page_%d", i, row.Page.Title, p)
				}
				if !row.Date.Equal(date(2025, 1, 1+e)) {
					t.Errorf("row %d date = %v", i, row.Date)
				}
			}
		})
	}
}

func TestMerge_NoCrossPageDeduplication(t *testing.T) {
	a := makeStats("en.wikipedia", "Same", 2)
	b := makeStats("en.wikipedia", "Same", 2)

	combined := Merge(a, b)
	if combined.Len() != 4 {
		t.Errorf("Len() = %d, want 4", combined.Len())
	}
	if got := combined.TotalsByPage()["en.wikipedia/Same"]; got != 60 {
		t.Errorf("TotalsByPage() = %d, want 60", got)
	}
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	a := makeStats("en.wikipedia", "A", 3)
	before := a.Entries[0]

	combined := Merge(a)
	combined.Rows[0].Views = -1

	if a.Entries[0] != before {
		t.Error("Merge output aliases input entries")
	}
}

func TestTable(t *testing.T) {
	s := makeStats("de.wikipedia", "Berlin", 2)
	tbl := s.Table()

	if len(tbl.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(tbl.Rows))
	}
	want := []any{"de.wikipedia", "Berlin", "daily", "all-access", "user", "2025-01-01", int64(10)}
	for i, v := range want {
		if tbl.Rows[0][i] != v {
			t.Errorf("cell %s = %v, want %v", tbl.Columns[i], tbl.Rows[0][i], v)
		}
	}

	recs := tbl.Records()
	if recs[1][ColumnViews] != int64(20) {
		t.Errorf("record views = %v, want 20", recs[1][ColumnViews])
	}
	if recs[1][ColumnTimestamp] != "2025-01-02" {
		t.Errorf("record timestamp = %v", recs[1][ColumnTimestamp])
	}
}
