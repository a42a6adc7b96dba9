package pageviews

import "time"

// Column names of the tabular form.
const (
	ColumnProject     = "project"
	ColumnArticle     = "article"
	ColumnGranularity = "granularity"
	ColumnAccess      = "access"
	ColumnAgent       = "agent"
	ColumnTimestamp   = "timestamp"
	ColumnViews       = "views"
)

// Columns is the column order of every Table produced by this package.
var Columns = []string{
	ColumnProject,
	ColumnArticle,
	ColumnGranularity,
	ColumnAccess,
	ColumnAgent,
	ColumnTimestamp,
	ColumnViews,
}

// Table is a generic row-oriented table of named columns.
// Cell values are strings except the views column, which holds int64.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Records returns the rows as column-name keyed maps.
func (t Table) Records() []map[string]any {
	out := make([]map[string]any, len(t.Rows))
	for i, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))
		for j, col := range t.Columns {
			if j < len(row) {
				rec[col] = row[j]
			}
		}
		out[i] = rec
	}
	return out
}

// Table converts the combined rows into a Table.
func (c CombinedStatistics) Table() Table {
	rows := make([][]any, len(c.Rows))
	for i, r := range c.Rows {
		rows[i] = []any{
			r.Page.Project,
			r.Page.Title,
			string(r.Granularity),
			string(r.Access),
			string(r.Agent),
			r.Date.Format(time.DateOnly),
			r.Views,
		}
	}
	return Table{Columns: append([]string(nil), Columns...), Rows: rows}
}

// Table converts a single page's entries into a Table.
func (s PageStatistics) Table() Table {
	return Merge(s).Table()
}
