package signup

import (
	"sort"
	"strings"
	"time"
)

// Row maps a column header to its cell text. A missing key means the cell
// is absent (as opposed to present but empty).
type Row map[string]string

// Blank reports whether every cell in the row is empty or whitespace.
func (r Row) Blank() bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Table is an ordered sequence of rows plus the header order they came with.
// It holds no identity concept.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// NewTable builds a table from a header row and raw records, the shape
// returned by the Sheets values API and by encoding/csv.
//
// Blank header cells are dropped, duplicate headers keep their first
// occurrence, and cells past the end of a short record are left absent.
func NewTable(header []string, records [][]string) Table {
	type col struct {
		name string
		idx  int
	}
	cols := make([]col, 0, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		cols = append(cols, col{name: name, idx: i})
	}

	t := Table{
		Columns: make([]string, 0, len(cols)),
		Rows:    make([]Row, 0, len(records)),
	}
	for _, c := range cols {
		t.Columns = append(t.Columns, c.name)
	}
	for _, rec := range records {
		row := make(Row, len(cols))
		for _, c := range cols {
			if c.idx < len(rec) {
				row[c.name] = rec[c.idx]
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func (t Table) Len() int { return len(t.Rows) }

// Filter returns a copy of the table holding only the rows keep accepts.
func (t Table) Filter(keep func(Row) bool) Table {
	out := Table{Columns: append([]string(nil), t.Columns...), Rows: make([]Row, 0, len(t.Rows))}
	for _, r := range t.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// columnOrder returns the columns of row in table order, followed by any
// keys the header doesn't list (sorted, so the order is deterministic).
func (t Table) columnOrder(row Row) []string {
	out := make([]string, 0, len(row))
	listed := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		listed[c] = true
		out = append(out, c)
	}
	var extra []string
	for k := range row {
		if !listed[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// Snapshot is one fetched copy of the table. Treat it as immutable.
type Snapshot struct {
	Table     Table     `json:"table"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (s Snapshot) IsZero() bool { return s.FetchedAt.IsZero() && len(s.Table.Rows) == 0 }
