package signup

import (
	"reflect"
	"testing"
)

func TestNewTable(t *testing.T) {
	header := []string{"Name", "", "Color", "Name", " Age "}
	records := [][]string{
		{"Alice", "x", "red", "dup", "30"},
		{"Bob", "y"},
	}
	tbl := NewTable(header, records)

	if want := []string{"Name", "Color", "Age"}; !reflect.DeepEqual(tbl.Columns, want) {
		t.Fatalf("columns = %v, want %v", tbl.Columns, want)
	}
	if tbl.Len() != 2 {
		t.Fatalf("len = %d, want 2", tbl.Len())
	}
	if got := tbl.Rows[0]; !reflect.DeepEqual(got, Row{"Name": "Alice", "Color": "red", "Age": "30"}) {
		t.Fatalf("row0 = %v", got)
	}
	if _, ok := tbl.Rows[1]["Color"]; ok {
		t.Fatalf("short record should leave Color absent: %v", tbl.Rows[1])
	}
}

func TestRowBlank(t *testing.T) {
	cases := []struct {
		row  Row
		want bool
	}{
		{Row{}, true},
		{Row{"a": "", "b": "  \t"}, true},
		{Row{"a": "", "b": "x"}, false},
	}
	for _, tc := range cases {
		if got := tc.row.Blank(); got != tc.want {
			t.Fatalf("Blank(%v) = %v, want %v", tc.row, got, tc.want)
		}
	}
}

func TestTableFilter(t *testing.T) {
	tbl := Table{Columns: []string{"n"}, Rows: []Row{{"n": "a"}, {"n": ""}, {"n": "b"}}}
	out := tbl.Filter(func(r Row) bool { return !r.Blank() })
	if out.Len() != 2 || out.Rows[1]["n"] != "b" {
		t.Fatalf("filter = %v", out.Rows)
	}
	if tbl.Len() != 3 {
		t.Fatalf("filter mutated input")
	}
}

func TestResolveKey(t *testing.T) {
	cases := []struct {
		name string
		row  Row
		key  RowKey
		ok   bool
	}{
		{"plain", Row{"Name": "Alice"}, "Alice", true},
		{"trimmed", Row{"Name": "  Alice \n"}, "Alice", true},
		{"blank", Row{"Name": "   "}, "", false},
		{"absent", Row{"Other": "x"}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, ok := ResolveKey(tc.row, "Name")
			if key != tc.key || ok != tc.ok {
				t.Fatalf("ResolveKey = (%q, %v), want (%q, %v)", key, ok, tc.key, tc.ok)
			}
		})
	}
}
