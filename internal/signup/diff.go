package signup

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindAdded    Kind = "added"
	KindModified Kind = "modified"
)

// FieldDelta is one column's before/after pair. Absent cells are reported
// as empty strings.
type FieldDelta struct {
	Column string `json:"column"`
	Old    string `json:"old"`
	New    string `json:"new"`
}

// Derived holds the fields an Added event is rendered from.
type Derived struct {
	Status        string `json:"status,omitempty"`
	Availability  string `json:"availability,omitempty"`
	QuestionLabel string `json:"question_label,omitempty"`
	Answer        string `json:"answer,omitempty"`
	Comments      string `json:"comments,omitempty"`
}

// ChangeEvent is one row's classification. Added events carry Row and
// Fields; Modified events carry Deltas.
type ChangeEvent struct {
	Kind   Kind         `json:"kind"`
	Key    RowKey       `json:"key"`
	Name   string       `json:"name"`
	Row    Row          `json:"row,omitempty"`
	Fields Derived      `json:"fields"`
	Deltas []FieldDelta `json:"deltas,omitempty"`
}

// Collision reports a key that appears on more than one row of a snapshot.
// The last occurrence is the one compared.
type Collision struct {
	Key   RowKey `json:"key"`
	Side  string `json:"side"` // "previous" | "current"
	Count int    `json:"count"`
}

func (c Collision) String() string {
	return fmt.Sprintf("%s:%q x%d", c.Side, string(c.Key), c.Count)
}

// Result is the outcome of one Diff call.
type Result struct {
	Events     []ChangeEvent
	Collisions []Collision
	// Unkeyed counts current rows dropped for lack of an identity.
	Unkeyed int
}

// Diff compares two snapshots keyed by identityColumn.
//
// Events follow the current snapshot's row order, Added and Modified
// interleaved. Keys only present in prev are ignored: deletions are never
// reported. cols supplies the matched columns used to fill Added events.
func Diff(prev, cur Snapshot, identityColumn string, cols Columns) Result {
	prevIdx, prevColl, _ := indexRows(prev.Table, identityColumn, "previous")
	curIdx, curColl, unkeyed := indexRows(cur.Table, identityColumn, "current")

	res := Result{
		Collisions: append(prevColl, curColl...),
		Unkeyed:    unkeyed,
	}
	for i, row := range cur.Table.Rows {
		key, ok := ResolveKey(row, identityColumn)
		if !ok || curIdx[key] != i {
			continue
		}
		j, seen := prevIdx[key]
		if !seen {
			res.Events = append(res.Events, ChangeEvent{
				Kind:   KindAdded,
				Key:    key,
				Name:   string(key),
				Row:    row,
				Fields: derive(row, cols),
			})
			continue
		}
		deltas := CompareRows(prev.Table.Rows[j], row, cur.Table.columnOrder(row))
		if len(deltas) == 0 {
			continue
		}
		res.Events = append(res.Events, ChangeEvent{
			Kind:   KindModified,
			Key:    key,
			Name:   string(key),
			Deltas: deltas,
		})
	}
	return res
}

// CompareRows compares after against before over columns, in order. A
// column yields a delta unless both sides are absent or both trim to the
// same text (which covers blank-vs-blank and blank-vs-absent).
func CompareRows(before, after Row, columns []string) []FieldDelta {
	var out []FieldDelta
	for _, col := range columns {
		ov, oldOK := before[col]
		nv, newOK := after[col]
		if !oldOK && !newOK {
			continue
		}
		ot, nt := strings.TrimSpace(ov), strings.TrimSpace(nv)
		if ot == nt {
			continue
		}
		out = append(out, FieldDelta{Column: col, Old: ot, New: nt})
	}
	return out
}

// indexRows maps each key to the index of its last row.
func indexRows(t Table, identityColumn, side string) (map[RowKey]int, []Collision, int) {
	idx := make(map[RowKey]int, len(t.Rows))
	counts := make(map[RowKey]int)
	var order []RowKey
	unkeyed := 0
	for i, row := range t.Rows {
		key, ok := ResolveKey(row, identityColumn)
		if !ok {
			unkeyed++
			continue
		}
		if _, dup := idx[key]; dup && counts[key] == 1 {
			order = append(order, key)
		}
		idx[key] = i
		counts[key]++
	}
	var coll []Collision
	for _, k := range order {
		coll = append(coll, Collision{Key: k, Side: side, Count: counts[k]})
	}
	return idx, coll, unkeyed
}

func derive(row Row, cols Columns) Derived {
	d := Derived{
		Status:       cols.Value(row, PurposeStatus),
		Availability: cols.Value(row, PurposeAvailability),
		Answer:       cols.Value(row, PurposeQuestion),
		Comments:     cols.Value(row, PurposeComments),
	}
	if m, ok := cols[PurposeQuestion]; ok {
		d.QuestionLabel = m.DisplayLabel()
	}
	return d
}
