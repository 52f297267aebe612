package signup

import "strings"

// Purpose names what a matched column is used for.
type Purpose string

const (
	// PurposeAvailability is the yes/no question counted in the header aggregate.
	PurposeAvailability Purpose = "availability"
	// PurposeQuestion is the free-response "question of the week".
	PurposeQuestion Purpose = "question"
	PurposeComments Purpose = "comments"
	PurposeStatus   Purpose = "status"
)

// ColumnRule locates one semantically named column.
//
// Contains lists alternative substrings; the first one that matches any
// column wins. Label is the display label used in rendered events (empty
// means "use the header"). StripPrefix is removed from the front of the
// header before it is displayed.
type ColumnRule struct {
	Purpose     Purpose  `json:"purpose"`
	Contains    []string `json:"contains"`
	Label       string   `json:"label,omitempty"`
	StripPrefix string   `json:"strip_prefix,omitempty"`
}

// Rules is an ordered rule list, evaluated once per cycle.
type Rules []ColumnRule

// DefaultRules matches the wording the signup form has used so far.
func DefaultRules() Rules {
	return Rules{
		{Purpose: PurposeAvailability, Contains: []string{"are you playing sunday"}, Label: "Playing Sunday"},
		{Purpose: PurposeQuestion, Contains: []string{"question of the week"}, StripPrefix: "Question of the Week:"},
		{Purpose: PurposeComments, Contains: []string{"additional comments", "comments"}, Label: "Comments"},
		{Purpose: PurposeStatus, Contains: []string{"guest or member", "member or guest", "attendee", "status"}, Label: "Status"},
	}
}

// Match is a resolved column.
type Match struct {
	Column string
	Rule   ColumnRule
}

// DisplayLabel is the label a rendered line should use for this column.
func (m Match) DisplayLabel() string {
	if m.Rule.Label != "" {
		return m.Rule.Label
	}
	label := strings.TrimSpace(m.Column)
	if p := strings.TrimSpace(m.Rule.StripPrefix); p != "" && len(label) >= len(p) && strings.EqualFold(label[:len(p)], p) {
		label = strings.TrimSpace(label[len(p):])
	}
	if label == "" {
		return strings.TrimSpace(m.Column)
	}
	return label
}

// Columns holds the rule matches for one table's header.
type Columns map[Purpose]Match

// Name returns the matched header for p.
func (c Columns) Name(p Purpose) (string, bool) {
	m, ok := c[p]
	return m.Column, ok
}

// Value returns the trimmed cell of row for p ("" if unmatched or absent).
func (c Columns) Value(row Row, p Purpose) string {
	m, ok := c[p]
	if !ok {
		return ""
	}
	return strings.TrimSpace(row[m.Column])
}

// Resolve evaluates the rules against a header in order. A column claimed
// by an earlier rule is not offered to later rules, so a broad pattern like
// "comments" can't steal the question column.
func (rs Rules) Resolve(columns []string) Columns {
	out := make(Columns, len(rs))
	claimed := make(map[string]bool, len(rs))
	for _, r := range rs {
		if _, done := out[r.Purpose]; done {
			continue
		}
		free := make([]string, 0, len(columns))
		for _, c := range columns {
			if !claimed[c] {
				free = append(free, c)
			}
		}
		for _, want := range r.Contains {
			if col, ok := FindColumn(free, want); ok {
				out[r.Purpose] = Match{Column: col, Rule: r}
				claimed[col] = true
				break
			}
		}
	}
	return out
}

// FindColumn does a case-insensitive substring search over column names and
// returns the first match in column order. Headers are normalized first
// (case, curly quotes, runs of whitespace) so trailing punctuation and
// small wording drift don't break matching. An empty needle never matches.
func FindColumn(columns []string, substring string) (string, bool) {
	needle := normalizeHeader(substring)
	if needle == "" {
		return "", false
	}
	for _, c := range columns {
		if strings.Contains(normalizeHeader(c), needle) {
			return c, true
		}
	}
	return "", false
}

var quoteFolder = strings.NewReplacer(
	"‘", "'", "’", "'",
	"“", `"`, "”", `"`,
	" ", " ",
)

func normalizeHeader(s string) string {
	s = quoteFolder.Replace(strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}
