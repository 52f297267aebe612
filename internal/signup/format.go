package signup

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultNoResponse = "No response"
	defaultNoComments = "No additional comments"
	defaultCountLabel = "Current Sunday Signups"
	timeLayout        = "03:04 PM MST"
	footer            = "---------------"
)

var yesPattern = regexp.MustCompile(`(?i)\by(es)?\b`)

// Formatter renders change events as chat text.
//
// Format is a pure function of (event, current table, timestamp); the
// Formatter itself only holds static configuration.
type Formatter struct {
	Rules    Rules
	Location *time.Location

	CountLabel string
	NoResponse string
	NoComments string
}

// NewFormatter returns a formatter with default labels. A nil loc means UTC.
func NewFormatter(rules Rules, loc *time.Location) Formatter {
	if loc == nil {
		loc = time.UTC
	}
	return Formatter{
		Rules:      rules,
		Location:   loc,
		CountLabel: defaultCountLabel,
		NoResponse: defaultNoResponse,
		NoComments: defaultNoComments,
	}
}

// Format renders ev wrapped in the update header. A zero at means now.
func (f Formatter) Format(ev ChangeEvent, table Table, at time.Time) string {
	cols := f.Rules.Resolve(table.Columns)

	var body string
	switch ev.Kind {
	case KindAdded:
		body = f.addedBody(ev, cols)
	default:
		body = modifiedBody(ev)
	}
	return f.wrap(body, table, cols, at)
}

// Header renders the timestamp and aggregate lines shared by every message.
func (f Formatter) Header(table Table, at time.Time) string {
	return f.header(table, f.Rules.Resolve(table.Columns), at)
}

func (f Formatter) header(table Table, cols Columns, at time.Time) string {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	label := f.CountLabel
	if label == "" {
		label = defaultCountLabel
	}

	col, _ := cols.Name(PurposeAvailability)
	var b strings.Builder
	b.WriteString("**Update at ")
	b.WriteString(at.In(loc).Format(timeLayout))
	b.WriteString("**\n**")
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(strconv.Itoa(YesCount(table, col)))
	b.WriteString("**")
	return b.String()
}

func (f Formatter) wrap(body string, table Table, cols Columns, at time.Time) string {
	return "\n" + f.header(table, cols, at) + "\n\n" + body + "\n" + footer
}

func (f Formatter) addedBody(ev ChangeEvent, cols Columns) string {
	lines := []string{"**New signup: " + ev.Name + "**"}

	if m, ok := cols[PurposeStatus]; ok && ev.Fields.Status != "" {
		lines = append(lines, m.DisplayLabel()+": "+ev.Fields.Status)
	}
	if m, ok := cols[PurposeAvailability]; ok {
		v := ev.Fields.Availability
		if v == "" {
			v = orDefault(f.NoResponse, defaultNoResponse)
		}
		lines = append(lines, m.DisplayLabel()+": "+v)
	}
	if ev.Fields.Answer != "" {
		label := ev.Fields.QuestionLabel
		if label == "" {
			label = "Question of the week"
		}
		lines = append(lines, label+": "+ev.Fields.Answer)
	}

	label := "Comments"
	if m, ok := cols[PurposeComments]; ok {
		label = m.DisplayLabel()
	}
	comments := ev.Fields.Comments
	if comments == "" {
		comments = orDefault(f.NoComments, defaultNoComments)
	}
	lines = append(lines, label+": "+comments)

	return strings.Join(lines, "\n")
}

func modifiedBody(ev ChangeEvent) string {
	lines := make([]string, 0, len(ev.Deltas)+1)
	lines = append(lines, "**"+ev.Name+"**")
	for _, d := range ev.Deltas {
		lines = append(lines, d.Column+": "+d.Old+" → "+d.New)
	}
	return strings.Join(lines, "\n")
}

// YesCount counts rows whose column cell contains a word-bounded "y" or
// "yes" (case-insensitive). It runs over the whole table, keyed or not.
func YesCount(table Table, column string) int {
	if column == "" {
		return 0
	}
	n := 0
	for _, r := range table.Rows {
		if v, ok := r[column]; ok && yesPattern.MatchString(v) {
			n++
		}
	}
	return n
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
