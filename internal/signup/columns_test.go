package signup

import "testing"

func TestFindColumn(t *testing.T) {
	cols := []string{"Timestamp", "What's your name? (first & last)", "Are You Playing Sunday??", "Comments"}
	cases := []struct {
		needle string
		want   string
		ok     bool
	}{
		{"are you playing sunday", "Are You Playing Sunday??", true},
		{"ARE YOU   PLAYING", "Are You Playing Sunday??", true},
		{"what’s your name", "What's your name? (first & last)", true},
		{"comments", "Comments", true},
		{"saturday", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := FindColumn(cols, tc.needle)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("FindColumn(%q) = (%q, %v), want (%q, %v)", tc.needle, got, ok, tc.want, tc.ok)
		}
	}
}

func TestFindColumnFirstMatchWins(t *testing.T) {
	got, ok := FindColumn([]string{"Sunday notes", "Sunday"}, "sunday")
	if !ok || got != "Sunday notes" {
		t.Fatalf("got %q %v", got, ok)
	}
}

func TestResolveDefaultRules(t *testing.T) {
	cols := []string{
		"Name",
		"Guest or Member?",
		"Are you playing Sunday?",
		"Question of the Week: Favorite snack?",
		"Additional comments",
	}
	m := DefaultRules().Resolve(cols)

	want := map[Purpose]string{
		PurposeStatus:       "Guest or Member?",
		PurposeAvailability: "Are you playing Sunday?",
		PurposeQuestion:     "Question of the Week: Favorite snack?",
		PurposeComments:     "Additional comments",
	}
	for p, col := range want {
		got, ok := m.Name(p)
		if !ok || got != col {
			t.Fatalf("%s = %q %v, want %q", p, got, ok, col)
		}
	}
	if got := m[PurposeQuestion].DisplayLabel(); got != "Favorite snack?" {
		t.Fatalf("question label = %q", got)
	}
	if got := m[PurposeAvailability].DisplayLabel(); got != "Playing Sunday" {
		t.Fatalf("availability label = %q", got)
	}
}

func TestResolveSkipsClaimedColumns(t *testing.T) {
	rules := Rules{
		{Purpose: PurposeQuestion, Contains: []string{"question"}},
		{Purpose: PurposeComments, Contains: []string{"comments"}},
	}
	m := rules.Resolve([]string{"Question: any comments?", "Name"})
	if _, ok := m.Name(PurposeComments); ok {
		t.Fatalf("comments should not reuse the question column: %+v", m)
	}
}

func TestResolveUnmatched(t *testing.T) {
	m := DefaultRules().Resolve([]string{"Name"})
	if len(m) != 0 {
		t.Fatalf("expected no matches, got %+v", m)
	}
	if v := m.Value(Row{"Name": "x"}, PurposeComments); v != "" {
		t.Fatalf("Value on unmatched = %q", v)
	}
}
