package signup

import "strings"

// RowKey identifies one person across snapshots.
type RowKey string

// ResolveKey derives the row's identity from the configured identity column.
// Absent, blank and whitespace-only values yield no key.
//
// Identity is purely content based: two rows with the same trimmed name
// resolve to the same key.
func ResolveKey(row Row, identityColumn string) (RowKey, bool) {
	v, ok := row[identityColumn]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return RowKey(v), true
}
