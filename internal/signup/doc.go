// Package signup is the change-detection core.
//
// It resolves row identities, matches drifting column headers, diffs two
// snapshots of the signup table and renders the resulting events as chat
// text. Nothing in this package performs I/O; every function is a pure
// function of its inputs.
package signup
