// Package source fetches the current signup table from wherever the form
// responses live: a Google sheet (optionally discovered inside a Drive
// folder), a published CSV export, or a local CSV file.
//
// Every driver returns an error on failure; a successful fetch of an empty
// sheet is the only way to get an empty table.
package source
