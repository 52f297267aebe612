// Package storage provides the small persistence layer behind the poller.
//
// It currently supports:
//   - The last accepted snapshot, so a restart resumes diffing instead of
//     re-baselining and missing changes made while the process was down
//   - A delivery journal (one record per send attempt)
//   - Optional notifier dedup state (to survive restarts)
package storage
