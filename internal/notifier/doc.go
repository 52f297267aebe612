// Package notifier hands rendered signup changes to the configured senders.
//
// Delivery is synchronous and ordered: one Deliver call per message, one
// attempt per sender, in the order the senders were configured. A token
// bucket spaces consecutive sends and every send is bounded by a timeout.
// There is no batching, retry or reordering; a failed send is reported
// and the caller moves on.
//
// # Dedup
//
// With a non-zero DedupWindow, a message whose kind, key and event payload
// match one delivered inside the window is suppressed. When PersistDedup is
// set and a store is available the window survives restarts.
//
// # History
//
// For debugging and operator visibility, the service keeps a small in-memory
// history of recently delivered messages.
package notifier
