// Package poller drives the fetch, diff, format and deliver cycle.
//
// A Poller owns exactly one previous snapshot. The first successful fetch
// becomes the baseline and produces no notifications, unless a snapshot was
// restored from storage. After every diffed cycle the current snapshot
// replaces the previous one, whatever happened during delivery, so a
// rejected message is never re-sent as a duplicate on the next cycle.
//
// Cycles never overlap: Run schedules them with robfig/cron using
// SkipIfStillRunning, and Cycle itself is serialized.
package poller
