package poller

import (
	"context"
	"time"

	"signupbot/internal/notifier"
	"signupbot/internal/signup"
	"signupbot/internal/transport"
)

// Status classifies one cycle.
type Status string

const (
	StatusOK              Status = "ok"
	StatusBaseline        Status = "baseline"
	StatusFetchFailed     Status = "fetch_failed"
	StatusSuspiciousEmpty Status = "suspicious_empty"
	StatusDiffFailed      Status = "diff_failed"
	StatusDeliveryFailed  Status = "delivery_failed"
)

// Outcome summarizes one cycle for logs, the event bus and tests.
type Outcome struct {
	ID     string
	Status Status
	Source string

	Rows       int
	Events     int
	Delivered  int
	Rejected   int
	Failed     int
	Deduped    int
	Unkeyed    int
	YesCount   int
	Collisions []signup.Collision

	Err error
	// Permanent marks a fetch error that retrying will not fix (bad id,
	// missing permission).
	Permanent bool
	At        time.Time
	Took      time.Duration
}

// Deliverer is satisfied by *notifier.Service.
type Deliverer interface {
	Deliver(ctx context.Context, msg transport.Message) notifier.Report
}

type Config struct {
	IdentityColumn string
	Rules          signup.Rules
	Formatter      signup.Formatter

	// EmptyIsFailure treats an empty fetch after a non-empty snapshot as
	// suspicious: no notifications, previous snapshot kept.
	EmptyIsFailure bool
	FetchTimeout   time.Duration

	Schedule Schedule
	Location *time.Location
}

// CycleEvent is published on the bus as "cycle.<status>".
type CycleEvent struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	Events    int           `json:"events"`
	Delivered int           `json:"delivered"`
	Rejected  int           `json:"rejected"`
	Failed    int           `json:"failed"`
	YesCount  int           `json:"yes_count"`
	Error     string        `json:"error,omitempty"`
	Permanent bool          `json:"permanent,omitempty"`
	Took      time.Duration `json:"took"`
}
