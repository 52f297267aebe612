package notifier

import (
	"time"

	"signupbot/internal/transport"
)

// Config controls delivery pacing and dedup.
type Config struct {
	RatePerSec      int
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
	HistorySize     int
}

// HistoryItem is one send attempt kept in the in-memory ring.
type HistoryItem struct {
	At      time.Time
	Kind    string
	Key     string
	Sender  string
	Text    string
	Outcome transport.Outcome
	Error   string
}

// Result is the outcome of one send to one sender.
type Result struct {
	Sender  string
	Outcome transport.Outcome
	Status  int
	Err     error
	Took    time.Duration
}

// Report collects the per-sender results for one message.
type Report struct {
	Deduped bool
	Results []Result
}

func (r Report) count(o transport.Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

func (r Report) Delivered() int { return r.count(transport.OutcomeDelivered) }
func (r Report) Rejected() int  { return r.count(transport.OutcomeRejected) }
func (r Report) Failed() int    { return r.count(transport.OutcomeTransportError) }

// OK reports whether every sender accepted the message (or it was deduped).
func (r Report) OK() bool { return r.Rejected() == 0 && r.Failed() == 0 }

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	Sender  string    `json:"sender,omitempty"`
	Kind    string    `json:"kind"`
	Key     string    `json:"key,omitempty"`
	CycleID string    `json:"cycle_id,omitempty"`
	At      time.Time `json:"at"`
	Outcome string    `json:"outcome,omitempty"`
	Error   string    `json:"error,omitempty"`
}
