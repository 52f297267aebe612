package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message is one rendered notification handed to a Sender.
//
// Chat senders only look at Text. Structured sinks (NATS) serialize the whole
// message, including Event, so downstream consumers don't need to parse text.
type Message struct {
	Kind    string    `json:"kind"`
	Key     string    `json:"key,omitempty"`
	CycleID string    `json:"cycle_id,omitempty"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
	Event   any       `json:"event,omitempty"`
}

// Sender delivers a single message to one endpoint.
//
// Contract:
//   - nil error means delivered.
//   - *RejectedError means the endpoint answered and refused the message.
//   - any other error is a transport error (network, timeout, encoding).
type Sender interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

type Outcome string

const (
	OutcomeDelivered      Outcome = "delivered"
	OutcomeRejected       Outcome = "rejected"
	OutcomeTransportError Outcome = "transport_error"
)

// RejectedError is returned when the remote side answered with a refusal
// (bad token, missing permission, unknown channel, ...).
type RejectedError struct {
	Sender string
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: rejected (status=%d)", e.Sender, e.Status)
	}
	return fmt.Sprintf("%s: rejected (status=%d): %s", e.Sender, e.Status, e.Reason)
}

// Classify maps a Deliver error to its outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeDelivered
	}
	var rej *RejectedError
	if errors.As(err, &rej) {
		return OutcomeRejected
	}
	return OutcomeTransportError
}
