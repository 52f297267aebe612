package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signupbot/internal/eventbus"
	"signupbot/internal/storage"
	"signupbot/internal/transport"
	logx "signupbot/pkg/logx"
)

type fakeSender struct {
	name string
	err  error

	mu   sync.Mutex
	got  []transport.Message
	wait time.Duration
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Deliver(ctx context.Context, msg transport.Message) error {
	if f.wait > 0 {
		select {
		case <-time.After(f.wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.got = append(f.got, msg)
	f.mu.Unlock()
	return f.err
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.got))
	for _, m := range f.got {
		out = append(out, m.Text)
	}
	return out
}

func fastConfig() Config {
	return Config{RatePerSec: 1000, SendTimeout: time.Second}
}

func TestDeliverInOrderToEverySender(t *testing.T) {
	a := &fakeSender{name: "a"}
	b := &fakeSender{name: "b"}
	svc := New(fastConfig(), []transport.Sender{a, b}, logx.Nop(), nil, nil)

	for _, text := range []string{"one", "two", "three"} {
		rep := svc.Deliver(context.Background(), transport.Message{Kind: "added", Text: text})
		if !rep.OK() || rep.Delivered() != 2 {
			t.Fatalf("report = %+v", rep)
		}
	}
	for _, s := range []*fakeSender{a, b} {
		got := s.texts()
		if len(got) != 3 || got[0] != "one" || got[2] != "three" {
			t.Fatalf("%s got %v", s.name, got)
		}
	}
	if h := svc.History(); len(h) != 6 {
		t.Fatalf("history = %d", len(h))
	}
}

func TestDeliverClassifiesOutcomes(t *testing.T) {
	ok := &fakeSender{name: "ok"}
	rej := &fakeSender{name: "rej", err: &transport.RejectedError{Sender: "rej", Status: 403, Reason: "Missing Access"}}
	bad := &fakeSender{name: "bad", err: errors.New("connection reset")}

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	svc := New(fastConfig(), []transport.Sender{ok, rej, bad}, logx.Nop(), bus, nil)
	rep := svc.Deliver(context.Background(), transport.Message{Kind: "modified", Key: "Alice", Text: "x"})

	if rep.OK() || rep.Delivered() != 1 || rep.Rejected() != 1 || rep.Failed() != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Results[1].Status != 403 {
		t.Fatalf("status = %d", rep.Results[1].Status)
	}

	var sent, failed int
	for i := 0; i < 3; i++ {
		select {
		case e := <-events:
			switch e.Type {
			case "notifier.sent":
				sent++
			case "notifier.failed":
				failed++
			}
		case <-time.After(time.Second):
			t.Fatalf("missing bus event")
		}
	}
	if sent != 1 || failed != 2 {
		t.Fatalf("sent=%d failed=%d", sent, failed)
	}

	h := svc.History()
	if len(h) != 3 {
		t.Fatalf("history = %+v", h)
	}
	want := []transport.Outcome{transport.OutcomeDelivered, transport.OutcomeRejected, transport.OutcomeTransportError}
	for i, it := range h {
		if it.Outcome != want[i] || it.Key != "Alice" {
			t.Fatalf("history[%d] = %+v, want outcome %s", i, it, want[i])
		}
	}
	if h[0].Error != "" || h[2].Error != "connection reset" {
		t.Fatalf("history errors = %q, %q", h[0].Error, h[2].Error)
	}
}

func TestDeliverTimeout(t *testing.T) {
	slow := &fakeSender{name: "slow", wait: time.Second}
	svc := New(Config{RatePerSec: 1000, SendTimeout: 20 * time.Millisecond}, []transport.Sender{slow}, logx.Nop(), nil, nil)

	rep := svc.Deliver(context.Background(), transport.Message{Text: "x"})
	if rep.Failed() != 1 || !errors.Is(rep.Results[0].Err, context.DeadlineExceeded) {
		t.Fatalf("report = %+v", rep)
	}
}

func TestDedupWindow(t *testing.T) {
	s := &fakeSender{name: "s"}
	cfg := fastConfig()
	cfg.DedupWindow = time.Minute
	svc := New(cfg, []transport.Sender{s}, logx.Nop(), nil, nil)

	ev := map[string]string{"kind": "modified", "key": "Alice"}
	first := svc.Deliver(context.Background(), transport.Message{Kind: "modified", Key: "Alice", Text: "at 10:00", Event: ev})
	second := svc.Deliver(context.Background(), transport.Message{Kind: "modified", Key: "Alice", Text: "at 10:01", Event: ev})
	other := svc.Deliver(context.Background(), transport.Message{Kind: "modified", Key: "Bob", Text: "at 10:01", Event: ev})

	if first.Deduped || !second.Deduped || other.Deduped {
		t.Fatalf("deduped = %v %v %v", first.Deduped, second.Deduped, other.Deduped)
	}
	if len(s.texts()) != 2 {
		t.Fatalf("sent %v", s.texts())
	}
}

func TestDedupReleasedWhenNothingDelivered(t *testing.T) {
	s := &fakeSender{name: "s", err: errors.New("down")}
	cfg := fastConfig()
	cfg.DedupWindow = time.Minute
	svc := New(cfg, []transport.Sender{s}, logx.Nop(), nil, nil)

	msg := transport.Message{Kind: "added", Key: "Bob", Text: "x"}
	svc.Deliver(context.Background(), msg)
	if rep := svc.Deliver(context.Background(), msg); rep.Deduped {
		t.Fatalf("failed delivery should not start a dedup window")
	}
}

func TestDeliveriesAreJournaled(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir() + "/state.json"}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	cfg := fastConfig()
	cfg.DedupWindow = time.Minute
	cfg.PersistDedup = true
	svc := New(cfg, []transport.Sender{&fakeSender{name: "s"}}, logx.Nop(), nil, st)
	msg := transport.Message{Kind: "added", Key: "Bob", Text: "x", CycleID: "c1"}
	svc.Deliver(context.Background(), msg)

	// A fresh service sharing the store still suppresses the repeat.
	svc2 := New(cfg, []transport.Sender{&fakeSender{name: "s"}}, logx.Nop(), nil, st)
	if rep := svc2.Deliver(context.Background(), msg); !rep.Deduped {
		t.Fatalf("persisted dedup not honored")
	}
}

func TestNoSenders(t *testing.T) {
	svc := New(fastConfig(), nil, logx.Nop(), nil, nil)
	rep := svc.Deliver(context.Background(), transport.Message{Text: "x"})
	if !rep.OK() || len(rep.Results) != 0 {
		t.Fatalf("report = %+v", rep)
	}
}
