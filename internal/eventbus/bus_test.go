package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeNotifierSent, Data: 1})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TypeNotifierSent || e.Time.IsZero() {
				t.Fatalf("event: %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("no event")
		}
	}
}

func TestPublishSlowSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	if e := <-ch; e.Type != "a" {
		t.Fatalf("got %q", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("expected drop, got %q", e.Type)
	default:
	}
}

func TestUnsubscribeThenPublish(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	b.Publish(Event{Type: "x"})
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
}

func TestIsCycle(t *testing.T) {
	if !IsCycle(CyclePrefix + "ok") {
		t.Fatal("cycle.ok")
	}
	if IsCycle(TypeNotifierSent) {
		t.Fatal("notifier.sent")
	}
}
