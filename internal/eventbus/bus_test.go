package eventbus

import (
	"testing"
	"time"
)

func TestBus_FanOut(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	Publish(b, TypeReminderSent, ReminderEvent{EntryID: "e1"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case ev := <-ch:
			if ev.Type != TypeReminderSent || ev.Time.IsZero() {
				t.Fatalf("unexpected event %+v", ev)
			}
			if p, ok := ev.Data.(ReminderEvent); !ok || p.EntryID != "e1" {
				t.Fatalf("payload %+v", ev.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "x"})
	b.Publish(Event{Type: "y"})
	b.Publish(Event{Type: "z"})

	if got := b.Dropped(); got != 2 {
		t.Fatalf("dropped=%d want 2", got)
	}
	if ev := <-ch; ev.Type != "x" {
		t.Fatalf("first kept event %q", ev.Type)
	}
}

func TestBus_UnsubscribeCloses(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: "after"})
	Publish(nil, "nil-bus", nil)
}
