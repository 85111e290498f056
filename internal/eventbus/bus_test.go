package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: TaskCreated, Data: map[string]any{"task": int64(1)}})

	select {
	case e := <-ch:
		if e.Type != TaskCreated {
			t.Fatalf("type = %q", e.Type)
		}
		if e.Time.IsZero() {
			t.Fatal("publish did not stamp the time")
		}
	case <-time.After(time.Second):
		t.Fatal("event never arrived")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	// Nobody is draining; the buffer fills and further publishes drop.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: NotifySent})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	// The channel is closed and publishes to it are swallowed.
	b.Publish(Event{Type: "after.unsub"})
	if _, ok := <-ch; ok {
		t.Fatal("received on an unsubscribed channel")
	}
}

func TestFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: "broadcast"})
	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != "broadcast" {
				t.Fatalf("type = %q", e.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the fanout")
		}
	}
}
