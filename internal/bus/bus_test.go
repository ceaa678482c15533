package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessageCreated, Timestamp: time.Now(), Payload: MessageEvent{MessageID: "m1"}})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageCreated {
			t.Errorf("got kind %q, want %s", evt.Kind, KindMessageCreated)
		}
		if p, ok := evt.Payload.(MessageEvent); !ok || p.MessageID != "m1" {
			t.Errorf("payload = %#v, want MessageEvent{MessageID: m1}", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conversation.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessageCreated})
	b.Publish(Event{Kind: KindConversationDeleted})

	select {
	case evt := <-ch:
		if evt.Kind != KindConversationDeleted {
			t.Errorf("got kind %q, want %s", evt.Kind, KindConversationDeleted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	unsub()

	b.Publish(Event{Kind: KindMessageCreated})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	// Buffer is full; this one is dropped rather than blocking the publisher.
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestPublishOnNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Kind: KindMessageCreated})
}

// TestSubscribeAnyKeepsOrder verifies that one subscription over two
// namespaces sees events in publish order.
func TestSubscribeAnyKeepsOrder(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribeAny(10, "message.", "conversation.")
	defer unsub()

	b.Publish(Event{Kind: KindMessageCreated})
	b.Publish(Event{Kind: KindConnectionState})
	b.Publish(Event{Kind: KindConversationDeleted})
	b.Publish(Event{Kind: KindMessageDeleted})

	want := []string{KindMessageCreated, KindConversationDeleted, KindMessageDeleted}
	for _, kind := range want {
		select {
		case evt := <-ch:
			if evt.Kind != kind {
				t.Errorf("got kind %q, want %q", evt.Kind, kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %q", evt.Kind)
	default:
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("message.", 1)
	_, keep := b.Subscribe("message.", 1)
	defer keep()

	unsub()
	unsub()
	if got := b.Subscribers(); got != 1 {
		t.Errorf("Subscribers() = %d, want 1", got)
	}
}
