package relay

import "testing"

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	id1, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	b.Publish(Event{Feed: FeedContext, Payload: `{"tab_id":"t1","version":1}`})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Feed != FeedContext {
				t.Fatalf("feed = %q, want %q", evt.Feed, FeedContext)
			}
		default:
			t.Fatal("subscriber did not receive event")
		}
	}

	b.Unsubscribe(id1)
	if _, open := <-ch1; open {
		t.Fatal("unsubscribed channel should be closed")
	}
	if b.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", b.ClientCount())
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroker()
	_, ch := b.Subscribe()

	for i := 0; i < subscriberBufSize+10; i++ {
		b.Publish(Event{Feed: FeedActivity, Payload: "x"})
	}
	if len(ch) != subscriberBufSize {
		t.Fatalf("buffered = %d, want %d", len(ch), subscriberBufSize)
	}
}
