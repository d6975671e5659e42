package eventbus

import "testing"

func TestFanoutDelivery(t *testing.T) {
	b := New[int]()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub2()

	b.Publish(7)

	if got := <-ch1; got != 7 {
		t.Fatalf("sub1 got %d, want 7", got)
	}
	if got := <-ch2; got != 7 {
		t.Fatalf("sub2 got %d, want 7", got)
	}

	unsub1()
	// Publishing after unsubscribe must not panic or block.
	b.Publish(8)
	if got := <-ch2; got != 8 {
		t.Fatalf("sub2 got %d, want 8", got)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New[int]()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(1)
	b.Publish(2) // buffer full; dropped

	if got := <-ch; got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event %d", extra)
	default:
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := New[string]()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub() // second call is a no-op
	b.Publish("x")
}
