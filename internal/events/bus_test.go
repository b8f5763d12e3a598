package events

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBus()
	ch1, cancel1 := b.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(4)
	defer cancel2()

	b.Publish(Event{Type: GroupFormed, GroupID: "g1"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != GroupFormed || e.GroupID != "g1" {
				t.Fatalf("subscriber %d got wrong event: %+v", i, e)
			}
			if e.At.IsZero() {
				t.Fatalf("publish should stamp At")
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the event", i)
		}
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe(1) // never read
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: VoteCast})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(4)
	cancel()
	b.Publish(Event{Type: ProposalCreated})
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after cancel")
	}
}
