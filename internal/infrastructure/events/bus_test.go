package events

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	const subscribers = 50

	channels := make([]<-chan Event, subscribers)
	for i := 0; i < subscribers; i++ {
		ch, _ := bus.Subscribe()
		channels[i] = ch
	}

	bus.Publish(Event{Kind: KindConnect, SessionID: "s1", OwnerID: "u1"})

	for i, ch := range channels {
		select {
		case event := <-ch:
			if event.Kind != KindConnect || event.SessionID != "s1" {
				t.Errorf("subscriber %d got wrong event: %+v", i, event)
			}
			if event.At.IsZero() {
				t.Errorf("subscriber %d got event without timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive event", i)
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	ch, unsubscribe := bus.Subscribe()
	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.SubscriberCount())
	}

	unsubscribe()
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", bus.SubscriberCount())
	}

	// The channel must be closed so range loops terminate.
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after unsubscribe")
	}

	// Double unsubscribe must not panic.
	unsubscribe()
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	// Subscriber that never reads.
	bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(Event{Kind: KindInvoke, SessionID: "s1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestBus_ConcurrentPublishSubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, unsubscribe := bus.Subscribe()
			defer unsubscribe()
			for j := 0; j < 20; j++ {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
		}()
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(Event{Kind: KindError, SessionID: "s1"})
			}
		}()
	}

	wg.Wait()
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	ch, _ := bus.Subscribe()
	bus.Close()

	// Must not panic.
	bus.Publish(Event{Kind: KindDisconnect, SessionID: "s1"})

	if _, ok := <-ch; ok {
		t.Error("expected closed subscriber channel after bus close")
	}

	// Subscribing after close yields a closed channel.
	late, _ := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Error("expected closed channel for late subscriber")
	}
}
