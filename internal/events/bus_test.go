package events

import (
	"testing"
	"time"
)

func TestBus_PublishToTypedSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	trades := bus.Subscribe(EventTradeExecuted)
	alerts := bus.Subscribe(EventDrawdownAlert)

	bus.Publish(Event{Type: EventTradeExecuted, TraderID: "trader-1"})

	select {
	case ev := <-trades:
		if ev.TraderID != "trader-1" {
			t.Errorf("expected trader-1, got %s", ev.TraderID)
		}
		if ev.Timestamp.IsZero() {
			t.Error("expected timestamp to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case ev := <-alerts:
		t.Fatalf("alert subscriber should not receive %s", ev.Type)
	default:
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.Subscribe()

	bus.Publish(Event{Type: EventTradeExecuted})
	bus.Publish(Event{Type: EventTraderPaused})

	for _, want := range []EventType{EventTradeExecuted, EventTraderPaused} {
		select {
		case ev := <-all:
			if ev.Type != want {
				t.Errorf("expected %s, got %s", want, ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := NewBus(WithBufferSize(1))
	defer bus.Close()

	bus.Subscribe(EventTradeExecuted) // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Type: EventTradeExecuted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber")
	}
}

func TestBus_CloseClosesChannels(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe(EventTradeExecuted)
	bus.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	// Publish after close is a no-op.
	bus.Publish(Event{Type: EventTradeExecuted})

	// Subscribe after close returns a closed channel.
	ch2 := bus.Subscribe()
	if _, ok := <-ch2; ok {
		t.Fatal("expected closed channel from post-close subscribe")
	}
}
