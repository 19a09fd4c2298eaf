package dialogue

import (
	"testing"
	"time"
)

func TestBusOrdering(t *testing.T) {
	t.Parallel()

	bus := NewBus(8)
	for i := 1; i <= 3; i++ {
		bus.Publish(TurnEvent{Type: "turn", TurnNumber: i})
	}
	for i := 1; i <= 3; i++ {
		ev, ok := bus.Next(time.Second)
		if !ok {
			t.Fatalf("event %d: timed out", i)
		}
		turn, ok := ev.(TurnEvent)
		if !ok || turn.TurnNumber != i {
			t.Fatalf("event %d: got %#v", i, ev)
		}
	}
}

func TestBusNextTimeout(t *testing.T) {
	t.Parallel()

	bus := NewBus(1)
	start := time.Now()
	if _, ok := bus.Next(20 * time.Millisecond); ok {
		t.Fatal("empty bus returned an event")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("Next returned before the timeout")
	}
}

func TestBusPublishBlocksWhenFull(t *testing.T) {
	t.Parallel()

	bus := NewBus(1)
	bus.Publish(StateEvent{Type: "state", State: StateRunning})

	published := make(chan struct{})
	go func() {
		bus.Publish(StateEvent{Type: "state", State: StatePaused})
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("Publish returned while the bus was full")
	case <-time.After(30 * time.Millisecond):
	}

	if _, ok := bus.Next(time.Second); !ok {
		t.Fatal("drain failed")
	}
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("Publish did not unblock after a drain")
	}
}

func TestBusCloseDrains(t *testing.T) {
	t.Parallel()

	bus := NewBus(4)
	bus.Publish(TurnEvent{Type: "turn", TurnNumber: 1})
	bus.Publish(TurnEvent{Type: "turn", TurnNumber: 2})
	bus.Close()

	// Queued events stay readable after close.
	for i := 1; i <= 2; i++ {
		ev, ok := bus.Next(time.Second)
		if !ok {
			t.Fatalf("event %d lost on close", i)
		}
		if turn := ev.(TurnEvent); turn.TurnNumber != i {
			t.Fatalf("event %d: got %#v", i, ev)
		}
	}

	// Publishing after close is a silent no-op.
	bus.Publish(TurnEvent{Type: "turn", TurnNumber: 3})
	if ev, ok := bus.Next(10 * time.Millisecond); ok {
		t.Fatalf("post-close publish delivered %#v", ev)
	}
}

func TestBusCloseIdempotent(t *testing.T) {
	t.Parallel()

	bus := NewBus(1)
	bus.Close()
	bus.Close()
}

func TestBusCloseWakesBlockedNext(t *testing.T) {
	t.Parallel()

	bus := NewBus(1)
	done := make(chan bool)
	go func() {
		_, ok := bus.Next(5 * time.Second)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	bus.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("closed empty bus returned an event")
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on close")
	}
}
