package display

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// TestBasicPublishSubscribe verifies basic functionality.
func TestBasicPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := make(chan Frame, 10)
	if err := bus.Subscribe("test", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.SetFrame([]byte{1, 2, 3, 4}, 1, 1, "fwd", 2.5)

	select {
	case received := <-ch:
		if received.Seq != 1 {
			t.Errorf("Expected seq 1, got %d", received.Seq)
		}
		if received.Source != "fwd" || received.Playhead != 2.5 {
			t.Errorf("Unexpected frame metadata: %+v", received)
		}
		if received.TraceID == "" {
			t.Error("Expected trace id to be stamped")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for frame")
	}
}

// TestSetFrameCopiesPixels verifies the caller may reuse its buffer.
func TestSetFrameCopiesPixels(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	rx, err := bus.SubscribeDropOld("renderer")
	if err != nil {
		t.Fatalf("SubscribeDropOld failed: %v", err)
	}

	buf := []byte{9, 9, 9, 9}
	bus.SetFrame(buf, 1, 1, "rev", 1)
	buf[0] = 0

	f, ok := rx.TryReceive()
	if !ok {
		t.Fatal("Expected a frame")
	}
	if f.RGBA[0] != 9 {
		t.Errorf("Published frame aliases caller buffer")
	}
}

// TestNonBlockingPublish verifies Publish never blocks on slow observers.
func TestNonBlockingPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := make(chan Frame, 1)
	if err := bus.Subscribe("slow", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	done := make(chan bool)
	go func() {
		bus.Publish(Frame{})
		bus.Publish(Frame{})
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked (should be non-blocking)")
	}

	stats, err := bus.Stats("slow")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Sent != 1 || stats.Dropped != 1 {
		t.Errorf("Expected 1 sent / 1 dropped, got %d / %d", stats.Sent, stats.Dropped)
	}
}

// TestDropOldKeepsLatest verifies the renderer always sees the newest frame.
func TestDropOldKeepsLatest(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	rx, _ := bus.SubscribeDropOld("renderer")
	for i := 0; i < 5; i++ {
		bus.Publish(Frame{Playhead: float64(i)})
	}
	bus.ClearFrame()

	f := rx.Receive()
	if !f.Cleared {
		t.Errorf("Expected cleared frame, got %+v", f)
	}
	if f.Seq != 6 {
		t.Errorf("Expected seq 6, got %d", f.Seq)
	}
	if bus.TotalPublished() != 6 {
		t.Errorf("Expected 6 published, got %d", bus.TotalPublished())
	}
}

// TestReceiveUnblocksOnClose verifies Close wakes blocked renderers.
func TestReceiveUnblocksOnClose(t *testing.T) {
	bus := NewBus()
	rx, _ := bus.SubscribeDropOld("renderer")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = rx.Receive()
	}()

	time.Sleep(10 * time.Millisecond)
	bus.Close()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Receive did not unblock on Close")
	}
}

func TestSubscribeErrors(t *testing.T) {
	bus := NewBus()

	tests := []struct {
		name string
		fn   func() error
		want error
	}{
		{"nil channel", func() error { return bus.Subscribe("a", nil) }, ErrNilChannel},
		{"duplicate", func() error {
			_ = bus.Subscribe("dup", make(chan Frame, 1))
			return bus.Subscribe("dup", make(chan Frame, 1))
		}, ErrSubscriberExists},
		{"unknown unsubscribe", func() error { return bus.Unsubscribe("ghost") }, ErrSubscriberNotFound},
		{"closed", func() error {
			bus.Close()
			_, err := bus.SubscribeDropOld("late")
			return err
		}, ErrBusClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}
