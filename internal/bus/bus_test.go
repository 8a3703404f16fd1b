package bus

import (
	"testing"

	"go.uber.org/zap"
)

func TestDashboardReceivesEverything(t *testing.T) {
	b := New(zap.NewNop())
	dash := b.SubscribeDashboard()
	defer b.Unsubscribe(dash)

	b.Publish(Event{Type: TypeProcessingStarted})
	b.Publish(Event{Type: TypePacketAvailable, Filename: "555B0201.001", Dest: "01"})

	for _, want := range []string{TypeProcessingStarted, TypePacketAvailable} {
		ev := <-dash.C
		if ev.Type != want {
			t.Errorf("got event %q, want %q", ev.Type, want)
		}
		if ev.Timestamp.IsZero() {
			t.Error("event not timestamped")
		}
	}
}

func TestPerDestFiltering(t *testing.T) {
	b := New(zap.NewNop())
	s01 := b.SubscribeDest("01")
	s02 := b.SubscribeDest("02")
	defer b.Unsubscribe(s01)
	defer b.Unsubscribe(s02)

	b.Publish(Event{Type: TypePacketAvailable, Filename: "555B0201.001", Dest: "01"})
	b.Publish(Event{Type: TypeProcessingComplete, RunID: 9}) // no dest

	ev := <-s01.C
	if ev.Filename != "555B0201.001" {
		t.Errorf("dest 01 got %+v", ev)
	}
	select {
	case ev := <-s02.C:
		t.Errorf("dest 02 received %+v, want nothing", ev)
	default:
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	b := New(zap.NewNop())
	s := b.SubscribeDest("01")

	// Fill the buffer and then overflow it.
	for i := 0; i < subscriberBuffer+1; i++ {
		b.Publish(Event{Type: TypePacketAvailable, Dest: "01"})
	}

	// The channel was closed on drop; draining terminates.
	n := 0
	for range s.C {
		n++
	}
	if n != subscriberBuffer {
		t.Errorf("drained %d events, want %d", n, subscriberBuffer)
	}

	// A second publish after the drop must not panic or block.
	b.Publish(Event{Type: TypePacketAvailable, Dest: "01"})

	// Unsubscribe after drop is a no-op.
	b.Unsubscribe(s)
}
