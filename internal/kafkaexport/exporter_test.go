package kafkaexport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nova-hub/nova-hub/internal/bus"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

type fakeProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	closed  bool
}

func (f *fakeProducer) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	f.mu.Lock()
	f.records = append(f.records, r)
	f.mu.Unlock()
	if promise != nil {
		promise(r, nil)
	}
}

func (f *fakeProducer) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeProducer) produced() []*kgo.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*kgo.Record(nil), f.records...)
}

func TestExporterProducesEvents(t *testing.T) {
	b := bus.New(zap.NewNop())
	producer := &fakeProducer{}
	e := &Exporter{client: producer, topic: "nova-hub.events", events: b, logger: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	b.Publish(bus.Event{Type: bus.TypePacketAvailable, Filename: "555B0102.003", Dest: "02"})

	var got []*kgo.Record
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got = producer.produced(); len(got) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(got) != 1 {
		t.Fatalf("produced %d records, want 1", len(got))
	}

	r := got[0]
	if r.Topic != "nova-hub.events" {
		t.Errorf("topic = %q", r.Topic)
	}
	if string(r.Key) != bus.TypePacketAvailable {
		t.Errorf("key = %q", r.Key)
	}
	var ev bus.Event
	if err := json.Unmarshal(r.Value, &ev); err != nil {
		t.Fatalf("unmarshaling record value: %v", err)
	}
	if ev.Filename != "555B0102.003" || ev.Dest != "02" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}
}

func TestExporterStopsOnCancel(t *testing.T) {
	b := bus.New(zap.NewNop())
	producer := &fakeProducer{}
	e := &Exporter{client: producer, topic: "t", events: b, logger: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	b.Publish(bus.Event{Type: bus.TypeStatsUpdate})
	time.Sleep(20 * time.Millisecond)
	if got := producer.produced(); len(got) != 0 {
		t.Errorf("produced %d records after cancel", len(got))
	}
}
