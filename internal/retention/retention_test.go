package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeStore struct {
	mu           sync.Mutex
	packetCutoff time.Time
	runCutoff    time.Time
	packetCalls  int
	runCalls     int
	packetErr    error
}

func (f *fakeStore) PurgeDownloadedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packetCalls++
	f.packetCutoff = cutoff
	if f.packetErr != nil {
		return 0, f.packetErr
	}
	return 3, nil
}

func (f *fakeStore) PurgeRunsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runCalls++
	f.runCutoff = cutoff
	return 1, nil
}

func (f *fakeStore) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.packetCalls, f.runCalls
}

func TestSweepUsesRetentionCutoff(t *testing.T) {
	store := &fakeStore{}
	j := New(store, 30, zap.NewNop())

	before := time.Now().UTC().AddDate(0, 0, -30)
	j.Sweep(context.Background())
	after := time.Now().UTC().AddDate(0, 0, -30)

	if store.packetCalls != 1 || store.runCalls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", store.packetCalls, store.runCalls)
	}
	if store.packetCutoff.Before(before) || store.packetCutoff.After(after) {
		t.Errorf("packet cutoff %v outside [%v, %v]", store.packetCutoff, before, after)
	}
	if !store.packetCutoff.Equal(store.runCutoff) {
		t.Errorf("cutoffs differ: %v vs %v", store.packetCutoff, store.runCutoff)
	}
}

func TestSweepContinuesPastPacketError(t *testing.T) {
	store := &fakeStore{packetErr: errors.New("boom")}
	j := New(store, 7, zap.NewNop())

	j.Sweep(context.Background())

	if store.runCalls != 1 {
		t.Errorf("run purge skipped after packet purge failure")
	}
}

func TestStartDisabledWithoutRetention(t *testing.T) {
	store := &fakeStore{}
	j := New(store, 0, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)

	time.Sleep(20 * time.Millisecond)
	if p, _ := store.calls(); p != 0 {
		t.Errorf("sweep ran with retention disabled")
	}
}

func TestStartSweepsImmediately(t *testing.T) {
	store := &fakeStore{}
	j := New(store, 7, zap.NewNop())
	j.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p, _ := store.calls(); p > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("initial sweep did not run")
}
