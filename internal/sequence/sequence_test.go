package sequence

import (
	"context"
	"reflect"
	"testing"

	"github.com/nova-hub/nova-hub/internal/catalog"
	"go.uber.org/zap"
)

func expectedOf(gaps []Gap) []int {
	var out []int
	for _, g := range gaps {
		out = append(out, g.Expected)
	}
	return out
}

func TestFindGaps(t *testing.T) {
	tests := []struct {
		name string
		seqs []int
		want []int // expected (missing) sequences
	}{
		{"empty", nil, nil},
		{"single", []int{42}, nil},
		{"contiguous", []int{1, 2, 3, 4}, nil},
		{"simple hole", []int{1, 2, 4}, []int{3}},
		{"wide hole", []int{10, 14}, []int{11, 12, 13}},
		{"duplicates ignored", []int{1, 2, 2, 4, 4}, []int{3}},
		{"unsorted input", []int{4, 1, 2}, []int{3}},
		{"wrap is not a gap", []int{999, 0}, nil},
		{"wrap with hole after boundary", []int{998, 999, 1}, []int{0}},
		{"wrap with hole before boundary", []int{997, 999, 0}, []int{998}},
		{"mid-window wrap", []int{997, 998, 999, 0, 1, 2}, nil},
		{"mid-window wrap with hole", []int{997, 999, 0, 2}, []int{998, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := expectedOf(FindGaps(tt.seqs))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FindGaps(%v) missing = %v, want %v", tt.seqs, got, tt.want)
			}
		})
	}
}

func TestFindGaps_BelowThresholdIsHole(t *testing.T) {
	// 100 then 500 alone: a real hole of 399, just under the wrap threshold.
	gaps := FindGaps([]int{100, 500})
	if len(gaps) != 399 {
		t.Fatalf("got %d gaps, want 399", len(gaps))
	}
	if gaps[0].Expected != 101 || gaps[0].Size != 399 || gaps[0].Received != 500 {
		t.Errorf("first gap = %+v", gaps[0])
	}
	if gaps[len(gaps)-1].Expected != 499 {
		t.Errorf("last missing = %d, want 499", gaps[len(gaps)-1].Expected)
	}
}

func TestFindGaps_ThresholdCrossedRotatesView(t *testing.T) {
	// 100 to 601 is a 501-step jump, wider than the boundary gap of 499, so
	// the view rotates: the jump becomes the wrap and the 498 sequences from
	// 602 around to 99 are the hole.
	gaps := FindGaps([]int{100, 601})
	if len(gaps) != 498 {
		t.Fatalf("got %d gaps, want 498", len(gaps))
	}
	if gaps[0].Expected != 602 || gaps[0].Received != 100 || gaps[0].Size != 498 {
		t.Errorf("first gap = %+v", gaps[0])
	}
	if gaps[len(gaps)-1].Expected != 99 {
		t.Errorf("last missing = %d, want 99", gaps[len(gaps)-1].Expected)
	}
}

func TestFindGaps_WrapLeavesShortSideHole(t *testing.T) {
	// With only 1 and 700 seen, the 699-wide span is the wrap; the 300
	// sequences from 701 around to 0 are the hole.
	gaps := FindGaps([]int{1, 700})
	if len(gaps) != 300 {
		t.Fatalf("got %d gaps, want 300", len(gaps))
	}
	if gaps[0].Expected != 701 || gaps[0].Size != 300 {
		t.Errorf("first gap = %+v", gaps[0])
	}
	if gaps[len(gaps)-1].Expected != 0 {
		t.Errorf("last missing = %d, want 0", gaps[len(gaps)-1].Expected)
	}
}

type fakeStore struct {
	routes     []catalog.Route
	seqs       map[catalog.Route][]int
	packets    map[int]bool // sequence -> present, for the single test route
	open       map[int]bool // expected sequence -> open alert
	created    []*catalog.Alert
	resolved   []int64
	unresolved []*catalog.Alert
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		seqs:    make(map[catalog.Route][]int),
		packets: make(map[int]bool),
		open:    make(map[int]bool),
	}
}

func (f *fakeStore) Routes(context.Context) ([]catalog.Route, error) { return f.routes, nil }

func (f *fakeStore) SequencesForRoute(_ context.Context, r catalog.Route) ([]int, error) {
	return f.seqs[r], nil
}

func (f *fakeStore) UnresolvedAlertExists(_ context.Context, _ catalog.Route, expected int) (bool, error) {
	return f.open[expected], nil
}

func (f *fakeStore) CreateAlert(_ context.Context, a *catalog.Alert) (*catalog.Alert, error) {
	a.ID = int64(len(f.created) + 1)
	f.created = append(f.created, a)
	f.open[a.ExpectedSequence] = true
	return a, nil
}

func (f *fakeStore) UnresolvedAlerts(context.Context) ([]*catalog.Alert, error) {
	return f.unresolved, nil
}

func (f *fakeStore) HasPacket(_ context.Context, _ catalog.Route, seq int) (bool, error) {
	return f.packets[seq], nil
}

func (f *fakeStore) ResolveAlert(_ context.Context, id int64, note string) error {
	if note != "received" {
		return nil
	}
	f.resolved = append(f.resolved, id)
	return nil
}

func TestValidatorCheckAll(t *testing.T) {
	store := newFakeStore()
	route := catalog.Route{LeagueID: 1, SourceBBSIndex: "02", DestBBSIndex: "01"}
	store.routes = []catalog.Route{route}
	store.seqs[route] = []int{1, 2, 4}

	v := NewValidator(store, zap.NewNop())

	created, err := v.CheckAll(context.Background())
	if err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}
	a := store.created[0]
	if a.ExpectedSequence != 3 || a.ReceivedSequence != 4 || a.GapSize != 1 {
		t.Errorf("alert = %+v", a)
	}

	// Second sweep over unchanged inputs opens nothing new.
	created, err = v.CheckAll(context.Background())
	if err != nil {
		t.Fatalf("CheckAll again: %v", err)
	}
	if created != 0 {
		t.Errorf("second sweep created %d alerts, want 0", created)
	}
}

func TestValidatorAutoResolve(t *testing.T) {
	store := newFakeStore()
	store.unresolved = []*catalog.Alert{
		{ID: 7, LeagueID: 1, SourceBBSIndex: "02", DestBBSIndex: "01", ExpectedSequence: 3},
		{ID: 8, LeagueID: 1, SourceBBSIndex: "02", DestBBSIndex: "01", ExpectedSequence: 5},
	}
	store.packets[3] = true // sequence 3 has arrived, 5 has not

	v := NewValidator(store, zap.NewNop())
	resolved, err := v.AutoResolve(context.Background())
	if err != nil {
		t.Fatalf("AutoResolve: %v", err)
	}
	if resolved != 1 {
		t.Fatalf("resolved = %d, want 1", resolved)
	}
	if len(store.resolved) != 1 || store.resolved[0] != 7 {
		t.Errorf("resolved IDs = %v, want [7]", store.resolved)
	}
}
