package processing

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/nova-hub/nova-hub/internal/bus"
	"github.com/nova-hub/nova-hub/internal/catalog"
	"github.com/nova-hub/nova-hub/internal/config"
	"github.com/nova-hub/nova-hub/internal/dosemu"
	"github.com/nova-hub/nova-hub/internal/hubfs"
	"go.uber.org/zap"
)

type fakeStore struct {
	unprocessed []*catalog.Packet
	leagues     map[int64]*catalog.League
	members     map[int64][]*catalog.Membership

	marked    []int64
	outbound  []*catalog.Packet
	artifacts []*catalog.Artifact
	runs      []*catalog.Run
	finished  map[int64]string
}

func newStore() *fakeStore {
	return &fakeStore{
		leagues:  make(map[int64]*catalog.League),
		members:  make(map[int64][]*catalog.Membership),
		finished: make(map[int64]string),
	}
}

func (f *fakeStore) UnprocessedPackets(context.Context) ([]*catalog.Packet, error) {
	return f.unprocessed, nil
}

func (f *fakeStore) LeagueByID(_ context.Context, id int64) (*catalog.League, error) {
	return f.leagues[id], nil
}

func (f *fakeStore) GetOrCreateLeague(_ context.Context, number string, game byte) (*catalog.League, error) {
	for _, l := range f.leagues {
		if l.LeagueNumber == number && l.GameType == game {
			return l, nil
		}
	}
	l := &catalog.League{ID: int64(len(f.leagues) + 1), LeagueNumber: number, GameType: game}
	f.leagues[l.ID] = l
	return l, nil
}

func (f *fakeStore) ActiveMemberships(_ context.Context, leagueID int64) ([]*catalog.Membership, error) {
	return f.members[leagueID], nil
}

func (f *fakeStore) CreateRun(context.Context) (*catalog.Run, error) {
	r := &catalog.Run{ID: int64(len(f.runs) + 1), Status: catalog.RunStatusRunning}
	f.runs = append(f.runs, r)
	return r, nil
}

func (f *fakeStore) FinishRun(_ context.Context, runID int64, status string, _, _ int, _ *int, _ []byte, _ string) error {
	f.finished[runID] = status
	return nil
}

func (f *fakeStore) MarkProcessed(_ context.Context, packetID, _ int64) error {
	f.marked = append(f.marked, packetID)
	return nil
}

func (f *fakeStore) UpsertOutbound(_ context.Context, p *catalog.Packet) (*catalog.Packet, error) {
	f.outbound = append(f.outbound, p)
	return p, nil
}

func (f *fakeStore) AddArtifact(_ context.Context, a *catalog.Artifact) error {
	f.artifacts = append(f.artifacts, a)
	return nil
}

type fakeRunner struct {
	status dosemu.Status
	onRun  func(key dosemu.CommandKey)
}

func (r *fakeRunner) Run(_ context.Context, _ string, _ byte, key dosemu.CommandKey) (*dosemu.Result, error) {
	if key != dosemu.CommandProcessing {
		return nil, fmt.Errorf("%s: %w", key, dosemu.ErrNoCommand)
	}
	if r.onRun != nil {
		r.onRun(key)
	}
	status := r.status
	if status == "" {
		status = dosemu.StatusSuccess
	}
	return &dosemu.Result{Status: status, Output: []byte("game output\n")}, nil
}

type nopChecker struct{}

func (nopChecker) CheckAll(context.Context) (int, error)    { return 0, nil }
func (nopChecker) AutoResolve(context.Context) (int, error) { return 0, nil }

func testConfig(dataDir string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{DataDir: dataDir},
		Hub:    config.HubConfig{BBSIndex: "01"},
		Leagues: map[string]config.LeagueConfig{
			"555": {Bre: &config.GameConfig{ProcessingCommand: "BRE /PROCESS"}},
		},
	}
}

func newProcessor(t *testing.T, store *fakeStore, runner *fakeRunner) (*Processor, hubfs.Layout) {
	t.Helper()
	layout := hubfs.NewLayout(t.TempDir())
	if err := layout.EnsureBase(); err != nil {
		t.Fatal(err)
	}
	p := New(store, runner, nopChecker{}, bus.New(zap.NewNop()), layout, testConfig(layout.DataDir), zap.NewNop())
	return p, layout
}

func writeInbound(t *testing.T, layout hubfs.Layout, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(layout.Inbound(), name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBatchHappyPath(t *testing.T) {
	store := newStore()
	store.leagues[1] = &catalog.League{ID: 1, LeagueNumber: "555", GameType: 'B'}
	store.unprocessed = []*catalog.Packet{
		{ID: 10, Filename: "555B0201.001", LeagueID: 1},
	}

	var p *Processor
	var layout hubfs.Layout
	runner := &fakeRunner{}
	p, layout = newProcessor(t, store, runner)

	// The game consumes its inbound and produces a reply packet.
	runner.onRun = func(dosemu.CommandKey) {
		out := layout.StagingOutbound("555", 'B')
		os.MkdirAll(out, 0o755)
		os.WriteFile(filepath.Join(out, "555b0102.002"), []byte("reply"), 0o644)
	}

	writeInbound(t, layout, "555B0201.001", "payload")

	if err := p.runBatch(context.Background()); err != nil {
		t.Fatalf("runBatch: %v", err)
	}

	if len(store.marked) != 1 || store.marked[0] != 10 {
		t.Errorf("marked = %v, want [10]", store.marked)
	}
	if store.finished[1] != catalog.RunStatusCompleted {
		t.Errorf("run status = %q, want completed", store.finished[1])
	}

	// Inbound archived.
	if hubfs.FindInsensitive(layout.Inbound(), "555B0201.001") != "" {
		t.Error("inbound file not archived")
	}
	if hubfs.FindInsensitive(layout.Processed(), "555B0201.001") == "" {
		t.Error("archive copy missing from processed dir")
	}

	// Outbound collected, normalized, and cataloged.
	if len(store.outbound) != 1 {
		t.Fatalf("outbound rows = %d, want 1", len(store.outbound))
	}
	row := store.outbound[0]
	if row.Filename != "555B0102.002" || row.DestBBSIndex != "02" || row.SequenceNumber != 2 {
		t.Errorf("outbound row = %+v", row)
	}
	if hubfs.FindInsensitive(layout.Outbound(), "555B0102.002") == "" {
		t.Error("outbound file missing from hub mailbox")
	}
	if row.Checksum == "" || row.Size != len("reply") {
		t.Errorf("payload metadata = size %d checksum %q", row.Size, row.Checksum)
	}
}

func TestBatchGameFailureLeavesPacketsUnprocessed(t *testing.T) {
	store := newStore()
	store.leagues[1] = &catalog.League{ID: 1, LeagueNumber: "555", GameType: 'B'}
	store.unprocessed = []*catalog.Packet{{ID: 10, Filename: "555B0201.001", LeagueID: 1}}

	p, layout := newProcessor(t, store, &fakeRunner{status: dosemu.StatusTimeout})
	writeInbound(t, layout, "555B0201.001", "payload")

	if err := p.runBatch(context.Background()); err != nil {
		t.Fatalf("runBatch: %v", err)
	}

	if len(store.marked) != 0 {
		t.Errorf("packets marked processed after failed run: %v", store.marked)
	}
	if store.finished[1] != catalog.RunStatusError {
		t.Errorf("run status = %q, want error", store.finished[1])
	}
	// The inbound original must survive for the retry.
	if hubfs.FindInsensitive(layout.Inbound(), "555B0201.001") == "" {
		t.Error("inbound file gone after failed run")
	}
}

func TestBatchNoWorkIsNoOp(t *testing.T) {
	store := newStore()
	p, _ := newProcessor(t, store, &fakeRunner{})

	if err := p.runBatch(context.Background()); err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	if len(store.runs) != 0 {
		t.Errorf("opened %d runs with no work, want 0", len(store.runs))
	}
}

func TestBatchUsesConfiguredGameFolders(t *testing.T) {
	store := newStore()
	store.leagues[1] = &catalog.League{ID: 1, LeagueNumber: "555", GameType: 'B'}
	store.unprocessed = []*catalog.Packet{
		{ID: 10, Filename: "555B0201.001", LeagueID: 1},
	}

	in := t.TempDir()
	out := t.TempDir()

	layout := hubfs.NewLayout(t.TempDir())
	if err := layout.EnsureBase(); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(layout.DataDir)
	cfg.Leagues["555"].Bre.InboundFolder = in
	cfg.Leagues["555"].Bre.OutboundFolder = out

	var staged bool
	runner := &fakeRunner{}
	runner.onRun = func(dosemu.CommandKey) {
		if _, err := os.Stat(filepath.Join(in, "555B0201.001")); err == nil {
			staged = true
		}
		os.WriteFile(filepath.Join(out, "555b0102.002"), []byte("reply"), 0o644)
	}

	p := New(store, runner, nopChecker{}, bus.New(zap.NewNop()), layout, cfg, zap.NewNop())
	writeInbound(t, layout, "555B0201.001", "payload")

	if err := p.runBatch(context.Background()); err != nil {
		t.Fatalf("runBatch: %v", err)
	}

	if !staged {
		t.Error("packet was not staged into the configured inbound folder")
	}
	if len(store.outbound) != 1 || store.outbound[0].Filename != "555B0102.002" {
		t.Fatalf("outbound rows = %+v, want the configured-folder reply", store.outbound)
	}
	if hubfs.FindInsensitive(layout.Outbound(), "555B0102.002") == "" {
		t.Error("reply missing from hub mailbox")
	}
	// The layout staging tree stays untouched when folders are configured.
	if entries, err := os.ReadDir(layout.StagingInbound("555", 'B')); err == nil && len(entries) != 0 {
		t.Errorf("layout staging inbound has %d entries, want none", len(entries))
	}
}

func TestNodelistFanOut(t *testing.T) {
	store := newStore()
	store.leagues[1] = &catalog.League{ID: 1, LeagueNumber: "013", GameType: 'B'}
	store.members[1] = []*catalog.Membership{
		{ID: 1, ClientID: 100, LeagueID: 1, BBSIndex: 2},
		{ID: 2, ClientID: 101, LeagueID: 1, BBSIndex: 3},
		{ID: 3, ClientID: 102, LeagueID: 1, BBSIndex: 5},
	}

	p, layout := newProcessor(t, store, &fakeRunner{})
	sub := p.bus.SubscribeDest("02")
	defer p.bus.Unsubscribe(sub)

	dir := layout.StagingOutbound("013", 'B')
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "brnodes.013"), []byte("node data"), 0o644)

	p.collectOutbound(context.Background(), nil, "013", 'B', dir)

	if len(store.outbound) != 3 {
		t.Fatalf("outbound rows = %d, want 3", len(store.outbound))
	}
	var dests []string
	for _, row := range store.outbound {
		if row.Filename != "BRNODES.013" || row.SourceBBSIndex != "00" || row.SequenceNumber != 0 {
			t.Errorf("nodelist row = %+v", row)
		}
		if row.DestClientID == nil {
			t.Error("nodelist row missing dest client")
		}
		dests = append(dests, row.DestBBSIndex)
	}
	sort.Strings(dests)
	want := []string{"02", "03", "05"}
	for i := range want {
		if dests[i] != want[i] {
			t.Errorf("dests = %v, want %v", dests, want)
		}
	}

	if hubfs.FindInsensitive(layout.NodelistDir('B', "013"), "BRNODES.013") == "" {
		t.Error("canonical nodelist missing")
	}

	// Each member's listener is told about its copy.
	select {
	case ev := <-sub.C:
		if ev.Type != bus.TypeNodelistAvailable || ev.Dest != "02" {
			t.Errorf("event = %+v", ev)
		}
		if ev.Filename != "BRNODES.013" || ev.LeagueNumber != "013" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Error("destination 02 received no nodelist event")
	}
}

func TestCollectOutboundSkipsHubAddressed(t *testing.T) {
	store := newStore()
	p, layout := newProcessor(t, store, &fakeRunner{})

	dir := layout.StagingOutbound("555", 'B')
	os.MkdirAll(dir, 0o755)
	// Dest 01 is the hub itself.
	os.WriteFile(filepath.Join(dir, "555B0201.004"), []byte("x"), 0o644)

	p.collectOutbound(context.Background(), nil, "555", 'B', dir)

	if len(store.outbound) != 0 {
		t.Errorf("hub-addressed packet was collected: %+v", store.outbound)
	}
	if _, err := os.Stat(filepath.Join(dir, "555B0201.004")); err != nil {
		t.Error("hub-addressed packet should remain in place")
	}
}

func TestCompressLogRoundTrips(t *testing.T) {
	in := bytes.Repeat([]byte("ANSI art and game output\n"), 100)
	out := compressLog(in)
	if len(out) == 0 || len(out) >= len(in) {
		t.Errorf("compressed %d bytes to %d", len(in), len(out))
	}
	if compressLog(nil) != nil {
		t.Error("empty log should compress to nil")
	}
}
