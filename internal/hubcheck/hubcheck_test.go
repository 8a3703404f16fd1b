package hubcheck

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nova-hub/nova-hub/internal/catalog"
	"github.com/nova-hub/nova-hub/internal/config"
)

type fakeStore struct {
	leagues map[string]*catalog.League
	members map[int64][]*catalog.Membership
	clients map[int64]*catalog.Client
}

func (f *fakeStore) LeagueByKey(_ context.Context, number string, game byte) (*catalog.League, error) {
	return f.leagues[number+string(game)], nil
}

func (f *fakeStore) ActiveMemberships(_ context.Context, leagueID int64) ([]*catalog.Membership, error) {
	return f.members[leagueID], nil
}

func (f *fakeStore) ClientByID(_ context.Context, id int64) (*catalog.Client, error) {
	return f.clients[id], nil
}

func writeNodesFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

const nodesBody = `1
Nova Hub Central
1:234/5
Springfield
IL
USA

2
The Wildcat Den
1:234/6
Shelbyville
IL
USA
`

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	base := t.TempDir()
	game := filepath.Join(base, "game")
	for _, d := range []string{game, filepath.Join(base, "in"), filepath.Join(base, "out")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	cfg := &config.Config{
		Leagues: map[string]config.LeagueConfig{
			"555": {Bre: &config.GameConfig{
				GameFolder:     game,
				InboundFolder:  filepath.Join(base, "in"),
				OutboundFolder: filepath.Join(base, "out"),
			}},
		},
	}
	return cfg, game
}

func messages(problems []Problem) string {
	var b strings.Builder
	for _, p := range problems {
		b.WriteString(p.String())
		b.WriteString("\n")
	}
	return b.String()
}

func TestRunCleanDeployment(t *testing.T) {
	cfg, game := testConfig(t)
	writeNodesFile(t, game, "brnodes.dat", nodesBody)

	got := New(cfg, nil).Run(context.Background())
	if len(got) != 0 {
		t.Errorf("problems:\n%s", messages(got))
	}
}

func TestRunMissingDirectories(t *testing.T) {
	cfg, game := testConfig(t)
	writeNodesFile(t, game, "BRNODES.DAT", nodesBody)
	cfg.Leagues["555"].Bre.InboundFolder = filepath.Join(game, "no", "such", "dir")

	got := New(cfg, nil).Run(context.Background())
	msgs := messages(got)
	if !strings.Contains(msgs, "inbound_folder does not exist") {
		t.Errorf("problems:\n%s", msgs)
	}
}

func TestRunSharedDirectory(t *testing.T) {
	cfg, game := testConfig(t)
	writeNodesFile(t, game, "BRNODES.DAT", nodesBody)
	cfg.Leagues["555"] = config.LeagueConfig{
		Bre: cfg.Leagues["555"].Bre,
		Fe: &config.GameConfig{
			GameFolder:     game,
			InboundFolder:  cfg.Leagues["555"].Bre.InboundFolder,
			OutboundFolder: cfg.Leagues["555"].Bre.OutboundFolder,
		},
	}

	got := New(cfg, nil).Run(context.Background())
	msgs := messages(got)
	if !strings.Contains(msgs, "directory used multiple times") {
		t.Errorf("problems:\n%s", msgs)
	}
	if !strings.Contains(msgs, "555B (outbound_folder)") || !strings.Contains(msgs, "555F (outbound_folder)") {
		t.Errorf("shared-dir message should name both users:\n%s", msgs)
	}
}

func TestRunMissingNodesFile(t *testing.T) {
	cfg, _ := testConfig(t)

	got := New(cfg, nil).Run(context.Background())
	msgs := messages(got)
	if !strings.Contains(msgs, "BRNODES.DAT not found") {
		t.Errorf("problems:\n%s", msgs)
	}
	for _, p := range got {
		if p.Severity != SeverityWarning {
			t.Errorf("missing nodes file should be a warning: %s", p)
		}
	}
}

func TestRunNodesFileProblems(t *testing.T) {
	cfg, game := testConfig(t)
	writeNodesFile(t, game, "BRNODES.DAT", nodesBody+"\n2\nImposter BBS\n1:234/7\nOgdenville\nIL\nUSA\n")

	got := New(cfg, nil).Run(context.Background())
	msgs := messages(got)
	if !strings.Contains(msgs, "duplicate BBS index 2") {
		t.Errorf("problems:\n%s", msgs)
	}
}

func TestRunCatalogCrossCheck(t *testing.T) {
	cfg, game := testConfig(t)
	writeNodesFile(t, game, "BRNODES.DAT", nodesBody)

	store := &fakeStore{
		leagues: map[string]*catalog.League{"555B": {ID: 7, LeagueNumber: "555", GameType: 'B'}},
		members: map[int64][]*catalog.Membership{7: {
			{ID: 1, ClientID: 10, LeagueID: 7, BBSIndex: 1, FidonetAddress: "1:234/5"},
			{ID: 2, ClientID: 11, LeagueID: 7, BBSIndex: 2, FidonetAddress: "1:999/1"}, // mismatch
			{ID: 3, ClientID: 12, LeagueID: 7, BBSIndex: 3, FidonetAddress: "1:234/9"}, // not in file
		}},
		clients: map[int64]*catalog.Client{
			10: {ID: 10, BBSName: "Nova Hub Central"},
			11: {ID: 11, BBSName: "Totally Different Name"},
			12: {ID: 12, BBSName: "Ghost BBS"},
		},
	}

	got := New(cfg, store).Run(context.Background())
	msgs := messages(got)
	for _, want := range []string{
		"BBS index 2 FidoNet address mismatch",
		"BBS index 2 name mismatch",
		"member with BBS index 3 missing from nodes file",
	} {
		if !strings.Contains(msgs, want) {
			t.Errorf("missing %q in:\n%s", want, msgs)
		}
	}
}

func TestRunNodesEntryWithoutMembership(t *testing.T) {
	cfg, game := testConfig(t)
	writeNodesFile(t, game, "BRNODES.DAT", nodesBody)

	store := &fakeStore{
		leagues: map[string]*catalog.League{"555B": {ID: 7, LeagueNumber: "555", GameType: 'B'}},
		members: map[int64][]*catalog.Membership{7: {
			{ID: 1, ClientID: 10, LeagueID: 7, BBSIndex: 1, FidonetAddress: "1:234/5"},
		}},
		clients: map[int64]*catalog.Client{10: {ID: 10, BBSName: "Nova Hub Central"}},
	}

	got := New(cfg, store).Run(context.Background())
	msgs := messages(got)
	if !strings.Contains(msgs, "entry 2 (The Wildcat Den) has no active membership") {
		t.Errorf("problems:\n%s", msgs)
	}
}

func TestRunErrorsSortFirst(t *testing.T) {
	cfg, game := testConfig(t)
	// Missing nodes file (warning) plus a missing directory (error).
	cfg.Leagues["555"].Bre.ScoresFolder = filepath.Join(game, "missing-scores")

	got := New(cfg, nil).Run(context.Background())
	if len(got) < 2 {
		t.Fatalf("problems:\n%s", messages(got))
	}
	if got[0].Severity != SeverityError {
		t.Errorf("first problem = %s, want an error", got[0])
	}
	if got[len(got)-1].Severity != SeverityWarning {
		t.Errorf("last problem = %s, want a warning", got[len(got)-1])
	}
}
