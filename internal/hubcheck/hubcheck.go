// Package hubcheck validates a hub deployment offline: league directories
// exist and are not shared, and the games' node directory files agree with
// the catalog's memberships.
package hubcheck

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nova-hub/nova-hub/internal/catalog"
	"github.com/nova-hub/nova-hub/internal/config"
	"github.com/nova-hub/nova-hub/internal/hubfs"
	"github.com/nova-hub/nova-hub/internal/nodes"
	"github.com/nova-hub/nova-hub/internal/packet"
)

const (
	SeverityError   = "ERROR"
	SeverityWarning = "WARNING"
)

// Problem is one validation finding.
type Problem struct {
	Category string
	Message  string
	Severity string
}

func (p Problem) String() string {
	return fmt.Sprintf("[%s] %s: %s", p.Severity, p.Category, p.Message)
}

// Store is the optional catalog surface; nil limits validation to the
// filesystem checks.
type Store interface {
	LeagueByKey(ctx context.Context, number string, game byte) (*catalog.League, error)
	ActiveMemberships(ctx context.Context, leagueID int64) ([]*catalog.Membership, error)
	ClientByID(ctx context.Context, id int64) (*catalog.Client, error)
}

type Validator struct {
	cfg   *config.Config
	store Store
}

func New(cfg *config.Config, store Store) *Validator {
	return &Validator{cfg: cfg, store: store}
}

// Run performs every check and returns the findings, errors first.
func (v *Validator) Run(ctx context.Context) []Problem {
	var problems []Problem

	numbers := make([]string, 0, len(v.cfg.Leagues))
	for n := range v.cfg.Leagues {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)

	dirUsage := make(map[string][]string) // absolute path -> "<ref> (<kind>)"

	for _, number := range numbers {
		for _, game := range []byte{'B', 'F'} {
			gc := v.cfg.League(number, game)
			if gc == nil {
				continue
			}
			ref := packet.FormatLeagueRef(number, game)

			dirs := []struct{ kind, path string }{
				{"game_folder", gc.GameFolder},
				{"inbound_folder", gc.InboundFolder},
				{"outbound_folder", gc.OutboundFolder},
				{"scores_folder", gc.ScoresFolder},
			}
			for _, d := range dirs {
				if d.path == "" {
					continue
				}
				problems = append(problems, checkDir(ref, d.kind, d.path)...)
				if abs, err := filepath.Abs(d.path); err == nil {
					dirUsage[abs] = append(dirUsage[abs], fmt.Sprintf("%s (%s)", ref, d.kind))
				}
			}

			problems = append(problems, v.checkNodesFile(ctx, ref, number, game, gc)...)
		}
	}

	for dir, usages := range dirUsage {
		if len(usages) > 1 {
			problems = append(problems, Problem{
				Category: "directory",
				Message:  fmt.Sprintf("directory used multiple times: %s - %s", dir, strings.Join(usages, ", ")),
				Severity: SeverityError,
			})
		}
	}

	sort.SliceStable(problems, func(i, j int) bool {
		return problems[i].Severity == SeverityError && problems[j].Severity != SeverityError
	})
	return problems
}

func checkDir(ref, kind, path string) []Problem {
	fi, err := os.Stat(path)
	if err != nil {
		return []Problem{{
			Category: "directory",
			Message:  fmt.Sprintf("%s: %s does not exist: %s", ref, kind, path),
			Severity: SeverityError,
		}}
	}
	if !fi.IsDir() {
		return []Problem{{
			Category: "directory",
			Message:  fmt.Sprintf("%s: %s is not a directory: %s", ref, kind, path),
			Severity: SeverityError,
		}}
	}
	return nil
}

func nodesFilename(game byte) string {
	if game == 'F' {
		return "FENODES.DAT"
	}
	return "BRNODES.DAT"
}

// checkNodesFile parses the game's node directory and, when a catalog is
// available, cross-checks it against the league's active memberships.
func (v *Validator) checkNodesFile(ctx context.Context, ref, number string, game byte, gc *config.GameConfig) []Problem {
	if gc.GameFolder == "" {
		return nil
	}
	path := hubfs.FindInsensitive(gc.GameFolder, nodesFilename(game))
	if path == "" {
		return []Problem{{
			Category: "nodes",
			Message:  fmt.Sprintf("%s: %s not found in %s", ref, nodesFilename(game), gc.GameFolder),
			Severity: SeverityWarning,
		}}
	}

	file, err := nodes.ParseFile(path)
	if err != nil {
		return []Problem{{
			Category: "nodes",
			Message:  fmt.Sprintf("%s: %v", ref, err),
			Severity: SeverityError,
		}}
	}

	var problems []Problem
	for _, p := range file.Problems {
		problems = append(problems, Problem{
			Category: "nodes",
			Message:  fmt.Sprintf("%s: %s", ref, p),
			Severity: SeverityError,
		})
	}
	for _, d := range file.DuplicateIndices() {
		problems = append(problems, Problem{
			Category: "nodes",
			Message:  fmt.Sprintf("%s: %s", ref, d),
			Severity: SeverityError,
		})
	}

	if v.store == nil {
		return problems
	}

	league, err := v.store.LeagueByKey(ctx, number, game)
	if err != nil {
		problems = append(problems, Problem{
			Category: "catalog",
			Message:  fmt.Sprintf("%s: looking up league: %v", ref, err),
			Severity: SeverityError,
		})
		return problems
	}
	if league == nil {
		problems = append(problems, Problem{
			Category: "catalog",
			Message:  fmt.Sprintf("%s: league configured but not present in catalog", ref),
			Severity: SeverityWarning,
		})
		return problems
	}

	members, err := v.store.ActiveMemberships(ctx, league.ID)
	if err != nil {
		problems = append(problems, Problem{
			Category: "catalog",
			Message:  fmt.Sprintf("%s: listing memberships: %v", ref, err),
			Severity: SeverityError,
		})
		return problems
	}

	inCatalog := make(map[int]bool, len(members))
	for _, m := range members {
		inCatalog[m.BBSIndex] = true
		node := file.ByIndex(m.BBSIndex)
		if node == nil {
			problems = append(problems, Problem{
				Category: "nodes",
				Message:  fmt.Sprintf("%s: member with BBS index %d missing from nodes file", ref, m.BBSIndex),
				Severity: SeverityError,
			})
			continue
		}
		if m.FidonetAddress != "" && !strings.EqualFold(m.FidonetAddress, node.FidonetAddress) {
			problems = append(problems, Problem{
				Category: "nodes",
				Message: fmt.Sprintf("%s: BBS index %d FidoNet address mismatch: catalog %q, nodes file %q",
					ref, m.BBSIndex, m.FidonetAddress, node.FidonetAddress),
				Severity: SeverityError,
			})
		}
		client, err := v.store.ClientByID(ctx, m.ClientID)
		if err != nil || client == nil {
			continue
		}
		if !strings.EqualFold(client.BBSName, node.BBSName) {
			problems = append(problems, Problem{
				Category: "nodes",
				Message: fmt.Sprintf("%s: BBS index %d name mismatch: catalog %q, nodes file %q",
					ref, m.BBSIndex, client.BBSName, node.BBSName),
				Severity: SeverityWarning,
			})
		}
	}
	for _, n := range file.Nodes {
		if !inCatalog[n.BBSIndex] {
			problems = append(problems, Problem{
				Category: "nodes",
				Message:  fmt.Sprintf("%s: nodes file entry %d (%s) has no active membership", ref, n.BBSIndex, n.BBSName),
				Severity: SeverityWarning,
			})
		}
	}
	return problems
}
