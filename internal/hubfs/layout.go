// Package hubfs defines the on-disk tree under the configured data
// directory and the case-insensitive lookup discipline shared by the
// processor, the watcher and the HTTP boundary.
//
// Writers always use canonical UPPERCASE names; finders always match
// case-insensitively. Overwrites are legitimate (sequence wraparound).
package hubfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nova-hub/nova-hub/internal/packet"
)

type Layout struct {
	DataDir string
}

func NewLayout(dataDir string) Layout {
	return Layout{DataDir: dataDir}
}

// Inbound is the hub-side directory for uploaded, pre-processing packets.
func (l Layout) Inbound() string {
	return filepath.Join(l.DataDir, "packets", "inbound")
}

// Outbound is the hub-side mailbox clients download from.
func (l Layout) Outbound() string {
	return filepath.Join(l.DataDir, "packets", "outbound")
}

// Processed is the archive for packets after a completed run.
func (l Layout) Processed() string {
	return filepath.Join(l.DataDir, "packets", "processed")
}

// NodelistDir holds the canonical nodelist for one (game, league).
func (l Layout) NodelistDir(game byte, leagueNumber string) string {
	return filepath.Join(l.DataDir, "nodelists", packet.GameKey(game), leagueNumber)
}

// StagingRoot is the per-(league, game) working directory the emulator
// runs in.
func (l Layout) StagingRoot(leagueNumber string, game byte) string {
	return filepath.Join(l.DataDir, "dosemu", leagueNumber, packet.GameKey(game))
}

// StagingInbound is where unprocessed packets are staged for the game.
func (l Layout) StagingInbound(leagueNumber string, game byte) string {
	return filepath.Join(l.StagingRoot(leagueNumber, game), "inbound")
}

// StagingOutbound is where the game deposits produced packets.
func (l Layout) StagingOutbound(leagueNumber string, game byte) string {
	return filepath.Join(l.StagingRoot(leagueNumber, game), "outbound")
}

// LogDir holds captured emulator output.
func (l Layout) LogDir() string {
	return filepath.Join(l.DataDir, "logs", "dosemu")
}

// EnsureBase creates the hub-level directories. Per-league staging
// directories are created lazily by the runner.
func (l Layout) EnsureBase() error {
	for _, dir := range []string{l.Inbound(), l.Outbound(), l.Processed(), l.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// FindInsensitive locates a file in dir whose name matches filename
// case-insensitively. DOS names are upper; external writers may have
// dropped mixed case. Returns "" when there is no match or the directory
// does not exist.
func FindInsensitive(dir, filename string) string {
	// Exact match first (fast path).
	exact := filepath.Join(dir, filename)
	if _, err := os.Stat(exact); err == nil {
		return exact
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	lower := strings.ToLower(filename)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.ToLower(e.Name()) == lower {
			return filepath.Join(dir, e.Name())
		}
	}
	return ""
}

// MoveCanonical moves src into dir under the canonical uppercase name,
// deleting any case-variant already present (the sequence-wraparound
// overwrite rule). Returns the destination path.
func MoveCanonical(src, dir, filename string) (string, error) {
	upper := strings.ToUpper(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	dst := filepath.Join(dir, upper)
	if existing := FindInsensitive(dir, upper); existing != "" && existing != src {
		if err := os.Remove(existing); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("removing stale %s: %w", existing, err)
		}
	}
	if src == dst {
		return dst, nil
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("moving %s to %s: %w", src, dst, err)
	}
	return dst, nil
}
