// Package packet implements the routing filename grammar shared by every
// component of the hub.
//
// A packet filename encodes its complete routing information:
//
//	<league:3 decimal><game:B|F><source:2 hex><dest:2 hex>.<seq:3 decimal>
//
// Example: 555B0201.001 is league 555, game B, from BBS 0x02 to BBS 0x01,
// sequence 1. Parsing is case-insensitive; the canonical form is uppercase.
package packet

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SequenceSpace is the size of the circular sequence number space (000-999).
const SequenceSpace = 1000

var (
	nameRe   = regexp.MustCompile(`^(\d{3})([BF])([0-9A-F]{2})([0-9A-F]{2})\.(\d{3})$`)
	leagueRe = regexp.MustCompile(`^(\d{3})([BF])$`)
)

// Info holds the routing fields decoded from a packet filename. Source and
// Dest are uppercase 2-hex BBS indices as they appear on the wire.
type Info struct {
	League   string // 3-digit league number, e.g. "555"
	Game     byte   // 'B' or 'F'
	Source   string // 2-hex source BBS index, e.g. "02"
	Dest     string // 2-hex destination BBS index, e.g. "01"
	Sequence int    // 0-999
}

// Parse decodes a packet filename. The match is case-insensitive; the
// returned fields are canonical uppercase. Nodelist names do not parse.
func Parse(name string) (Info, error) {
	m := nameRe.FindStringSubmatch(strings.ToUpper(name))
	if m == nil {
		return Info{}, fmt.Errorf("malformed packet filename %q", name)
	}
	seq, err := strconv.Atoi(m[5])
	if err != nil {
		return Info{}, fmt.Errorf("malformed sequence in %q: %w", name, err)
	}
	return Info{
		League:   m[1],
		Game:     m[2][0],
		Source:   m[3],
		Dest:     m[4],
		Sequence: seq,
	}, nil
}

// Format renders the canonical uppercase filename for the given routing info.
func Format(info Info) string {
	return fmt.Sprintf("%s%c%s%s.%03d", info.League, info.Game, strings.ToUpper(info.Source), strings.ToUpper(info.Dest), info.Sequence)
}

// Filename returns the canonical name for the parsed info.
func (i Info) Filename() string { return Format(i) }

// IsNodelist reports whether name is a hub-generated nodelist
// (BRNODES.<league> or FENODES.<league>, any case). Nodelists pass through
// the packet pipeline but bypass the routing grammar.
func IsNodelist(name string) bool {
	upper := strings.ToUpper(name)
	return strings.HasPrefix(upper, "BRNODES.") || strings.HasPrefix(upper, "FENODES.")
}

// NodelistLeague extracts the league number and game type from a nodelist
// filename. Returns ok=false if the name is not a nodelist.
func NodelistLeague(name string) (league string, game byte, ok bool) {
	upper := strings.ToUpper(name)
	switch {
	case strings.HasPrefix(upper, "BRNODES."):
		return upper[len("BRNODES."):], 'B', true
	case strings.HasPrefix(upper, "FENODES."):
		return upper[len("FENODES."):], 'F', true
	}
	return "", 0, false
}

// NodelistName builds the canonical nodelist filename for a league.
func NodelistName(league string, game byte) string {
	if game == 'F' {
		return "FENODES." + league
	}
	return "BRNODES." + league
}

// ParseLeagueRef splits a combined league reference from a URL, e.g.
// "555B" into ("555", 'B'). Case-insensitive.
func ParseLeagueRef(ref string) (number string, game byte, err error) {
	m := leagueRe.FindStringSubmatch(strings.ToUpper(ref))
	if m == nil {
		return "", 0, fmt.Errorf("malformed league reference %q, want <3 digits><B|F>", ref)
	}
	return m[1], m[2][0], nil
}

// FormatLeagueRef is the inverse of ParseLeagueRef.
func FormatLeagueRef(number string, game byte) string {
	return fmt.Sprintf("%s%c", number, game)
}

// GameKey returns the lowercase directory/config key for a game type:
// "bre" for B, "fe" for F.
func GameKey(game byte) string {
	if game == 'F' {
		return "fe"
	}
	return "bre"
}

// GameName returns the display name of a game type.
func GameName(game byte) string {
	if game == 'F' {
		return "Falcon's Eye"
	}
	return "Barren Realms Elite"
}

// FormatBBSIndex renders a 1-byte BBS routing address as the 2-hex form
// used in filenames and the catalog.
func FormatBBSIndex(idx int) string {
	return fmt.Sprintf("%02X", idx)
}

// ParseBBSIndex decodes a 2-hex BBS index.
func ParseBBSIndex(hexIdx string) (int, error) {
	v, err := strconv.ParseInt(hexIdx, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed BBS index %q: %w", hexIdx, err)
	}
	return int(v), nil
}
