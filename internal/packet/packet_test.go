package packet

import "testing"

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		name string
		want Info
	}{
		{"555B0201.001", Info{League: "555", Game: 'B', Source: "02", Dest: "01", Sequence: 1}},
		{"013F0A1F.999", Info{League: "013", Game: 'F', Source: "0A", Dest: "1F", Sequence: 999}},
		{"555b0201.001", Info{League: "555", Game: 'B', Source: "02", Dest: "01", Sequence: 1}},
		{"100BfFfE.000", Info{League: "100", Game: 'B', Source: "FF", Dest: "FE", Sequence: 0}},
	}

	for _, tt := range tests {
		got, err := Parse(tt.name)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	names := []string{
		"",
		"555B0201",       // no extension
		"555B0201.1",     // short sequence
		"555B0201.0001",  // long sequence
		"55B0201.001",    // short league
		"555X0201.001",   // bad game letter
		"555B02G1.001",   // non-hex dest
		"555B0201.00A",   // non-decimal sequence
		"BRNODES.555",    // nodelist bypasses the grammar
		"fenodes.013",    // nodelist, lowercase
		"555B0201.001.1", // trailing junk
	}

	for _, name := range names {
		if _, err := Parse(name); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", name)
		}
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	info := Info{League: "555", Game: 'B', Source: "02", Dest: "01", Sequence: 7}
	name := Format(info)
	if name != "555B0201.007" {
		t.Fatalf("Format = %q, want 555B0201.007", name)
	}

	got, err := Parse(name)
	if err != nil {
		t.Fatalf("Parse(Format()): %v", err)
	}
	if got != info {
		t.Errorf("round trip = %+v, want %+v", got, info)
	}
}

func TestFormat_Canonicalizes(t *testing.T) {
	name := Format(Info{League: "555", Game: 'B', Source: "ff", Dest: "fe", Sequence: 1})
	if name != "555BFFFE.001" {
		t.Errorf("Format lowercase hex = %q, want 555BFFFE.001", name)
	}
}

func TestIsNodelist(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"BRNODES.555", true},
		{"FENODES.013", true},
		{"brnodes.555", true},
		{"Fenodes.013", true},
		{"555B0201.001", false},
		{"NODES.555", false},
	}
	for _, tt := range tests {
		if got := IsNodelist(tt.name); got != tt.want {
			t.Errorf("IsNodelist(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNodelistLeague(t *testing.T) {
	league, game, ok := NodelistLeague("brnodes.013")
	if !ok || league != "013" || game != 'B' {
		t.Errorf("NodelistLeague(brnodes.013) = %q, %c, %v", league, game, ok)
	}

	league, game, ok = NodelistLeague("FENODES.555")
	if !ok || league != "555" || game != 'F' {
		t.Errorf("NodelistLeague(FENODES.555) = %q, %c, %v", league, game, ok)
	}

	if _, _, ok := NodelistLeague("555B0201.001"); ok {
		t.Error("NodelistLeague accepted a regular packet name")
	}
}

func TestParseLeagueRef(t *testing.T) {
	number, game, err := ParseLeagueRef("555b")
	if err != nil || number != "555" || game != 'B' {
		t.Errorf("ParseLeagueRef(555b) = %q, %c, %v", number, game, err)
	}

	for _, bad := range []string{"555", "55B", "5555B", "555X", ""} {
		if _, _, err := ParseLeagueRef(bad); err == nil {
			t.Errorf("ParseLeagueRef(%q) succeeded, want error", bad)
		}
	}
}

func TestBBSIndex(t *testing.T) {
	if got := FormatBBSIndex(2); got != "02" {
		t.Errorf("FormatBBSIndex(2) = %q", got)
	}
	if got := FormatBBSIndex(255); got != "FF" {
		t.Errorf("FormatBBSIndex(255) = %q", got)
	}

	v, err := ParseBBSIndex("1f")
	if err != nil || v != 31 {
		t.Errorf("ParseBBSIndex(1f) = %d, %v", v, err)
	}
	if _, err := ParseBBSIndex("zz"); err == nil {
		t.Error("ParseBBSIndex(zz) succeeded, want error")
	}
}
