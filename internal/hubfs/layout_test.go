package hubfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/data")

	tests := []struct {
		got  string
		want string
	}{
		{l.Inbound(), "/data/packets/inbound"},
		{l.Outbound(), "/data/packets/outbound"},
		{l.Processed(), "/data/packets/processed"},
		{l.NodelistDir('B', "013"), "/data/nodelists/bre/013"},
		{l.NodelistDir('F', "555"), "/data/nodelists/fe/555"},
		{l.StagingInbound("555", 'B'), "/data/dosemu/555/bre/inbound"},
		{l.StagingOutbound("555", 'F'), "/data/dosemu/555/fe/outbound"},
	}
	for _, tt := range tests {
		if tt.got != filepath.FromSlash(tt.want) {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestFindInsensitive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "555b0201.001")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := FindInsensitive(dir, "555B0201.001"); got != path {
		t.Errorf("FindInsensitive upper = %q, want %q", got, path)
	}
	if got := FindInsensitive(dir, "555b0201.001"); got != path {
		t.Errorf("FindInsensitive exact = %q, want %q", got, path)
	}
	if got := FindInsensitive(dir, "555B0202.001"); got != "" {
		t.Errorf("FindInsensitive miss = %q, want empty", got)
	}
	if got := FindInsensitive(filepath.Join(dir, "nope"), "X"); got != "" {
		t.Errorf("FindInsensitive missing dir = %q, want empty", got)
	}
}

func TestMoveCanonical(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := filepath.Join(t.TempDir(), "out")

	src := filepath.Join(srcDir, "555b0102.001")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst, err := MoveCanonical(src, dstDir, "555b0102.001")
	if err != nil {
		t.Fatalf("MoveCanonical: %v", err)
	}
	if filepath.Base(dst) != "555B0102.001" {
		t.Errorf("destination %q is not canonical uppercase", dst)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source still present after move")
	}
}

func TestMoveCanonical_OverwritesCaseVariant(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	// A stale lowercase variant from a previous wraparound cycle.
	stale := filepath.Join(dstDir, "555b0102.001")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(srcDir, "555B0102.001")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst, err := MoveCanonical(src, dstDir, "555B0102.001")
	if err != nil {
		t.Fatalf("MoveCanonical: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale case-variant still present")
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new" {
		t.Errorf("destination content = %q, want %q", data, "new")
	}

	entries, _ := os.ReadDir(dstDir)
	if len(entries) != 1 {
		t.Errorf("destination dir has %d entries, want 1", len(entries))
	}
}
