package dosemu

import (
	"strings"
	"testing"

	"github.com/nova-hub/nova-hub/internal/config"
)

func TestBatchContents(t *testing.T) {
	got := BatchContents(`D:\BBS\DOORS\BRE_013`, `BRE /PROCESS`)

	want := "@ECHO OFF\r\n" +
		"D:\r\n" +
		"CD D:\\BBS\\DOORS\\BRE_013\r\n" +
		"BRE /PROCESS\r\n" +
		"EXITEMU\r\n"
	if got != want {
		t.Errorf("BatchContents =\n%q\nwant\n%q", got, want)
	}
}

func TestBatchContents_DefaultDrive(t *testing.T) {
	got := BatchContents(`GAMES\FE`, `FE /RUN`)
	if !strings.HasPrefix(got, "@ECHO OFF\r\nC:\r\n") {
		t.Errorf("path without drive letter should default to C:, got %q", got)
	}
}

func TestConfContents(t *testing.T) {
	conf := ConfContents()
	for _, directive := range []string{
		`$_video = "none"`,
		"$_dpmi = (off)",
		"$_X = (0)",
		"$_quiet = (1)",
	} {
		if !strings.Contains(conf, directive) {
			t.Errorf("config missing %q", directive)
		}
	}
}

func TestCommandFor(t *testing.T) {
	gc := &config.GameConfig{
		ProcessingCommand: "BRE /PROCESS",
		ScoresCommand:     "BRE /SCORES",
	}

	tests := []struct {
		key  CommandKey
		want string
	}{
		{CommandProcessing, "BRE /PROCESS"},
		{CommandScores, "BRE /SCORES"},
		{CommandRouteinfo, ""},
		{CommandBBSInfo, ""},
		{CommandKey("bogus"), ""},
	}
	for _, tt := range tests {
		if got := commandFor(gc, tt.key); got != tt.want {
			t.Errorf("commandFor(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
