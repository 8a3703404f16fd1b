// Package dosemu runs the per-league DOS game binaries inside a headless
// dosemu instance. Each invocation synthesizes a batch file, executes it
// under a terminal recorder so ANSI output survives, and enforces a
// wall-clock timeout.
package dosemu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nova-hub/nova-hub/internal/config"
	"github.com/nova-hub/nova-hub/internal/hubfs"
	"github.com/nova-hub/nova-hub/internal/metrics"
	"github.com/nova-hub/nova-hub/internal/packet"
	"go.uber.org/zap"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// CommandKey names one of the per-(league, game) configured commands.
type CommandKey string

const (
	CommandProcessing CommandKey = "processing"
	CommandScores     CommandKey = "scores"
	CommandRouteinfo  CommandKey = "routeinfo"
	CommandBBSInfo    CommandKey = "bbsinfo"
)

// ErrNoCommand reports a command key the league has not configured.
var ErrNoCommand = errors.New("no command configured")

// Result captures one emulator invocation.
type Result struct {
	Status   Status
	ExitCode int
	Output   []byte
	LogPath  string
}

type Runner struct {
	cfg    *config.Config
	layout hubfs.Layout
	logger *zap.Logger
}

func NewRunner(cfg *config.Config, layout hubfs.Layout, logger *zap.Logger) *Runner {
	return &Runner{cfg: cfg, layout: layout, logger: logger}
}

// Run executes the named command for (league, game). Setup failures return
// an error; the emulator failing or timing out is reported in the Result.
func (r *Runner) Run(ctx context.Context, leagueNumber string, game byte, key CommandKey) (*Result, error) {
	gc := r.cfg.League(leagueNumber, game)
	if gc == nil {
		return nil, fmt.Errorf("league %s%c is not configured", leagueNumber, game)
	}
	command := commandFor(gc, key)
	if command == "" {
		return nil, fmt.Errorf("league %s%c: %s: %w", leagueNumber, game, key, ErrNoCommand)
	}

	root := r.layout.StagingRoot(leagueNumber, game)
	for _, dir := range []string{
		r.layout.StagingInbound(leagueNumber, game),
		r.layout.StagingOutbound(leagueNumber, game),
		r.layout.LogDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	confPath, err := r.ensureConf()
	if err != nil {
		return nil, err
	}

	batPath := filepath.Join(root, batchFilename)
	if err := os.WriteFile(batPath, []byte(BatchContents(gc.GameDOSPath, command)), 0o644); err != nil {
		return nil, fmt.Errorf("writing batch file: %w", err)
	}
	defer os.Remove(batPath)

	logPath := filepath.Join(r.layout.LogDir(),
		fmt.Sprintf("%s_%s_%s_%d.log", leagueNumber, packet.GameKey(game), key, time.Now().Unix()))

	timeout := time.Duration(r.cfg.Dosemu.TimeoutSeconds) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	r.logger.Info("running emulator command",
		zap.String("league", leagueNumber),
		zap.String("game", packet.GameKey(game)),
		zap.String("command", string(key)),
		zap.Duration("timeout", timeout),
	)

	// script(1) records the session with control sequences intact.
	emulator := fmt.Sprintf("%s -f %s -quiet -K %s -E %s",
		r.cfg.Dosemu.Path, confPath, root, batchFilename)
	cmd := exec.CommandContext(runCtx, "script", "-qefc", emulator, logPath)
	cmd.Dir = root

	err = cmd.Run()
	elapsed := time.Since(start)

	res := &Result{LogPath: logPath}
	if out, readErr := os.ReadFile(logPath); readErr == nil {
		res.Output = out
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		res.Status = StatusTimeout
		res.ExitCode = -1
		r.logger.Error("emulator command timed out",
			zap.String("league", leagueNumber),
			zap.String("command", string(key)),
			zap.Duration("elapsed", elapsed),
		)
	case err != nil:
		res.Status = StatusError
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		r.logger.Error("emulator command failed",
			zap.String("league", leagueNumber),
			zap.String("command", string(key)),
			zap.Int("exit_code", res.ExitCode),
			zap.Error(err),
		)
	default:
		res.Status = StatusSuccess
	}

	metrics.DosemuCommandDuration.WithLabelValues(string(key), string(res.Status)).Observe(elapsed.Seconds())
	return res, nil
}

const batchFilename = "PROCESS.BAT"

func commandFor(gc *config.GameConfig, key CommandKey) string {
	switch key {
	case CommandProcessing:
		return gc.ProcessingCommand
	case CommandScores:
		return gc.ScoresCommand
	case CommandRouteinfo:
		return gc.RouteinfoCommand
	case CommandBBSInfo:
		return gc.BbsinfoCommand
	}
	return ""
}

// ensureConf writes the shared emulator configuration once and reuses it.
func (r *Runner) ensureConf() (string, error) {
	dir := r.cfg.Dosemu.ConfigDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(r.layout.DataDir, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, "dosemu.conf")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, []byte(ConfContents()), 0o644); err != nil {
		return "", fmt.Errorf("writing emulator config: %w", err)
	}
	return path, nil
}

// ConfContents is the headless emulator configuration: no video, no X, no
// DPMI, quiet startup.
func ConfContents() string {
	return strings.Join([]string{
		"$_X = (0)",
		"$_video = \"none\"",
		"$_term = (1)",
		"$_dpmi = (off)",
		"$_quiet = (1)",
		"$_hogthreshold = (1)",
		"",
	}, "\n")
}

// BatchContents builds the ephemeral DOS batch file: switch to the game's
// drive and directory, run the command, leave the emulator. DOS wants CRLF.
func BatchContents(dosPath, command string) string {
	drive := "C:"
	if len(dosPath) >= 2 && dosPath[1] == ':' {
		drive = strings.ToUpper(dosPath[:2])
	}
	lines := []string{
		"@ECHO OFF",
		drive,
		"CD " + dosPath,
		command,
		"EXITEMU",
		"",
	}
	return strings.Join(lines, "\r\n")
}
