// Package processing drives the batch pipeline: stage uploaded packets into
// the per-league emulator tree, run the game, archive consumed packets,
// collect what the game produced, and ingest run artifacts.
package processing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/nova-hub/nova-hub/internal/bus"
	"github.com/nova-hub/nova-hub/internal/catalog"
	"github.com/nova-hub/nova-hub/internal/config"
	"github.com/nova-hub/nova-hub/internal/dosemu"
	"github.com/nova-hub/nova-hub/internal/hubfs"
	"github.com/nova-hub/nova-hub/internal/metrics"
	"github.com/nova-hub/nova-hub/internal/packet"
	"go.uber.org/zap"
)

// Store is the catalog surface the processor needs.
type Store interface {
	UnprocessedPackets(ctx context.Context) ([]*catalog.Packet, error)
	LeagueByID(ctx context.Context, id int64) (*catalog.League, error)
	GetOrCreateLeague(ctx context.Context, number string, game byte) (*catalog.League, error)
	ActiveMemberships(ctx context.Context, leagueID int64) ([]*catalog.Membership, error)
	CreateRun(ctx context.Context) (*catalog.Run, error)
	FinishRun(ctx context.Context, runID int64, status string, processed, failed int, exitCode *int, outputLog []byte, errMsg string) error
	MarkProcessed(ctx context.Context, packetID, runID int64) error
	UpsertOutbound(ctx context.Context, p *catalog.Packet) (*catalog.Packet, error)
	AddArtifact(ctx context.Context, a *catalog.Artifact) error
}

// Runner abstracts the emulator invocation.
type Runner interface {
	Run(ctx context.Context, leagueNumber string, game byte, key dosemu.CommandKey) (*dosemu.Result, error)
}

// SequenceChecker is the post-run gap sweep.
type SequenceChecker interface {
	CheckAll(ctx context.Context) (int, error)
	AutoResolve(ctx context.Context) (int, error)
}

type Processor struct {
	store  Store
	runner Runner
	seq    SequenceChecker
	bus    *bus.Bus
	layout hubfs.Layout
	cfg    *config.Config
	logger *zap.Logger

	baseCtx context.Context
	running atomic.Bool
}

func New(store Store, runner Runner, seq SequenceChecker, b *bus.Bus, layout hubfs.Layout, cfg *config.Config, logger *zap.Logger) *Processor {
	return &Processor{
		store:   store,
		runner:  runner,
		seq:     seq,
		bus:     b,
		layout:  layout,
		cfg:     cfg,
		logger:  logger,
		baseCtx: context.Background(),
	}
}

// Start binds the processor to its lifetime context and, when configured,
// starts the periodic trigger.
func (p *Processor) Start(ctx context.Context) {
	p.baseCtx = ctx
	if p.cfg.Processing.PollIntervalSeconds <= 0 {
		return
	}
	interval := time.Duration(p.cfg.Processing.PollIntervalSeconds) * time.Second
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Trigger()
			}
		}
	}()
}

// Trigger schedules a batch unless one is already in flight, in which case
// it is a no-op. Never blocks.
func (p *Processor) Trigger() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer p.running.Store(false)
		if err := p.runBatch(p.baseCtx); err != nil {
			p.logger.Error("batch failed", zap.Error(err))
		}
	}()
}

type workItem struct {
	pkt    *catalog.Packet
	league *catalog.League
}

func (p *Processor) runBatch(ctx context.Context) error {
	start := time.Now()

	packets, err := p.store.UnprocessedPackets(ctx)
	if err != nil {
		return fmt.Errorf("selecting work: %w", err)
	}

	// Resolve each packet's league once; partition by game.
	leagues := make(map[int64]*catalog.League)
	subsets := make(map[byte]map[string][]workItem) // game -> league number -> items
	for _, pkt := range packets {
		league := leagues[pkt.LeagueID]
		if league == nil {
			league, err = p.store.LeagueByID(ctx, pkt.LeagueID)
			if err != nil {
				return fmt.Errorf("resolving league %d: %w", pkt.LeagueID, err)
			}
			if league == nil {
				p.logger.Warn("packet references missing league",
					zap.Int64("packet_id", pkt.ID), zap.Int64("league_id", pkt.LeagueID))
				continue
			}
			leagues[pkt.LeagueID] = league
		}
		if subsets[league.GameType] == nil {
			subsets[league.GameType] = make(map[string][]workItem)
		}
		subsets[league.GameType][league.LeagueNumber] = append(
			subsets[league.GameType][league.LeagueNumber], workItem{pkt: pkt, league: league})
	}

	if len(packets) == 0 {
		// Nothing uploaded; still sweep outbound folders for files the
		// games produced on their own schedule.
		p.sweepOutbound(ctx, nil)
		return nil
	}

	run, err := p.store.CreateRun(ctx)
	if err != nil {
		return fmt.Errorf("opening run: %w", err)
	}
	p.bus.Publish(bus.Event{Type: bus.TypeProcessingStarted})
	p.logger.Info("batch started", zap.Int64("run_id", run.ID), zap.Int("packets", len(packets)))

	var (
		logBuf    bytes.Buffer
		processed int
		failed    int
		lastExit  *int
		errMsgs   []string
	)

	// B strictly before F; within a game, league order is fixed by sort.
	for _, game := range []byte{'B', 'F'} {
		byLeague := subsets[game]
		numbers := make([]string, 0, len(byLeague))
		for n := range byLeague {
			numbers = append(numbers, n)
		}
		sort.Strings(numbers)

		for _, number := range numbers {
			res := p.processLeague(ctx, run.ID, number, game, byLeague[number], &logBuf)
			processed += res.processed
			failed += res.failed
			if res.exitCode != nil {
				lastExit = res.exitCode
			}
			if res.errMsg != "" {
				errMsgs = append(errMsgs, res.errMsg)
			}
		}
	}

	status := catalog.RunStatusCompleted
	if len(errMsgs) > 0 {
		status = catalog.RunStatusError
	}
	if err := p.store.FinishRun(ctx, run.ID, status, processed, failed,
		lastExit, compressLog(logBuf.Bytes()), strings.Join(errMsgs, "; ")); err != nil {
		p.logger.Error("closing run", zap.Int64("run_id", run.ID), zap.Error(err))
	}
	metrics.ProcessingRunsTotal.WithLabelValues(status).Inc()
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())

	if _, err := p.seq.CheckAll(ctx); err != nil {
		p.logger.Error("sequence sweep", zap.Error(err))
	}
	if _, err := p.seq.AutoResolve(ctx); err != nil {
		p.logger.Error("alert auto-resolve", zap.Error(err))
	}

	p.sweepOutbound(ctx, &run.ID)

	p.bus.Publish(bus.Event{Type: bus.TypeProcessingComplete, RunID: run.ID})
	p.logger.Info("batch finished",
		zap.Int64("run_id", run.ID),
		zap.String("status", status),
		zap.Int("processed", processed),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

type leagueResult struct {
	processed int
	failed    int
	exitCode  *int
	errMsg    string
}

// processLeague runs the full per-(league, game) cycle: stage, run the game,
// archive, collect outbound, ingest artifacts, clean up.
func (p *Processor) processLeague(ctx context.Context, runID int64, number string, game byte, items []workItem, logBuf *bytes.Buffer) leagueResult {
	ref := packet.FormatLeagueRef(number, game)

	// Configured game folders win; the layout staging tree is the fallback.
	gc := p.cfg.League(number, game)
	stagingIn := p.layout.StagingInbound(number, game)
	stagingOut := p.layout.StagingOutbound(number, game)
	if gc != nil {
		if gc.InboundFolder != "" {
			stagingIn = gc.InboundFolder
		}
		if gc.OutboundFolder != "" {
			stagingOut = gc.OutboundFolder
		}
	}

	var res leagueResult
	if err := os.MkdirAll(stagingIn, 0o755); err != nil {
		res.failed = len(items)
		res.errMsg = fmt.Sprintf("%s: staging: %v", ref, err)
		return res
	}

	// Stage. Copy, not move: the inbound original is archived only after a
	// successful game run.
	staged := items[:0]
	for _, item := range items {
		src := hubfs.FindInsensitive(p.layout.Inbound(), item.pkt.Filename)
		if src == "" {
			p.logger.Warn("inbound file missing, skipping",
				zap.String("filename", item.pkt.Filename), zap.String("league", ref))
			res.failed++
			continue
		}
		dst := filepath.Join(stagingIn, strings.ToUpper(item.pkt.Filename))
		if err := copyFile(src, dst); err != nil {
			p.logger.Error("staging packet", zap.String("filename", item.pkt.Filename), zap.Error(err))
			res.failed++
			continue
		}
		staged = append(staged, item)
	}

	runRes, err := p.runner.Run(ctx, number, game, dosemu.CommandProcessing)
	if err != nil {
		res.failed += len(staged)
		res.errMsg = fmt.Sprintf("%s: %v", ref, err)
		return res
	}
	logBuf.Write(runRes.Output)
	if runRes.Status != dosemu.StatusSuccess {
		// Staged packets stay unprocessed and retry on the next trigger.
		res.failed += len(staged)
		res.exitCode = &runRes.ExitCode
		res.errMsg = fmt.Sprintf("%s: game run %s (exit %d)", ref, runRes.Status, runRes.ExitCode)
		return res
	}
	res.exitCode = &runRes.ExitCode

	// Mark processed and archive the hub inbound copies.
	for _, item := range staged {
		if err := p.store.MarkProcessed(ctx, item.pkt.ID, runID); err != nil {
			p.logger.Error("marking packet processed",
				zap.Int64("packet_id", item.pkt.ID), zap.Error(err))
			res.failed++
			continue
		}
		if src := hubfs.FindInsensitive(p.layout.Inbound(), item.pkt.Filename); src != "" {
			if _, err := hubfs.MoveCanonical(src, p.layout.Processed(), item.pkt.Filename); err != nil {
				p.logger.Error("archiving packet", zap.String("filename", item.pkt.Filename), zap.Error(err))
			}
		}
		res.processed++
	}

	p.collectOutbound(ctx, &runID, number, game, stagingOut)
	p.ingestArtifacts(ctx, runID, number, game)

	// Everything left in the staging inbound is this run's leftovers.
	if err := clearDir(stagingIn); err != nil {
		p.logger.Warn("cleaning staging", zap.String("dir", stagingIn), zap.Error(err))
	}
	return res
}

// sweepOutbound walks every configured league's outbound folders, picking up
// files the games produced outside a triggered batch.
func (p *Processor) sweepOutbound(ctx context.Context, runID *int64) {
	numbers := make([]string, 0, len(p.cfg.Leagues))
	for n := range p.cfg.Leagues {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)

	for _, number := range numbers {
		for _, game := range []byte{'B', 'F'} {
			gc := p.cfg.League(number, game)
			if gc == nil {
				continue
			}
			dir := gc.OutboundFolder
			if dir == "" {
				dir = p.layout.StagingOutbound(number, game)
			}
			p.collectOutbound(ctx, runID, number, game, dir)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func compressLog(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return b
	}
	defer enc.Close()
	return enc.EncodeAll(b, nil)
}
