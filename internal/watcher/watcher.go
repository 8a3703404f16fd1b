// Package watcher monitors each league's game-outbound directory for
// packets the games generate on their own schedule, outside a triggered
// batch, and registers them in the catalog.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nova-hub/nova-hub/internal/bus"
	"github.com/nova-hub/nova-hub/internal/catalog"
	"github.com/nova-hub/nova-hub/internal/config"
	"github.com/nova-hub/nova-hub/internal/hubfs"
	"github.com/nova-hub/nova-hub/internal/metrics"
	"github.com/nova-hub/nova-hub/internal/packet"
	"go.uber.org/zap"
)

// Store is the catalog surface the watcher needs. Downloads and the watcher
// never auto-create leagues; an unknown league is a configuration problem.
type Store interface {
	LeagueByKey(ctx context.Context, number string, game byte) (*catalog.League, error)
	UpsertOutbound(ctx context.Context, p *catalog.Packet) (*catalog.Packet, error)
}

type Watcher struct {
	store  Store
	bus    *bus.Bus
	layout hubfs.Layout
	cfg    *config.Config
	logger *zap.Logger
	fsw    *fsnotify.Watcher

	mu       sync.Mutex
	inFlight map[string]struct{}

	// Settling intervals; shortened in tests.
	settle   time.Duration
	resample time.Duration
	extra    time.Duration
}

func New(store Store, b *bus.Bus, layout hubfs.Layout, cfg *config.Config, logger *zap.Logger) *Watcher {
	return &Watcher{
		store:    store,
		bus:      b,
		layout:   layout,
		cfg:      cfg,
		logger:   logger,
		inFlight: make(map[string]struct{}),
		settle:   2 * time.Second,
		resample: time.Second,
		extra:    3 * time.Second,
	}
}

// Start begins watching every configured outbound folder and then sweeps
// each one once for files that predate the watch.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	var dirs []string
	for number := range w.cfg.Leagues {
		for _, game := range []byte{'B', 'F'} {
			gc := w.cfg.League(number, game)
			if gc == nil || gc.OutboundFolder == "" {
				continue
			}
			if err := os.MkdirAll(gc.OutboundFolder, 0o755); err != nil {
				w.logger.Error("creating watched dir", zap.String("dir", gc.OutboundFolder), zap.Error(err))
				continue
			}
			if err := fsw.Add(gc.OutboundFolder); err != nil {
				w.logger.Error("watching dir", zap.String("dir", gc.OutboundFolder), zap.Error(err))
				continue
			}
			dirs = append(dirs, gc.OutboundFolder)
			w.logger.Info("watching outbound folder",
				zap.String("league", packet.FormatLeagueRef(number, game)),
				zap.String("dir", gc.OutboundFolder),
			)
		}
	}
	if len(dirs) == 0 {
		w.logger.Warn("no outbound folders configured to watch")
	}

	go w.loop(ctx)

	// Startup sweep for leftovers, after the event loop is live.
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			w.logger.Error("sweeping watched dir", zap.String("dir", dir), zap.Error(err))
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if _, err := packet.Parse(e.Name()); err != nil {
				continue
			}
			go w.handleFile(ctx, filepath.Join(dir, e.Name()))
		}
	}
	return nil
}

func (w *Watcher) Close() error {
	if w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			if fi, err := os.Stat(ev.Name); err != nil || fi.IsDir() {
				continue
			}
			if _, err := packet.Parse(filepath.Base(ev.Name)); err != nil {
				continue
			}
			go w.handleFile(ctx, ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", zap.Error(err))
		}
	}
}

// handleFile settles, validates and registers one detected packet. A file
// vanishing at any point means a concurrent batch took it; that is a
// legitimate no-op.
func (w *Watcher) handleFile(ctx context.Context, path string) {
	filename := filepath.Base(path)

	w.mu.Lock()
	if _, busy := w.inFlight[filename]; busy {
		w.mu.Unlock()
		return
	}
	w.inFlight[filename] = struct{}{}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.inFlight, filename)
		w.mu.Unlock()
	}()

	// Let the game finish writing: sample the size twice and allow extra
	// time if it is still growing.
	if !sleepCtx(ctx, w.settle) {
		return
	}
	size1, ok := fileSize(path)
	if !ok {
		w.vanished(filename)
		return
	}
	if !sleepCtx(ctx, w.resample) {
		return
	}
	size2, ok := fileSize(path)
	if !ok {
		w.vanished(filename)
		return
	}
	if size1 != size2 {
		if !sleepCtx(ctx, w.extra) {
			return
		}
	}

	info, err := packet.Parse(filename)
	if err != nil {
		metrics.WatcherEventsTotal.WithLabelValues("invalid").Inc()
		w.logger.Warn("invalid packet filename in watched dir", zap.String("filename", filename))
		return
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			w.vanished(filename)
			return
		}
		metrics.WatcherEventsTotal.WithLabelValues("error").Inc()
		w.logger.Error("reading detected packet", zap.String("path", path), zap.Error(err))
		return
	}

	canonical := info.Filename()
	dst, err := hubfs.MoveCanonical(path, w.layout.Outbound(), canonical)
	if err != nil {
		if os.IsNotExist(err) {
			w.vanished(filename)
			return
		}
		metrics.WatcherEventsTotal.WithLabelValues("error").Inc()
		w.logger.Error("moving detected packet", zap.String("filename", canonical), zap.Error(err))
		return
	}

	league, err := w.store.LeagueByKey(ctx, info.League, info.Game)
	if err != nil {
		metrics.WatcherEventsTotal.WithLabelValues("error").Inc()
		w.logger.Error("looking up league", zap.String("filename", canonical), zap.Error(err))
		return
	}
	if league == nil {
		// Not a league this hub serves; put the file back where the game
		// left it.
		metrics.WatcherEventsTotal.WithLabelValues("unknown_league").Inc()
		w.logger.Warn("no league for detected packet",
			zap.String("filename", canonical),
			zap.String("league", packet.FormatLeagueRef(info.League, info.Game)),
		)
		if err := os.Rename(dst, path); err != nil {
			w.logger.Error("restoring detected packet", zap.String("path", path), zap.Error(err))
		}
		return
	}

	_, err = w.store.UpsertOutbound(ctx, &catalog.Packet{
		Filename:       canonical,
		LeagueID:       league.ID,
		SourceBBSIndex: info.Source,
		DestBBSIndex:   info.Dest,
		SequenceNumber: info.Sequence,
		Payload:        payload,
		Size:           len(payload),
		Checksum:       checksum(payload),
	})
	if err != nil {
		metrics.WatcherEventsTotal.WithLabelValues("error").Inc()
		w.logger.Error("registering detected packet", zap.String("filename", canonical), zap.Error(err))
		return
	}

	metrics.WatcherEventsTotal.WithLabelValues("registered").Inc()
	w.bus.Publish(bus.Event{
		Type:         bus.TypePacketAvailable,
		Filename:     canonical,
		Source:       info.Source,
		Dest:         info.Dest,
		LeagueNumber: info.League,
		Game:         packet.GameKey(info.Game),
	})
	w.logger.Info("registered hub-generated packet", zap.String("filename", canonical))
}

func (w *Watcher) vanished(filename string) {
	metrics.WatcherEventsTotal.WithLabelValues("vanished").Inc()
	w.logger.Debug("detected file gone, likely taken by a batch", zap.String("filename", filename))
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func fileSize(path string) (int64, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return fi.Size(), true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
