package processing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"

	"github.com/nova-hub/nova-hub/internal/bus"
	"github.com/nova-hub/nova-hub/internal/catalog"
	"github.com/nova-hub/nova-hub/internal/dosemu"
	"github.com/nova-hub/nova-hub/internal/hubfs"
	"github.com/nova-hub/nova-hub/internal/metrics"
	"github.com/nova-hub/nova-hub/internal/packet"
	"go.uber.org/zap"
)

// Score screens the games regenerate after every processing pass.
var scoreFilenames = []string{
	"BBSLAND.ANS",
	"BBSSCORE.ANS",
	"BBSWLAND.ANS",
	"BBSWORTH.ANS",
	"PLYLAND.ANS",
	"PLYSCORE.ANS",
	"PLYWLAND.ANS",
	"PLYWORTH.ANS",
	"SCORES.ANS",
	"YESNEWS.ANS",
	"TDYNEWS.ANS",
}

// collectOutbound drains one game-outbound directory into the hub mailbox.
// Nodelists fan out to every league member; regular packets are normalized
// and upserted. Per-file failures are logged and the scan continues.
func (p *Processor) collectOutbound(ctx context.Context, runID *int64, number string, game byte, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Error("reading outbound dir", zap.String("dir", dir), zap.Error(err))
		}
		return
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		src := filepath.Join(dir, name)

		if packet.IsNodelist(name) {
			p.fanOutNodelist(ctx, runID, src, name)
			continue
		}

		info, err := packet.Parse(name)
		if err != nil {
			p.logger.Warn("unrecognized file in outbound dir",
				zap.String("dir", dir), zap.String("filename", name))
			continue
		}
		if info.Dest == p.cfg.Hub.BBSIndex {
			// Addressed to the hub itself; the watcher path consumes these.
			continue
		}
		if info.League != number || info.Game != game {
			p.logger.Warn("outbound packet for foreign league",
				zap.String("filename", name), zap.String("expected", packet.FormatLeagueRef(number, game)))
		}

		league, err := p.store.GetOrCreateLeague(ctx, info.League, info.Game)
		if err != nil {
			p.logger.Error("resolving league for outbound packet",
				zap.String("filename", name), zap.Error(err))
			continue
		}

		payload, err := os.ReadFile(src)
		if err != nil {
			p.logger.Error("reading outbound packet", zap.String("path", src), zap.Error(err))
			continue
		}

		canonical := info.Filename()
		if _, err := hubfs.MoveCanonical(src, p.layout.Outbound(), canonical); err != nil {
			p.logger.Error("moving outbound packet", zap.String("filename", canonical), zap.Error(err))
			continue
		}

		_, err = p.store.UpsertOutbound(ctx, &catalog.Packet{
			Filename:        canonical,
			LeagueID:        league.ID,
			SourceBBSIndex:  info.Source,
			DestBBSIndex:    info.Dest,
			SequenceNumber:  info.Sequence,
			Payload:         payload,
			Size:            len(payload),
			Checksum:        checksum(payload),
			ProcessingRunID: runID,
		})
		if err != nil {
			p.logger.Error("upserting outbound packet", zap.String("filename", canonical), zap.Error(err))
			continue
		}

		metrics.PacketsCollectedTotal.WithLabelValues("game").Inc()
		p.bus.Publish(bus.Event{
			Type:         bus.TypePacketAvailable,
			Filename:     canonical,
			Source:       info.Source,
			Dest:         info.Dest,
			LeagueNumber: info.League,
			Game:         packet.GameKey(info.Game),
		})
	}
}

// fanOutNodelist publishes a hub-generated node directory to every active
// member of its league. Regeneration updates the existing member rows in
// place rather than creating new ones.
func (p *Processor) fanOutNodelist(ctx context.Context, runID *int64, src, name string) {
	number, game, ok := packet.NodelistLeague(name)
	if !ok {
		return
	}
	canonical := packet.NodelistName(number, game)

	dst, err := hubfs.MoveCanonical(src, p.layout.NodelistDir(game, number), canonical)
	if err != nil {
		p.logger.Error("moving nodelist", zap.String("filename", name), zap.Error(err))
		return
	}
	payload, err := os.ReadFile(dst)
	if err != nil {
		p.logger.Error("reading nodelist", zap.String("path", dst), zap.Error(err))
		return
	}

	league, err := p.store.GetOrCreateLeague(ctx, number, game)
	if err != nil {
		p.logger.Error("resolving league for nodelist", zap.String("filename", canonical), zap.Error(err))
		return
	}
	members, err := p.store.ActiveMemberships(ctx, league.ID)
	if err != nil {
		p.logger.Error("listing members for nodelist", zap.String("filename", canonical), zap.Error(err))
		return
	}

	sum := checksum(payload)
	for _, m := range members {
		clientID := m.ClientID
		destIdx := packet.FormatBBSIndex(m.BBSIndex)
		_, err := p.store.UpsertOutbound(ctx, &catalog.Packet{
			Filename:        canonical,
			LeagueID:        league.ID,
			SourceBBSIndex:  "00",
			DestBBSIndex:    destIdx,
			SequenceNumber:  0,
			DestClientID:    &clientID,
			Payload:         payload,
			Size:            len(payload),
			Checksum:        sum,
			ProcessingRunID: runID,
		})
		if err != nil {
			p.logger.Error("upserting nodelist row",
				zap.String("filename", canonical),
				zap.Int("bbs_index", m.BBSIndex),
				zap.Error(err))
			continue
		}
		// One event per member so per-destination listeners see their copy.
		p.bus.Publish(bus.Event{
			Type:         bus.TypeNodelistAvailable,
			Filename:     canonical,
			Dest:         destIdx,
			LeagueNumber: number,
			Game:         packet.GameKey(game),
		})
	}

	metrics.PacketsCollectedTotal.WithLabelValues("nodelist").Inc()
	p.logger.Info("nodelist fanned out",
		zap.String("filename", canonical),
		zap.Int("members", len(members)),
	)
}

// ingestArtifacts runs the optional reporting commands and persists the
// score screens and routing lists the game wrote. All failures here are
// warnings; artifacts are best-effort.
func (p *Processor) ingestArtifacts(ctx context.Context, runID int64, number string, game byte) {
	gc := p.cfg.League(number, game)
	if gc == nil {
		return
	}

	for _, key := range []dosemu.CommandKey{dosemu.CommandScores, dosemu.CommandRouteinfo, dosemu.CommandBBSInfo} {
		res, err := p.runner.Run(ctx, number, game, key)
		if err != nil {
			if !errors.Is(err, dosemu.ErrNoCommand) {
				p.logger.Warn("artifact command failed",
					zap.String("command", string(key)), zap.Error(err))
			}
			continue
		}
		if res.Status != dosemu.StatusSuccess {
			p.logger.Warn("artifact command unsuccessful",
				zap.String("command", string(key)), zap.String("status", string(res.Status)))
		}
	}

	if gc.ScoresFolder != "" {
		for _, name := range scoreFilenames {
			p.saveArtifact(ctx, runID, catalog.ArtifactScore, gc.ScoresFolder, name)
		}
	}
	if gc.GameFolder != "" {
		p.saveArtifact(ctx, runID, catalog.ArtifactRoutes, gc.GameFolder, "ROUTES.LST")
		p.saveArtifact(ctx, runID, catalog.ArtifactBBSInfo, gc.GameFolder, "BBSINFO.LST")
	}
}

func (p *Processor) saveArtifact(ctx context.Context, runID int64, fileType, dir, name string) {
	path := hubfs.FindInsensitive(dir, name)
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		p.logger.Warn("reading artifact", zap.String("path", path), zap.Error(err))
		return
	}
	err = p.store.AddArtifact(ctx, &catalog.Artifact{
		RunID:    runID,
		FileType: fileType,
		Filename: filepath.Base(path),
		Content:  string(data),
		Size:     len(data),
	})
	if err != nil {
		p.logger.Warn("storing artifact", zap.String("filename", name), zap.Error(err))
	}
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
