package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nova-hub/nova-hub/internal/bus"
	"github.com/nova-hub/nova-hub/internal/catalog"
	"github.com/nova-hub/nova-hub/internal/hubfs"
	"github.com/nova-hub/nova-hub/internal/metrics"
	"github.com/nova-hub/nova-hub/internal/packet"
	"go.uber.org/zap"
)

// maxUploadBytes bounds a single packet body. Game packets are small; this
// is generous.
const maxUploadBytes = 32 << 20

// handleUpload is the ingress path: validate the filename against the URL
// and the caller's membership, persist payload and row, trigger a batch.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())
	filename := r.PathValue("filename")

	if packet.IsNodelist(filename) {
		metrics.RequestsRejectedTotal.WithLabelValues("upload", "nodelist").Inc()
		detail(w, http.StatusForbidden, "nodelists are hub-generated and cannot be uploaded")
		return
	}

	number, game, err := packet.ParseLeagueRef(r.PathValue("league"))
	if err != nil {
		detail(w, http.StatusBadRequest, err.Error())
		return
	}
	info, err := packet.Parse(filename)
	if err != nil {
		metrics.RequestsRejectedTotal.WithLabelValues("upload", "grammar").Inc()
		detail(w, http.StatusBadRequest, err.Error())
		return
	}
	if info.League != number || info.Game != game {
		metrics.RequestsRejectedTotal.WithLabelValues("upload", "mismatch").Inc()
		detail(w, http.StatusBadRequest, "filename does not match the league in the URL")
		return
	}

	league, err := s.store.GetOrCreateLeague(r.Context(), number, game)
	if err != nil {
		s.logger.Error("resolving league", zap.Error(err))
		detail(w, http.StatusInternalServerError, "internal error")
		return
	}

	membership, err := s.store.ActiveMembership(r.Context(), client.ID, league.ID)
	if err != nil {
		s.logger.Error("resolving membership", zap.Error(err))
		detail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if membership == nil {
		metrics.RequestsRejectedTotal.WithLabelValues("upload", "membership").Inc()
		detail(w, http.StatusForbidden, "no active membership in this league")
		return
	}
	if packet.FormatBBSIndex(membership.BBSIndex) != info.Source {
		metrics.RequestsRejectedTotal.WithLabelValues("upload", "source").Inc()
		detail(w, http.StatusForbidden, "filename source does not match your BBS index")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		detail(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}

	clientID := client.ID
	saved, err := s.store.SaveUploaded(r.Context(), &catalog.Packet{
		Filename:       info.Filename(),
		LeagueID:       league.ID,
		SourceBBSIndex: info.Source,
		DestBBSIndex:   info.Dest,
		SequenceNumber: info.Sequence,
		SourceClientID: &clientID,
		Payload:        payload,
		Size:           len(payload),
		Checksum:       sha256Hex(payload),
	})
	if err != nil {
		s.logger.Error("saving packet", zap.String("filename", info.Filename()), zap.Error(err))
		detail(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Payload and row commit together: a failed disk write rolls the row
	// back so no catalog entry points at missing bytes.
	path := filepath.Join(s.layout.Inbound(), saved.Filename)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		s.logger.Error("writing packet to inbound", zap.String("path", path), zap.Error(err))
		if delErr := s.store.DeletePacket(r.Context(), saved.ID); delErr != nil {
			s.logger.Error("rolling back packet row", zap.Int64("packet_id", saved.ID), zap.Error(delErr))
		}
		detail(w, http.StatusInternalServerError, "internal error")
		return
	}

	metrics.PacketsUploadedTotal.WithLabelValues(number, packet.GameKey(game)).Inc()
	s.bus.Publish(bus.Event{
		Type:         bus.TypePacketReceived,
		Filename:     saved.Filename,
		Source:       info.Source,
		Dest:         info.Dest,
		LeagueNumber: number,
		Game:         packet.GameKey(game),
	})
	s.processor.Trigger()

	s.logger.Info("packet uploaded",
		zap.String("filename", saved.Filename),
		zap.String("client", client.ClientID),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "received",
		"filename":  saved.Filename,
		"packet_id": saved.ID,
	})
}

type packetJSON struct {
	ID         int64      `json:"id"`
	Filename   string     `json:"filename"`
	Source     string     `json:"source_bbs_index"`
	Dest       string     `json:"dest_bbs_index"`
	Sequence   int        `json:"sequence_number"`
	Size       int        `json:"size"`
	Checksum   string     `json:"checksum"`
	UploadedAt time.Time  `json:"uploaded_at"`
	Downloaded *time.Time `json:"downloaded_at,omitempty"`
	Processed  bool       `json:"is_processed"`
}

func toPacketJSON(p *catalog.Packet) packetJSON {
	return packetJSON{
		ID:         p.ID,
		Filename:   p.Filename,
		Source:     p.SourceBBSIndex,
		Dest:       p.DestBBSIndex,
		Sequence:   p.SequenceNumber,
		Size:       p.Size,
		Checksum:   p.Checksum,
		UploadedAt: p.UploadedAt,
		Downloaded: p.DownloadedAt,
		Processed:  p.IsProcessed,
	}
}

// handleList returns the caller's waiting packets in a league, newest first.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())

	number, game, err := packet.ParseLeagueRef(r.PathValue("league"))
	if err != nil {
		detail(w, http.StatusBadRequest, err.Error())
		return
	}
	league, err := s.store.LeagueByKey(r.Context(), number, game)
	if err != nil {
		s.logger.Error("resolving league", zap.Error(err))
		detail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if league == nil {
		detail(w, http.StatusNotFound, "unknown league")
		return
	}
	membership, err := s.store.ActiveMembership(r.Context(), client.ID, league.ID)
	if err != nil {
		s.logger.Error("resolving membership", zap.Error(err))
		detail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if membership == nil {
		detail(w, http.StatusForbidden, "no active membership in this league")
		return
	}

	unread := r.URL.Query().Get("unread") == "true"
	packets, err := s.store.PacketsForDest(r.Context(),
		league.ID, packet.FormatBBSIndex(membership.BBSIndex), unread)
	if err != nil {
		s.logger.Error("listing packets", zap.Error(err))
		detail(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]packetJSON, 0, len(packets))
	for _, p := range packets {
		out = append(out, toPacketJSON(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"packets": out})
}

// handleDownload serves one packet (or the league nodelist) and stamps
// delivery. Downloads never auto-create leagues.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())
	filename := r.PathValue("filename")

	number, game, err := packet.ParseLeagueRef(r.PathValue("league"))
	if err != nil {
		detail(w, http.StatusBadRequest, err.Error())
		return
	}
	league, err := s.store.LeagueByKey(r.Context(), number, game)
	if err != nil {
		s.logger.Error("resolving league", zap.Error(err))
		detail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if league == nil {
		detail(w, http.StatusNotFound, "unknown league")
		return
	}
	membership, err := s.store.ActiveMembership(r.Context(), client.ID, league.ID)
	if err != nil {
		s.logger.Error("resolving membership", zap.Error(err))
		detail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if membership == nil {
		metrics.RequestsRejectedTotal.WithLabelValues("download", "membership").Inc()
		detail(w, http.StatusForbidden, "no active membership in this league")
		return
	}
	destIdx := packet.FormatBBSIndex(membership.BBSIndex)

	if packet.IsNodelist(filename) {
		s.serveNodelist(w, r, league, number, game, destIdx)
		return
	}

	info, err := packet.Parse(filename)
	if err != nil {
		detail(w, http.StatusBadRequest, err.Error())
		return
	}
	if info.League != number || info.Game != game {
		detail(w, http.StatusBadRequest, "filename does not match the league in the URL")
		return
	}
	if info.Dest != destIdx {
		metrics.RequestsRejectedTotal.WithLabelValues("download", "dest").Inc()
		detail(w, http.StatusForbidden, "packet is not addressed to your BBS index")
		return
	}

	row, err := s.store.PacketForDownload(r.Context(), info.Filename())
	if err != nil {
		s.logger.Error("selecting packet", zap.Error(err))
		detail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if row == nil {
		detail(w, http.StatusNotFound, "packet not found")
		return
	}

	payload := row.Payload
	if path := hubfs.FindInsensitive(s.layout.Outbound(), row.Filename); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			payload = data
		}
	}
	if payload == nil {
		detail(w, http.StatusNotFound, "packet payload unavailable")
		return
	}

	if err := s.store.MarkDownloaded(r.Context(), row.ID); err != nil {
		s.logger.Error("marking packet downloaded", zap.Int64("packet_id", row.ID), zap.Error(err))
	}
	metrics.PacketsDownloadedTotal.WithLabelValues(number, packet.GameKey(game), "packet").Inc()
	servePayload(w, row.Filename, payload)
}

func (s *Server) serveNodelist(w http.ResponseWriter, r *http.Request, league *catalog.League, number string, game byte, destIdx string) {
	canonical := packet.NodelistName(number, game)
	path := hubfs.FindInsensitive(s.layout.NodelistDir(game, number), canonical)
	if path == "" {
		detail(w, http.StatusNotFound, "nodelist not available")
		return
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		s.logger.Error("reading nodelist", zap.String("path", path), zap.Error(err))
		detail(w, http.StatusInternalServerError, "internal error")
		return
	}

	row, err := s.store.NodelistPacket(r.Context(), canonical, league.ID, destIdx)
	if err != nil {
		s.logger.Error("selecting nodelist row", zap.Error(err))
	} else if row != nil {
		if err := s.store.MarkDownloaded(r.Context(), row.ID); err != nil {
			s.logger.Error("marking nodelist downloaded", zap.Int64("packet_id", row.ID), zap.Error(err))
		}
	}

	metrics.PacketsDownloadedTotal.WithLabelValues(number, packet.GameKey(game), "nodelist").Inc()
	servePayload(w, canonical, payload)
}

func servePayload(w http.ResponseWriter, filename string, payload []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
