// Package httpapi is the hub's service boundary: authenticated packet
// upload/list/download, token issuance, WebSocket event streams, and the
// health and metrics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/nova-hub/nova-hub/internal/bus"
	"github.com/nova-hub/nova-hub/internal/catalog"
	"github.com/nova-hub/nova-hub/internal/config"
	"github.com/nova-hub/nova-hub/internal/hubfs"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Store is the catalog surface the boundary needs.
type Store interface {
	ClientByClientID(ctx context.Context, clientID string) (*catalog.Client, error)
	TouchClientSeen(ctx context.Context, id int64)
	GetOrCreateLeague(ctx context.Context, number string, game byte) (*catalog.League, error)
	LeagueByKey(ctx context.Context, number string, game byte) (*catalog.League, error)
	ActiveMembership(ctx context.Context, clientID, leagueID int64) (*catalog.Membership, error)
	SaveUploaded(ctx context.Context, p *catalog.Packet) (*catalog.Packet, error)
	DeletePacket(ctx context.Context, packetID int64) error
	PacketsForDest(ctx context.Context, leagueID int64, destIdx string, unreadOnly bool) ([]*catalog.Packet, error)
	PacketForDownload(ctx context.Context, filename string) (*catalog.Packet, error)
	NodelistPacket(ctx context.Context, filename string, leagueID int64, destIdx string) (*catalog.Packet, error)
	MarkDownloaded(ctx context.Context, packetID int64) error
	Stats(ctx context.Context) (catalog.Stats, error)
}

// DBChecker abstracts the readiness database check.
type DBChecker interface {
	Ping(ctx context.Context) error
}

// Processor is the batch trigger hook; fire-and-forget.
type Processor interface {
	Trigger()
}

type Server struct {
	srv       *http.Server
	store     Store
	dbChecker DBChecker
	bus       *bus.Bus
	layout    hubfs.Layout
	cfg       *config.Config
	processor Processor
	logger    *zap.Logger
}

func NewServer(cfg *config.Config, store Store, dbChecker DBChecker, b *bus.Bus, layout hubfs.Layout, processor Processor, logger *zap.Logger) *Server {
	s := &Server{
		store:     store,
		dbChecker: dbChecker,
		bus:       b,
		layout:    layout,
		cfg:       cfg,
		processor: processor,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /service/api/v1/auth/token", s.handleToken)
	mux.Handle("PUT /service/api/v1/leagues/{league}/packets/{filename}", s.auth(s.handleUpload))
	mux.Handle("GET /service/api/v1/leagues/{league}/packets", s.auth(s.handleList))
	mux.Handle("GET /service/api/v1/leagues/{league}/packets/{filename}", s.auth(s.handleDownload))
	mux.Handle("GET /ws/client/{bbs}", s.auth(s.handleClientWS))
	mux.HandleFunc("GET /ws/dashboard", s.handleDashboardWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    cfg.Server.HTTPListen,
		Handler: mux,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	if s.dbChecker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.dbChecker.Ping(ctx); err != nil {
			checks["postgres"] = "error"
			allOK = false
		} else {
			checks["postgres"] = "ok"
		}
	} else {
		checks["postgres"] = "error"
		allOK = false
	}

	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]any{"status": status, "checks": checks})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// detail writes the boundary's uniform error payload.
func detail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
