package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nova-hub/nova-hub/internal/bus"
	"github.com/nova-hub/nova-hub/internal/packet"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
)

// Callers are BBS mailer software, not browsers; no origin restriction.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleClientWS streams packet_available / nodelist_available events for
// one destination BBS index.
func (s *Server) handleClientWS(w http.ResponseWriter, r *http.Request) {
	bbs := strings.ToUpper(r.PathValue("bbs"))
	if _, err := packet.ParseBBSIndex(bbs); err != nil || len(bbs) != 2 {
		detail(w, http.StatusBadRequest, "malformed BBS index")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.serveConn(conn, s.bus.SubscribeDest(bbs), nil)
}

// handleDashboardWS streams every bus event, preceded by a stats snapshot.
func (s *Server) handleDashboardWS(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("collecting stats snapshot", zap.Error(err))
		detail(w, http.StatusInternalServerError, "internal error")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	initial := &bus.Event{Type: bus.TypeInitialStats, Stats: &stats, Timestamp: time.Now().UTC()}
	s.serveConn(conn, s.bus.SubscribeDashboard(), initial)
}

// serveConn pumps bus events to one socket. Any text from the peer is
// answered with a pong record (keepalive for primitive mailer clients).
func (s *Server) serveConn(conn *websocket.Conn, sub *bus.Subscriber, initial *bus.Event) {
	defer s.bus.Unsubscribe(sub)
	defer conn.Close()

	pongs := make(chan struct{}, 4)
	done := make(chan struct{})

	go func() {
		defer close(done)
		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			msgType, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.SetReadDeadline(time.Now().Add(pongWait))
			if msgType == websocket.TextMessage {
				select {
				case pongs <- struct{}{}:
				default:
				}
			}
		}
	}()

	if initial != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(initial); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Dropped by the bus (slow consumer).
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-pongs:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(map[string]string{"type": "pong"}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
