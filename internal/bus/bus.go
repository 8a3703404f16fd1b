// Package bus is the in-process publish/subscribe fan-out for dashboard and
// per-destination listeners. Delivery is best-effort: a subscriber that
// cannot keep up is dropped, publishers never block.
package bus

import (
	"sync"
	"time"

	"github.com/nova-hub/nova-hub/internal/catalog"
	"github.com/nova-hub/nova-hub/internal/metrics"
	"go.uber.org/zap"
)

// Event types.
const (
	TypePacketAvailable    = "packet_available"
	TypePacketReceived     = "packet_received"
	TypeProcessingStarted  = "processing_started"
	TypeProcessingComplete = "processing_complete"
	TypeNodelistAvailable  = "nodelist_available"
	TypeAlertCreated       = "alert_created"
	TypeStatsUpdate        = "stats_update"
	TypeInitialStats       = "initial_stats"
)

// Event is one tagged record on the bus. Zero-valued fields are omitted on
// the wire.
type Event struct {
	Type         string         `json:"type"`
	Filename     string         `json:"filename,omitempty"`
	Source       string         `json:"source,omitempty"`
	Dest         string         `json:"dest,omitempty"`
	LeagueNumber string         `json:"league_number,omitempty"`
	Game         string         `json:"game,omitempty"`
	RunID        int64          `json:"run_id,omitempty"`
	AlertID      int64          `json:"alert_id,omitempty"`
	Stats        *catalog.Stats `json:"stats,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

const subscriberBuffer = 16

// Subscriber is one registered listener. Events arrives on C until the
// subscriber is dropped or unsubscribed, after which C is closed.
type Subscriber struct {
	C    chan Event
	dest string // empty for dashboard subscribers
}

type Bus struct {
	logger *zap.Logger

	mu        sync.Mutex
	dashboard map[*Subscriber]struct{}
	perDest   map[string]map[*Subscriber]struct{}
}

func New(logger *zap.Logger) *Bus {
	return &Bus{
		logger:    logger,
		dashboard: make(map[*Subscriber]struct{}),
		perDest:   make(map[string]map[*Subscriber]struct{}),
	}
}

// SubscribeDashboard registers a listener that receives every event.
func (b *Bus) SubscribeDashboard() *Subscriber {
	s := &Subscriber{C: make(chan Event, subscriberBuffer)}
	b.mu.Lock()
	b.dashboard[s] = struct{}{}
	b.mu.Unlock()
	metrics.EventSubscribers.WithLabelValues("dashboard").Inc()
	return s
}

// SubscribeDest registers a listener that receives only events addressed to
// one destination bbs index.
func (b *Bus) SubscribeDest(dest string) *Subscriber {
	s := &Subscriber{C: make(chan Event, subscriberBuffer), dest: dest}
	b.mu.Lock()
	if b.perDest[dest] == nil {
		b.perDest[dest] = make(map[*Subscriber]struct{})
	}
	b.perDest[dest][s] = struct{}{}
	b.mu.Unlock()
	metrics.EventSubscribers.WithLabelValues("client").Inc()
	return s
}

// Unsubscribe removes a listener and closes its channel. Safe to call after
// the subscriber has already been dropped.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(s)
}

func (b *Bus) removeLocked(s *Subscriber) {
	if s.dest == "" {
		if _, ok := b.dashboard[s]; !ok {
			return
		}
		delete(b.dashboard, s)
		metrics.EventSubscribers.WithLabelValues("dashboard").Dec()
	} else {
		set := b.perDest[s.dest]
		if _, ok := set[s]; !ok {
			return
		}
		delete(set, s)
		if len(set) == 0 {
			delete(b.perDest, s.dest)
		}
		metrics.EventSubscribers.WithLabelValues("client").Dec()
	}
	close(s.C)
}

// Publish fans an event out to every dashboard subscriber and, when the
// event carries a destination, to that destination's subscribers. A full
// subscriber channel means the listener is dead or stuck; it is dropped.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.dashboard {
		b.sendLocked(s, ev)
	}
	if ev.Dest != "" {
		for s := range b.perDest[ev.Dest] {
			b.sendLocked(s, ev)
		}
	}
	metrics.EventsPublishedTotal.WithLabelValues(ev.Type).Inc()
}

func (b *Bus) sendLocked(s *Subscriber, ev Event) {
	select {
	case s.C <- ev:
	default:
		b.logger.Debug("dropping slow event subscriber", zap.String("dest", s.dest))
		b.removeLocked(s)
	}
}
