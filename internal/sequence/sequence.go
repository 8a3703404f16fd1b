// Package sequence detects gaps in per-route packet sequence streams.
// Sequence numbers live in a circular space of size 1000; a large gap is a
// wrap transition, not missing traffic.
package sequence

import (
	"context"
	"fmt"
	"sort"

	"github.com/nova-hub/nova-hub/internal/catalog"
	"github.com/nova-hub/nova-hub/internal/packet"
	"go.uber.org/zap"
)

// WrapThreshold separates holes from wrap transitions. Any gap of this many
// sequences or more is read as the stream cycling back through zero.
const WrapThreshold = 500

// Gap is one missing sequence index on a route.
type Gap struct {
	Expected int // the missing sequence
	Received int // the sequence whose arrival exposed the hole
	Size     int // total width of the hole this gap belongs to
}

// FindGaps scans a route's received sequence numbers and returns one Gap per
// missing index. Input order does not matter; duplicates are ignored.
func FindGaps(seqs []int) []Gap {
	uniq := make([]int, 0, len(seqs))
	seen := make(map[int]bool, len(seqs))
	for _, s := range seqs {
		if !seen[s] {
			seen[s] = true
			uniq = append(uniq, s)
		}
	}
	if len(uniq) < 2 {
		return nil
	}
	sort.Ints(uniq)

	// Locate the largest inter-arrival gap and compare it to the gap across
	// the 999->0 boundary. When the largest gap is wider than the boundary
	// gap (and wide enough to be a wrap), the stream wrapped mid-window: the
	// splice point is the wrap, so rotate the view to start after it.
	maxGap, maxIdx := 0, -1
	for i := 0; i < len(uniq)-1; i++ {
		if g := uniq[i+1] - uniq[i]; g > maxGap {
			maxGap, maxIdx = g, i
		}
	}
	wrapGap := (packet.SequenceSpace - uniq[len(uniq)-1]) + uniq[0]

	view := uniq
	if maxGap > WrapThreshold && maxGap > wrapGap {
		view = append(append([]int{}, uniq[maxIdx+1:]...), uniq[:maxIdx+1]...)
	}

	var gaps []Gap
	for i := 0; i < len(view)-1; i++ {
		c, n := view[i], view[i+1]
		var size int
		if n > c {
			size = n - c - 1
		} else {
			size = (packet.SequenceSpace - c - 1) + n
		}
		if size <= 0 || size >= WrapThreshold {
			continue
		}
		for j := 0; j < size; j++ {
			gaps = append(gaps, Gap{
				Expected: (c + 1 + j) % packet.SequenceSpace,
				Received: n,
				Size:     size,
			})
		}
	}
	return gaps
}

// Store is the catalog surface the validator needs.
type Store interface {
	Routes(ctx context.Context) ([]catalog.Route, error)
	SequencesForRoute(ctx context.Context, r catalog.Route) ([]int, error)
	UnresolvedAlertExists(ctx context.Context, r catalog.Route, expected int) (bool, error)
	CreateAlert(ctx context.Context, a *catalog.Alert) (*catalog.Alert, error)
	UnresolvedAlerts(ctx context.Context) ([]*catalog.Alert, error)
	HasPacket(ctx context.Context, r catalog.Route, seq int) (bool, error)
	ResolveAlert(ctx context.Context, alertID int64, note string) error
}

type Validator struct {
	store  Store
	logger *zap.Logger
}

func NewValidator(store Store, logger *zap.Logger) *Validator {
	return &Validator{store: store, logger: logger}
}

// CheckRoute finds gaps on one route and opens alerts for those without an
// existing open alert. Returns the number of alerts created.
func (v *Validator) CheckRoute(ctx context.Context, r catalog.Route) (int, error) {
	seqs, err := v.store.SequencesForRoute(ctx, r)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, g := range FindGaps(seqs) {
		open, err := v.store.UnresolvedAlertExists(ctx, r, g.Expected)
		if err != nil {
			return created, err
		}
		if open {
			continue
		}
		_, err = v.store.CreateAlert(ctx, &catalog.Alert{
			LeagueID:         r.LeagueID,
			SourceBBSIndex:   r.SourceBBSIndex,
			DestBBSIndex:     r.DestBBSIndex,
			ExpectedSequence: g.Expected,
			ReceivedSequence: g.Received,
			GapSize:          g.Size,
			Description: fmt.Sprintf("missing sequence %03d on route %s->%s (received %03d, gap of %d)",
				g.Expected, r.SourceBBSIndex, r.DestBBSIndex, g.Received, g.Size),
		})
		if err != nil {
			return created, err
		}
		created++
		v.logger.Warn("sequence gap detected",
			zap.Int64("league_id", r.LeagueID),
			zap.String("source", r.SourceBBSIndex),
			zap.String("dest", r.DestBBSIndex),
			zap.Int("expected", g.Expected),
			zap.Int("received", g.Received),
		)
	}
	return created, nil
}

// CheckAll sweeps every route that has packets.
func (v *Validator) CheckAll(ctx context.Context) (int, error) {
	routes, err := v.store.Routes(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, r := range routes {
		n, err := v.CheckRoute(ctx, r)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// AutoResolve closes open alerts whose expected sequence has since arrived.
func (v *Validator) AutoResolve(ctx context.Context) (int, error) {
	alerts, err := v.store.UnresolvedAlerts(ctx)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, a := range alerts {
		r := catalog.Route{
			LeagueID:       a.LeagueID,
			SourceBBSIndex: a.SourceBBSIndex,
			DestBBSIndex:   a.DestBBSIndex,
		}
		have, err := v.store.HasPacket(ctx, r, a.ExpectedSequence)
		if err != nil {
			return resolved, err
		}
		if !have {
			continue
		}
		if err := v.store.ResolveAlert(ctx, a.ID, "received"); err != nil {
			return resolved, err
		}
		resolved++
		v.logger.Info("sequence alert resolved",
			zap.Int64("alert_id", a.ID),
			zap.Int("expected", a.ExpectedSequence),
		)
	}
	return resolved, nil
}
