// Package retention removes delivered packets and old processing runs once
// they age past the configured retention window.
package retention

import (
	"context"
	"time"

	"github.com/nova-hub/nova-hub/internal/metrics"
	"go.uber.org/zap"
)

// Store is the catalog surface the janitor needs.
type Store interface {
	PurgeDownloadedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Janitor struct {
	store         Store
	retentionDays int
	interval      time.Duration
	logger        *zap.Logger
}

func New(store Store, retentionDays int, logger *zap.Logger) *Janitor {
	return &Janitor{
		store:         store,
		retentionDays: retentionDays,
		interval:      time.Hour,
		logger:        logger,
	}
}

// Start sweeps once immediately, then every interval until ctx is canceled.
// A retention of zero days disables the janitor entirely.
func (j *Janitor) Start(ctx context.Context) {
	if j.retentionDays <= 0 {
		j.logger.Info("retention disabled")
		return
	}
	go func() {
		j.Sweep(ctx)
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.Sweep(ctx)
			}
		}
	}()
}

// Sweep purges packets that have been both processed and downloaded before
// the cutoff, then processing runs that finished before it. Failures are
// logged and retried on the next tick.
func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -j.retentionDays)

	packets, err := j.store.PurgeDownloadedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("purging delivered packets", zap.Error(err))
	} else if packets > 0 {
		metrics.RetentionPurgedTotal.WithLabelValues("packets").Add(float64(packets))
	}

	runs, err := j.store.PurgeRunsBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("purging processing runs", zap.Error(err))
	} else if runs > 0 {
		metrics.RetentionPurgedTotal.WithLabelValues("runs").Add(float64(runs))
	}

	if packets > 0 || runs > 0 {
		j.logger.Info("retention sweep",
			zap.Time("cutoff", cutoff),
			zap.Int64("packets", packets),
			zap.Int64("runs", runs),
		)
	}
}
