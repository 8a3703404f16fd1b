package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nova-hub/nova-hub/internal/metrics"
)

const alertColumns = `id, league_id, source_bbs_index, dest_bbs_index,
	expected_sequence, received_sequence, gap_size, detected_at, resolved_at,
	COALESCE(description, ''), COALESCE(resolution_note, '')`

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.LeagueID, &a.SourceBBSIndex, &a.DestBBSIndex,
		&a.ExpectedSequence, &a.ReceivedSequence, &a.GapSize, &a.DetectedAt, &a.ResolvedAt,
		&a.Description, &a.ResolutionNote)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning alert: %w", err)
	}
	return &a, nil
}

// UnresolvedAlertExists reports whether the gap already has an open alert, so
// repeated sweeps stay idempotent.
func (c *Catalog) UnresolvedAlertExists(ctx context.Context, r Route, expected int) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sequence_alerts
			WHERE league_id = $1 AND source_bbs_index = $2 AND dest_bbs_index = $3
				AND expected_sequence = $4 AND resolved_at IS NULL
		)`,
		r.LeagueID, r.SourceBBSIndex, r.DestBBSIndex, expected).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking open alert: %w", err)
	}
	return exists, nil
}

// CreateAlert opens a gap alert. The partial unique index on open alerts makes
// concurrent sweeps safe: the duplicate insert is absorbed.
func (c *Catalog) CreateAlert(ctx context.Context, a *Alert) (*Alert, error) {
	start := time.Now()
	row := c.pool.QueryRow(ctx, `
		INSERT INTO sequence_alerts (league_id, source_bbs_index, dest_bbs_index,
			expected_sequence, received_sequence, gap_size, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (league_id, source_bbs_index, dest_bbs_index, expected_sequence)
			WHERE resolved_at IS NULL
		DO UPDATE SET received_sequence = EXCLUDED.received_sequence
		RETURNING `+alertColumns,
		a.LeagueID, a.SourceBBSIndex, a.DestBBSIndex,
		a.ExpectedSequence, a.ReceivedSequence, a.GapSize, a.Description)
	saved, err := scanAlert(row)
	if err != nil {
		return nil, fmt.Errorf("creating alert: %w", err)
	}
	metrics.SequenceAlertsTotal.WithLabelValues("created").Inc()
	observeWrite("sequence_alerts", "create", start)
	return saved, nil
}

// UnresolvedAlerts lists open alerts, oldest first.
func (c *Catalog) UnresolvedAlerts(ctx context.Context) ([]*Alert, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT `+alertColumns+` FROM sequence_alerts WHERE resolved_at IS NULL ORDER BY detected_at`)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ResolveAlert closes an alert with a note saying why.
func (c *Catalog) ResolveAlert(ctx context.Context, alertID int64, note string) error {
	start := time.Now()
	_, err := c.pool.Exec(ctx, `
		UPDATE sequence_alerts SET resolved_at = now(), resolution_note = $2
		WHERE id = $1 AND resolved_at IS NULL`,
		alertID, note)
	if err != nil {
		return fmt.Errorf("resolving alert %d: %w", alertID, err)
	}
	metrics.SequenceAlertsTotal.WithLabelValues("resolved").Inc()
	observeWrite("sequence_alerts", "resolve", start)
	return nil
}
