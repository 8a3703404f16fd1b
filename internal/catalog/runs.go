package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const runColumns = `id, league_id, started_at, completed_at, status,
	packets_processed, packets_failed, exit_code, output_log, COALESCE(error_message, '')`

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.LeagueID, &r.StartedAt, &r.CompletedAt, &r.Status,
		&r.PacketsProcessed, &r.PacketsFailed, &r.ExitCode, &r.OutputLog, &r.ErrorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	return &r, nil
}

// CreateRun opens a new processing run in the running state.
func (c *Catalog) CreateRun(ctx context.Context) (*Run, error) {
	start := time.Now()
	row := c.pool.QueryRow(ctx, `
		INSERT INTO processing_runs (status) VALUES ($1) RETURNING `+runColumns,
		RunStatusRunning)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	observeWrite("processing_runs", "create", start)
	return run, nil
}

// FinishRun closes a run. A new run is a new row; there is no back-edge to
// running.
func (c *Catalog) FinishRun(ctx context.Context, runID int64, status string, processed, failed int, exitCode *int, outputLog []byte, errMsg string) error {
	start := time.Now()
	_, err := c.pool.Exec(ctx, `
		UPDATE processing_runs SET
			completed_at = now(), status = $2, packets_processed = $3,
			packets_failed = $4, exit_code = $5, output_log = $6, error_message = NULLIF($7, '')
		WHERE id = $1`,
		runID, status, processed, failed, exitCode, outputLog, errMsg)
	if err != nil {
		return fmt.Errorf("finishing run %d: %w", runID, err)
	}
	observeWrite("processing_runs", "finish", start)
	return nil
}

func (c *Catalog) RunByID(ctx context.Context, id int64) (*Run, error) {
	row := c.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM processing_runs WHERE id = $1`, id)
	return scanRun(row)
}

// RecentRuns lists runs newest first for the operator dashboard.
func (c *Catalog) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT `+runColumns+` FROM processing_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// AddArtifact stores one file produced by a run.
func (c *Catalog) AddArtifact(ctx context.Context, a *Artifact) error {
	start := time.Now()
	_, err := c.pool.Exec(ctx, `
		INSERT INTO processing_artifacts (processing_run_id, file_type, filename, content, size)
		VALUES ($1, $2, $3, $4, $5)`,
		a.RunID, a.FileType, a.Filename, a.Content, a.Size)
	if err != nil {
		return fmt.Errorf("adding artifact %s: %w", a.Filename, err)
	}
	observeWrite("processing_artifacts", "insert", start)
	return nil
}

// PurgeRunsBefore deletes completed runs and their artifacts older than the
// cutoff. Packets referencing a purged run keep their processed stamps; the
// foreign key is cleared first.
func (c *Catalog) PurgeRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE packets SET processing_run_id = NULL
		WHERE processing_run_id IN (
			SELECT id FROM processing_runs WHERE status <> $1 AND started_at < $2
		)`,
		RunStatusRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("clearing run references: %w", err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM processing_artifacts
		WHERE processing_run_id IN (
			SELECT id FROM processing_runs WHERE status <> $1 AND started_at < $2
		)`,
		RunStatusRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging artifacts: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM processing_runs WHERE status <> $1 AND started_at < $2`,
		RunStatusRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging runs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit purge tx: %w", err)
	}

	observeWrite("processing_runs", "purge", start)
	return tag.RowsAffected(), nil
}
