package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const packetColumns = `id, filename, league_id, source_bbs_index, dest_bbs_index,
	sequence_number, source_client_id, dest_client_id, payload, size, checksum,
	uploaded_at, downloaded_at, processed_at, processing_run_id, is_processed, is_downloaded`

func scanPacket(row pgx.Row) (*Packet, error) {
	var p Packet
	err := row.Scan(&p.ID, &p.Filename, &p.LeagueID, &p.SourceBBSIndex, &p.DestBBSIndex,
		&p.SequenceNumber, &p.SourceClientID, &p.DestClientID, &p.Payload, &p.Size, &p.Checksum,
		&p.UploadedAt, &p.DownloadedAt, &p.ProcessedAt, &p.ProcessingRunID, &p.IsProcessed, &p.IsDownloaded)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning packet: %w", err)
	}
	return &p, nil
}

// SaveUploaded records an uploaded packet. Re-upload of the same filename is
// an idempotent replacement: payload and checksum are refreshed and all
// downstream flags reset so the packet re-enters the pipeline.
func (c *Catalog) SaveUploaded(ctx context.Context, p *Packet) (*Packet, error) {
	start := time.Now()
	row := c.pool.QueryRow(ctx, `
		INSERT INTO packets (filename, league_id, source_bbs_index, dest_bbs_index,
			sequence_number, source_client_id, payload, size, checksum)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (filename, league_id, dest_bbs_index) DO UPDATE SET
			source_bbs_index = EXCLUDED.source_bbs_index,
			sequence_number = EXCLUDED.sequence_number,
			source_client_id = EXCLUDED.source_client_id,
			payload = EXCLUDED.payload,
			size = EXCLUDED.size,
			checksum = EXCLUDED.checksum,
			uploaded_at = now(),
			downloaded_at = NULL,
			processed_at = NULL,
			processing_run_id = NULL,
			is_processed = FALSE,
			is_downloaded = FALSE
		RETURNING `+packetColumns,
		p.Filename, p.LeagueID, p.SourceBBSIndex, p.DestBBSIndex,
		p.SequenceNumber, p.SourceClientID, p.Payload, p.Size, p.Checksum)
	saved, err := scanPacket(row)
	if err != nil {
		return nil, fmt.Errorf("saving uploaded packet %s: %w", p.Filename, err)
	}
	observeWrite("packets", "upload", start)
	return saved, nil
}

// UpsertOutbound records a packet produced by the game. A duplicate
// normalized filename is the sequence-wraparound case: the row is updated in
// place and downloaded state cleared so destinations see it as new.
func (c *Catalog) UpsertOutbound(ctx context.Context, p *Packet) (*Packet, error) {
	start := time.Now()
	row := c.pool.QueryRow(ctx, `
		INSERT INTO packets (filename, league_id, source_bbs_index, dest_bbs_index,
			sequence_number, dest_client_id, payload, size, checksum,
			processing_run_id, is_processed, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, now())
		ON CONFLICT (filename, league_id, dest_bbs_index) DO UPDATE SET
			source_bbs_index = EXCLUDED.source_bbs_index,
			sequence_number = EXCLUDED.sequence_number,
			dest_client_id = EXCLUDED.dest_client_id,
			payload = EXCLUDED.payload,
			size = EXCLUDED.size,
			checksum = EXCLUDED.checksum,
			processing_run_id = EXCLUDED.processing_run_id,
			is_processed = TRUE,
			processed_at = now(),
			downloaded_at = NULL,
			is_downloaded = FALSE
		RETURNING `+packetColumns,
		p.Filename, p.LeagueID, p.SourceBBSIndex, p.DestBBSIndex,
		p.SequenceNumber, p.DestClientID, p.Payload, p.Size, p.Checksum,
		p.ProcessingRunID)
	saved, err := scanPacket(row)
	if err != nil {
		return nil, fmt.Errorf("upserting outbound packet %s: %w", p.Filename, err)
	}
	observeWrite("packets", "outbound", start)
	return saved, nil
}

// UnprocessedPackets selects the batch processor's work set.
func (c *Catalog) UnprocessedPackets(ctx context.Context) ([]*Packet, error) {
	return c.queryPackets(ctx,
		`SELECT `+packetColumns+` FROM packets WHERE processed_at IS NULL ORDER BY uploaded_at`)
}

// MarkProcessed stamps a packet as consumed by the given run.
func (c *Catalog) MarkProcessed(ctx context.Context, packetID, runID int64) error {
	start := time.Now()
	_, err := c.pool.Exec(ctx, `
		UPDATE packets SET processed_at = now(), is_processed = TRUE, processing_run_id = $2
		WHERE id = $1`,
		packetID, runID)
	if err != nil {
		return fmt.Errorf("marking packet %d processed: %w", packetID, err)
	}
	observeWrite("packets", "mark_processed", start)
	return nil
}

// MarkDownloaded stamps delivery on the egress path.
func (c *Catalog) MarkDownloaded(ctx context.Context, packetID int64) error {
	start := time.Now()
	_, err := c.pool.Exec(ctx, `
		UPDATE packets SET downloaded_at = now(), is_downloaded = TRUE WHERE id = $1`,
		packetID)
	if err != nil {
		return fmt.Errorf("marking packet %d downloaded: %w", packetID, err)
	}
	observeWrite("packets", "mark_downloaded", start)
	return nil
}

// PacketsForDest lists packets destined for one member of a league, newest
// first. unreadOnly filters to packets not yet downloaded.
func (c *Catalog) PacketsForDest(ctx context.Context, leagueID int64, destIdx string, unreadOnly bool) ([]*Packet, error) {
	q := `SELECT ` + packetColumns + ` FROM packets
		WHERE league_id = $1 AND dest_bbs_index = $2`
	if unreadOnly {
		q += ` AND downloaded_at IS NULL`
	}
	q += ` ORDER BY uploaded_at DESC`
	return c.queryPackets(ctx, q, leagueID, destIdx)
}

// PacketForDownload selects the row to serve for a filename, preferring
// undownloaded and newest when duplicates exist.
func (c *Catalog) PacketForDownload(ctx context.Context, filename string) (*Packet, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT `+packetColumns+` FROM packets WHERE filename = $1
		ORDER BY is_downloaded ASC, uploaded_at DESC
		LIMIT 1`,
		filename)
	return scanPacket(row)
}

// NodelistPacket finds the member-specific row for a nodelist filename.
func (c *Catalog) NodelistPacket(ctx context.Context, filename string, leagueID int64, destIdx string) (*Packet, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT `+packetColumns+` FROM packets
		WHERE filename = $1 AND league_id = $2 AND dest_bbs_index = $3`,
		filename, leagueID, destIdx)
	return scanPacket(row)
}

// HasPacket reports whether a packet exists for (route, sequence); used by
// alert auto-resolution.
func (c *Catalog) HasPacket(ctx context.Context, r Route, seq int) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM packets
			WHERE league_id = $1 AND source_bbs_index = $2 AND dest_bbs_index = $3 AND sequence_number = $4
		)`,
		r.LeagueID, r.SourceBBSIndex, r.DestBBSIndex, seq).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking packet existence: %w", err)
	}
	return exists, nil
}

// Routes returns every distinct sequence stream that has packets.
func (c *Catalog) Routes(ctx context.Context) ([]Route, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT DISTINCT league_id, source_bbs_index, dest_bbs_index FROM packets`)
	if err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	defer rows.Close()

	var routes []Route
	for rows.Next() {
		var r Route
		if err := rows.Scan(&r.LeagueID, &r.SourceBBSIndex, &r.DestBBSIndex); err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// SequencesForRoute returns the sequence numbers received on one route,
// sorted ascending.
func (c *Catalog) SequencesForRoute(ctx context.Context, r Route) ([]int, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT sequence_number FROM packets
		WHERE league_id = $1 AND source_bbs_index = $2 AND dest_bbs_index = $3
		ORDER BY sequence_number`,
		r.LeagueID, r.SourceBBSIndex, r.DestBBSIndex)
	if err != nil {
		return nil, fmt.Errorf("querying sequences: %w", err)
	}
	defer rows.Close()

	var seqs []int
	for rows.Next() {
		var s int
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning sequence: %w", err)
		}
		seqs = append(seqs, s)
	}
	return seqs, rows.Err()
}

// DeletePacket removes a row after a failed disk write so no catalog entry
// points at missing bytes.
func (c *Catalog) DeletePacket(ctx context.Context, packetID int64) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM packets WHERE id = $1`, packetID)
	if err != nil {
		return fmt.Errorf("deleting packet %d: %w", packetID, err)
	}
	return nil
}

// PurgeDownloadedBefore deletes delivered, processed packets older than the
// cutoff. Returns the number of rows removed.
func (c *Catalog) PurgeDownloadedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()
	tag, err := c.pool.Exec(ctx, `
		DELETE FROM packets
		WHERE is_downloaded AND is_processed AND downloaded_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging old packets: %w", err)
	}
	observeWrite("packets", "purge", start)
	return tag.RowsAffected(), nil
}

func (c *Catalog) queryPackets(ctx context.Context, q string, args ...any) ([]*Packet, error) {
	rows, err := c.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying packets: %w", err)
	}
	defer rows.Close()

	var packets []*Packet
	for rows.Next() {
		p, err := scanPacket(rows)
		if err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}
	return packets, rows.Err()
}
