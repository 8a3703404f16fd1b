// Package catalog is the authoritative store for clients, leagues,
// memberships, packets, processing runs and sequence alerts. Writes are
// per-row transactions; invariants are enforced by point lookups before
// write, backed by partial unique indexes.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nova-hub/nova-hub/internal/metrics"
	"github.com/nova-hub/nova-hub/internal/packet"
	"go.uber.org/zap"
)

type Catalog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func New(pool *pgxpool.Pool, logger *zap.Logger) *Catalog {
	return &Catalog{pool: pool, logger: logger}
}

func (c *Catalog) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// --- Clients ---

const clientColumns = `id, client_id, hashed_secret, bbs_name,
	COALESCE(contact_name, ''), COALESCE(contact_email, ''),
	is_active, created_at, last_seen_at`

func scanClient(row pgx.Row) (*Client, error) {
	var cl Client
	err := row.Scan(&cl.ID, &cl.ClientID, &cl.HashedSecret, &cl.BBSName,
		&cl.ContactName, &cl.ContactEmail, &cl.IsActive, &cl.CreatedAt, &cl.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning client: %w", err)
	}
	return &cl, nil
}

// ClientByClientID looks up a client by its opaque identifier. Returns
// (nil, nil) when absent.
func (c *Catalog) ClientByClientID(ctx context.Context, clientID string) (*Client, error) {
	row := c.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE client_id = $1`, clientID)
	return scanClient(row)
}

func (c *Catalog) ClientByID(ctx context.Context, id int64) (*Client, error) {
	row := c.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)
	return scanClient(row)
}

func (c *Catalog) CreateClient(ctx context.Context, clientID, hashedSecret, bbsName string) (*Client, error) {
	row := c.pool.QueryRow(ctx, `
		INSERT INTO clients (client_id, hashed_secret, bbs_name)
		VALUES ($1, $2, $3)
		RETURNING `+clientColumns,
		clientID, hashedSecret, bbsName)
	return scanClient(row)
}

// TouchClientSeen stamps last_seen_at; failures are logged, not propagated,
// since the stamp is advisory.
func (c *Catalog) TouchClientSeen(ctx context.Context, id int64) {
	if _, err := c.pool.Exec(ctx,
		`UPDATE clients SET last_seen_at = now() WHERE id = $1`, id); err != nil {
		c.logger.Warn("updating client last_seen_at", zap.Int64("client_id", id), zap.Error(err))
	}
}

// --- Leagues ---

const leagueColumns = `id, league_number, game_type, name, COALESCE(description, ''), is_active, created_at`

func scanLeague(row pgx.Row) (*League, error) {
	var l League
	var game string
	err := row.Scan(&l.ID, &l.LeagueNumber, &game, &l.Name, &l.Description, &l.IsActive, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning league: %w", err)
	}
	l.GameType = game[0]
	return &l, nil
}

// LeagueByKey looks up a league by (number, game type). Returns (nil, nil)
// when absent.
func (c *Catalog) LeagueByKey(ctx context.Context, number string, game byte) (*League, error) {
	row := c.pool.QueryRow(ctx,
		`SELECT `+leagueColumns+` FROM leagues WHERE league_number = $1 AND game_type = $2`,
		number, string(game))
	return scanLeague(row)
}

func (c *Catalog) LeagueByID(ctx context.Context, id int64) (*League, error) {
	row := c.pool.QueryRow(ctx,
		`SELECT `+leagueColumns+` FROM leagues WHERE id = $1`, id)
	return scanLeague(row)
}

// GetOrCreateLeague resolves a league, auto-creating it on first sight of a
// matching packet (upload-side policy; downloads never auto-create).
func (c *Catalog) GetOrCreateLeague(ctx context.Context, number string, game byte) (*League, error) {
	league, err := c.LeagueByKey(ctx, number, game)
	if err != nil || league != nil {
		return league, err
	}

	name := fmt.Sprintf("League %s - %s", number, packet.GameName(game))
	row := c.pool.QueryRow(ctx, `
		INSERT INTO leagues (league_number, game_type, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (league_number, game_type) DO UPDATE SET league_number = EXCLUDED.league_number
		RETURNING `+leagueColumns,
		number, string(game), name)
	league, err = scanLeague(row)
	if err != nil {
		return nil, err
	}
	c.logger.Info("auto-created league",
		zap.String("league", number),
		zap.String("game", string(game)),
	)
	return league, nil
}

func (c *Catalog) ActiveLeagues(ctx context.Context) ([]*League, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT `+leagueColumns+` FROM leagues WHERE is_active ORDER BY league_number, game_type`)
	if err != nil {
		return nil, fmt.Errorf("querying active leagues: %w", err)
	}
	defer rows.Close()

	var leagues []*League
	for rows.Next() {
		l, err := scanLeague(rows)
		if err != nil {
			return nil, err
		}
		leagues = append(leagues, l)
	}
	return leagues, rows.Err()
}

// --- Memberships ---

const membershipColumns = `id, client_id, league_id, bbs_index, fidonet_address, is_active, joined_at`

func scanMembership(row pgx.Row) (*Membership, error) {
	var m Membership
	err := row.Scan(&m.ID, &m.ClientID, &m.LeagueID, &m.BBSIndex, &m.FidonetAddress, &m.IsActive, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning membership: %w", err)
	}
	return &m, nil
}

// ActiveMembership is the authorization lookup: the caller's active
// membership in a league, or (nil, nil).
func (c *Catalog) ActiveMembership(ctx context.Context, clientID, leagueID int64) (*Membership, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT `+membershipColumns+` FROM league_memberships
		WHERE client_id = $1 AND league_id = $2 AND is_active`,
		clientID, leagueID)
	return scanMembership(row)
}

func (c *Catalog) ActiveMemberships(ctx context.Context, leagueID int64) ([]*Membership, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT `+membershipColumns+` FROM league_memberships
		WHERE league_id = $1 AND is_active ORDER BY bbs_index`,
		leagueID)
	if err != nil {
		return nil, fmt.Errorf("querying memberships: %w", err)
	}
	defer rows.Close()

	var members []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (c *Catalog) AddMembership(ctx context.Context, clientID, leagueID int64, bbsIndex int, fidonet string) (*Membership, error) {
	row := c.pool.QueryRow(ctx, `
		INSERT INTO league_memberships (client_id, league_id, bbs_index, fidonet_address)
		VALUES ($1, $2, $3, $4)
		RETURNING `+membershipColumns,
		clientID, leagueID, bbsIndex, fidonet)
	return scanMembership(row)
}

// --- Stats ---

func (c *Catalog) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM packets),
			(SELECT count(*) FROM clients),
			(SELECT count(*) FROM clients WHERE is_active),
			(SELECT count(*) FROM leagues WHERE is_active),
			(SELECT count(*) FROM sequence_alerts WHERE resolved_at IS NULL)`,
	).Scan(&s.TotalPackets, &s.TotalClients, &s.ActiveClients, &s.ActiveLeagues, &s.UnresolvedAlerts)
	if err != nil {
		return Stats{}, fmt.Errorf("querying stats: %w", err)
	}
	return s, nil
}

func observeWrite(table, op string, start time.Time) {
	metrics.DBWriteDuration.WithLabelValues(table, op).Observe(time.Since(start).Seconds())
}
