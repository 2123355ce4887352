package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stone-miner/internal/config"
	"github.com/stone-miner/internal/domain"
)

// Repository provides PostgreSQL-based player storage
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(255) NOT NULL DEFAULT '',
			photo_url TEXT NOT NULL DEFAULT '',
			is_premium BOOLEAN NOT NULL DEFAULT FALSE,
			stones BIGINT NOT NULL DEFAULT 0,
			energy BIGINT NOT NULL DEFAULT 0,
			max_energy BIGINT NOT NULL DEFAULT 1000,
			energy_regen_rate BIGINT NOT NULL DEFAULT 1,
			stones_per_click BIGINT NOT NULL DEFAULT 1,
			auto_stones_per_second BIGINT NOT NULL DEFAULT 0,
			upgrades JSONB NOT NULL DEFAULT '[]',
			skins JSONB NOT NULL DEFAULT '[]',
			tasks_completed JSONB NOT NULL DEFAULT '[]',
			league VARCHAR(32) NOT NULL DEFAULT 'Pebble',
			referral_code VARCHAR(32) NOT NULL UNIQUE,
			referred_by VARCHAR(32) NOT NULL DEFAULT '',
			invited_friends JSONB NOT NULL DEFAULT '[]',
			referral_bonus BIGINT NOT NULL DEFAULT 0,
			airdrop_progress BIGINT NOT NULL DEFAULT 0,
			last_energy_update TIMESTAMPTZ,
			last_auto_production_update TIMESTAMPTZ,
			last_action_time TIMESTAMPTZ,
			refill_last_used TIMESTAMPTZ,
			boost_last_used TIMESTAMPTZ,
			boost_active_until TIMESTAMPTZ,
			last_online TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS economy_events (
			id UUID PRIMARY KEY,
			player_id VARCHAR(64) NOT NULL,
			action VARCHAR(32) NOT NULL,
			stones_delta BIGINT NOT NULL,
			stones_after BIGINT NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_players_league_stones ON players(league, stones DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_economy_events_player ON economy_events(player_id, created_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

const playerColumns = `
	id, username, photo_url, is_premium, stones, energy, max_energy,
	energy_regen_rate, stones_per_click, auto_stones_per_second,
	upgrades, skins, tasks_completed, league, referral_code, referred_by,
	invited_friends, referral_bonus, airdrop_progress,
	last_energy_update, last_auto_production_update, last_action_time,
	refill_last_used, boost_last_used, boost_active_until, last_online,
	version, created_at, updated_at`

// FindByIdentity loads a player by id
func (r *Repository) FindByIdentity(ctx context.Context, id string) (*domain.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE id = $1`
	p, err := scanPlayer(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("player %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("finding player: %w", err)
	}
	return p, nil
}

// FindByReferralCode loads the player owning a referral code
func (r *Repository) FindByReferralCode(ctx context.Context, code string) (*domain.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE referral_code = $1`
	p, err := scanPlayer(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("referral code %s: %w", code, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("finding player by referral code: %w", err)
	}
	return p, nil
}

// Create inserts a new player. An existing id or referral code is a conflict.
func (r *Repository) Create(ctx context.Context, p *domain.Player) error {
	args, err := playerArgs(p)
	if err != nil {
		return err
	}
	query := `INSERT INTO players (` + playerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)`
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("player %s: %w", p.ID, domain.ErrConflict)
		}
		return fmt.Errorf("creating player: %w", err)
	}
	return nil
}

// Save writes the full player row unless the stored version is newer.
func (r *Repository) Save(ctx context.Context, p *domain.Player) error {
	args, err := playerArgs(p)
	if err != nil {
		return err
	}
	query := `
		UPDATE players SET
			username = $2, photo_url = $3, is_premium = $4, stones = $5, energy = $6,
			max_energy = $7, energy_regen_rate = $8, stones_per_click = $9,
			auto_stones_per_second = $10, upgrades = $11, skins = $12,
			tasks_completed = $13, league = $14, referral_code = $15, referred_by = $16,
			invited_friends = $17, referral_bonus = $18, airdrop_progress = $19,
			last_energy_update = $20, last_auto_production_update = $21,
			last_action_time = $22, refill_last_used = $23, boost_last_used = $24,
			boost_active_until = $25, last_online = $26, version = $27,
			created_at = COALESCE(created_at, $28), updated_at = $29
		WHERE id = $1 AND version <= $27
	`
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("saving player: %w", err)
	}
	if result.RowsAffected() == 0 {
		r.logger.Debug("save skipped, stored version is newer or row missing",
			"player_id", p.ID, "version", p.Version)
	}
	return nil
}

// TouchActionTime persists only the last action time.
func (r *Repository) TouchActionTime(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE players SET last_action_time = $2 WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("touching action time: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("player %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// BulkUpsertSnapshots writes cached partial state for many players in one
// round trip. Rows with a newer stored version are left alone.
func (r *Repository) BulkUpsertSnapshots(ctx context.Context, snapshots map[string]domain.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		UPDATE players SET
			stones = $2, auto_stones_per_second = $3, last_auto_production_update = $4,
			league = $5, version = $6, updated_at = $7
		WHERE id = $1 AND version <= $6
	`
	now := time.Now()

	for id, s := range snapshots {
		batch.Queue(query, id, s.Stones, s.AutoStonesPerSecond,
			nullTime(s.LastAutoProductionUpdate), string(s.League), s.Version, now)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range snapshots {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upserting snapshots: %w", err)
		}
	}
	return nil
}

// FindAllInLeague returns the top players of a league by stones.
func (r *Repository) FindAllInLeague(ctx context.Context, league domain.League, limit int) ([]domain.LeaderboardEntry, error) {
	query := `
		SELECT id, username, stones, photo_url, is_premium,
			   ROW_NUMBER() OVER (ORDER BY stones DESC, id ASC) as rank
		FROM players
		WHERE league = $1
		ORDER BY stones DESC, id ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, string(league), limit)
	if err != nil {
		return nil, fmt.Errorf("getting league players: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.PlayerID, &e.Username, &e.Stones, &e.PhotoURL, &e.IsPremium, &e.Rank); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FindFriends returns listing rows for the given ids.
func (r *Repository) FindFriends(ctx context.Context, ids []string) ([]domain.FriendView, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, username, stones, is_premium, photo_url
		FROM players
		WHERE id = ANY($1)
		ORDER BY stones DESC
	`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("getting friends: %w", err)
	}
	defer rows.Close()

	var friends []domain.FriendView
	for rows.Next() {
		var f domain.FriendView
		if err := rows.Scan(&f.PlayerID, &f.Username, &f.Stones, &f.IsPremium, &f.PhotoURL); err != nil {
			return nil, fmt.Errorf("scanning friend: %w", err)
		}
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

// ListIdentities pages player ids in ascending order after the given id.
func (r *Repository) ListIdentities(ctx context.Context, after string, limit int) ([]string, error) {
	query := `SELECT id FROM players WHERE id > $1 ORDER BY id ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, after, limit)
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning identity: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordEvent appends an economy event to the journal
func (r *Repository) RecordEvent(ctx context.Context, event domain.EconomyEvent) error {
	var metadataJSON []byte
	var err error
	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
	}

	query := `
		INSERT INTO economy_events (id, player_id, action, stones_delta, stones_after, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		event.ID,
		event.PlayerID,
		string(event.Action),
		event.StonesDelta,
		event.StonesAfter,
		metadataJSON,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// playerArgs flattens a player into positional arguments matching playerColumns.
func playerArgs(p *domain.Player) ([]any, error) {
	upgrades, err := json.Marshal(nonNil(p.Upgrades))
	if err != nil {
		return nil, fmt.Errorf("marshaling upgrades: %w", err)
	}
	skins, err := json.Marshal(nonNil(p.Skins))
	if err != nil {
		return nil, fmt.Errorf("marshaling skins: %w", err)
	}
	tasks, err := json.Marshal(nonNil(p.TasksCompleted))
	if err != nil {
		return nil, fmt.Errorf("marshaling tasks: %w", err)
	}
	friends, err := json.Marshal(nonNil(p.InvitedFriends))
	if err != nil {
		return nil, fmt.Errorf("marshaling friends: %w", err)
	}

	return []any{
		p.ID, p.Username, p.PhotoURL, p.IsPremium, p.Stones, p.Energy, p.MaxEnergy,
		p.EnergyRegenRate, p.StonesPerClick, p.AutoStonesPerSecond,
		upgrades, skins, tasks, string(p.League), p.ReferralCode, p.ReferredBy,
		friends, p.ReferralBonus, p.AirdropProgress,
		nullTime(p.LastEnergyUpdate), nullTime(p.LastAutoProductionUpdate), nullTime(p.LastActionTime),
		nullTime(p.RefillLastUsed), nullTime(p.BoostLastUsed), nullTime(p.BoostActiveUntil), nullTime(p.LastOnline),
		p.Version, p.CreatedAt, p.UpdatedAt,
	}, nil
}

func scanPlayer(row pgx.Row) (*domain.Player, error) {
	var (
		p                                    domain.Player
		league                               string
		upgrades, skins, tasks, friends      []byte
		energyAt, autoAt, actionAt, onlineAt *time.Time
		refillAt, boostAt, boostUntil        *time.Time
	)
	err := row.Scan(
		&p.ID, &p.Username, &p.PhotoURL, &p.IsPremium, &p.Stones, &p.Energy, &p.MaxEnergy,
		&p.EnergyRegenRate, &p.StonesPerClick, &p.AutoStonesPerSecond,
		&upgrades, &skins, &tasks, &league, &p.ReferralCode, &p.ReferredBy,
		&friends, &p.ReferralBonus, &p.AirdropProgress,
		&energyAt, &autoAt, &actionAt,
		&refillAt, &boostAt, &boostUntil, &onlineAt,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct {
		raw  []byte
		dest any
	}{
		{upgrades, &p.Upgrades},
		{skins, &p.Skins},
		{tasks, &p.TasksCompleted},
		{friends, &p.InvitedFriends},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dest); err != nil {
			return nil, fmt.Errorf("unmarshaling player %s: %w", p.ID, err)
		}
	}

	p.League = domain.League(league)
	p.LastEnergyUpdate = derefTime(energyAt)
	p.LastAutoProductionUpdate = derefTime(autoAt)
	p.LastActionTime = derefTime(actionAt)
	p.RefillLastUsed = derefTime(refillAt)
	p.BoostLastUsed = derefTime(boostAt)
	p.BoostActiveUntil = derefTime(boostUntil)
	p.LastOnline = derefTime(onlineAt)
	return &p, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
