package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/stone-miner/internal/config"
	"github.com/stone-miner/internal/domain"
)

// LeagueRankings keeps one sorted set of players by stones per league
type LeagueRankings struct {
	client *redis.Client
	logger *slog.Logger
}

// NewLeagueRankings creates a new Redis ranking store
func NewLeagueRankings(cfg *config.RedisConfig, logger *slog.Logger) (*LeagueRankings, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewLeagueRankingsWithClient(client, logger), nil
}

// NewLeagueRankingsWithClient wraps an existing client
func NewLeagueRankingsWithClient(client *redis.Client, logger *slog.Logger) *LeagueRankings {
	return &LeagueRankings{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (s *LeagueRankings) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *LeagueRankings) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// leagueKey returns the Redis key for a league's sorted set
func leagueKey(league domain.League) string {
	return fmt.Sprintf("leaderboard:%s", league)
}

// playerInfoKey returns the Redis key for player display info
func playerInfoKey(playerID string) string {
	return fmt.Sprintf("player:%s:info", playerID)
}

// UpdatePlayer sets a player's stones in their league and drops them from
// the previous league when it changed.
func (s *LeagueRankings) UpdatePlayer(ctx context.Context, league, prevLeague domain.League, playerID string, stones int64) error {
	pipe := s.client.TxPipeline()
	if prevLeague != "" && prevLeague != league {
		pipe.ZRem(ctx, leagueKey(prevLeague), playerID)
	}
	pipe.ZAdd(ctx, leagueKey(league), redis.Z{
		Score:  float64(stones),
		Member: playerID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("updating league ranking: %w", err)
	}
	return nil
}

// SetPlayerInfo caches display fields shown next to a ranking entry
func (s *LeagueRankings) SetPlayerInfo(ctx context.Context, p *domain.Player) error {
	err := s.client.HSet(ctx, playerInfoKey(p.ID),
		"username", p.Username,
		"photo_url", p.PhotoURL,
		"is_premium", strconv.FormatBool(p.IsPremium),
	).Err()
	if err != nil {
		return fmt.Errorf("setting player info: %w", err)
	}
	return nil
}

// Top returns the n richest players of a league, highest first
func (s *LeagueRankings) Top(ctx context.Context, league domain.League, n int) ([]domain.LeaderboardEntry, error) {
	results, err := s.client.ZRevRangeWithScores(ctx, leagueKey(league), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	// Fetch display info in one round trip
	pipe := s.client.Pipeline()
	infos := make([]*redis.MapStringStringCmd, len(results))
	for i, result := range results {
		infos[i] = pipe.HGetAll(ctx, playerInfoKey(result.Member.(string)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		s.logger.Warn("failed to load player info for ranking", "league", league, "error", err)
	}

	entries := make([]domain.LeaderboardEntry, len(results))
	for i, result := range results {
		entry := domain.LeaderboardEntry{
			Rank:     int64(i + 1),
			PlayerID: result.Member.(string),
			Stones:   int64(result.Score),
		}
		if info, err := infos[i].Result(); err == nil {
			entry.Username = info["username"]
			entry.PhotoURL = info["photo_url"]
			entry.IsPremium, _ = strconv.ParseBool(info["is_premium"])
		}
		entries[i] = entry
	}
	return entries, nil
}

// BatchSet loads many entries into a league using pipelining
func (s *LeagueRankings) BatchSet(ctx context.Context, league domain.League, entries []domain.LeaderboardEntry) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	key := leagueKey(league)

	for _, e := range entries {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(e.Stones),
			Member: e.PlayerID,
		})
		pipe.HSet(ctx, playerInfoKey(e.PlayerID),
			"username", e.Username,
			"photo_url", e.PhotoURL,
			"is_premium", strconv.FormatBool(e.IsPremium),
		)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch setting league: %w", err)
	}
	return nil
}
