package service

import (
	"context"
	"fmt"

	"github.com/stone-miner/internal/domain"
)

// LeagueBoard is the ranking view returned to callers
type LeagueBoard struct {
	League  domain.League             `json:"league"`
	Entries []domain.LeaderboardEntry `json:"entries"`
	Source  string                    `json:"source"`
}

// Leaderboard returns the top players of a league. The Redis ranking is
// consulted first; an empty or failing ranking falls back to the store.
func (s *EconomyService) Leaderboard(ctx context.Context, leagueName string) (LeagueBoard, error) {
	league, ok := domain.ParseLeague(leagueName)
	if !ok {
		return LeagueBoard{}, fmt.Errorf("unknown league %q: %w", leagueName, domain.ErrInvalidInput)
	}
	limit := s.opts.LeaderboardLimit
	if limit <= 0 {
		limit = 100
	}

	entries, err := s.ranker.Top(ctx, league, limit)
	if err != nil {
		s.logger.Warn("league ranking unavailable, reading store", "league", league, "error", err)
	}
	if err == nil && len(entries) > 0 {
		return LeagueBoard{League: league, Entries: entries, Source: "redis"}, nil
	}

	entries, err = s.store.FindAllInLeague(ctx, league, limit)
	if err != nil {
		return LeagueBoard{}, fmt.Errorf("getting league from store: %w", err)
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	return LeagueBoard{League: league, Entries: entries, Source: "postgres"}, nil
}

// LeagueLoader bulk-loads ranking entries for a league
type LeagueLoader interface {
	BatchSet(ctx context.Context, league domain.League, entries []domain.LeaderboardEntry) error
}

// WarmRankings copies the store's top players of every league into the
// ranking so a cold Redis serves complete boards.
func (s *EconomyService) WarmRankings(ctx context.Context, loader LeagueLoader) error {
	limit := s.opts.LeaderboardLimit
	if limit <= 0 {
		limit = 100
	}
	for _, league := range domain.Leagues() {
		entries, err := s.store.FindAllInLeague(ctx, league, limit)
		if err != nil {
			return fmt.Errorf("loading league %s: %w", league, err)
		}
		if err := loader.BatchSet(ctx, league, entries); err != nil {
			return fmt.Errorf("warming league %s: %w", league, err)
		}
		s.logger.Debug("league ranking warmed", "league", league, "players", len(entries))
	}
	return nil
}
