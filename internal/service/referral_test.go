package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stone-miner/internal/domain"
)

func TestCommission(t *testing.T) {
	assert.Equal(t, int64(50), Commission(1000, 0.05))
	assert.Equal(t, int64(0), Commission(19, 0.05))
	assert.Equal(t, int64(1), Commission(39, 0.05))
	assert.Equal(t, int64(0), Commission(-10, 0.05))
}

func TestTaskRewardPaysReferrerCommission(t *testing.T) {
	h := newHarness()
	h.seed("ref", "REFCODE1", nil)
	h.seed("down", "DOWNCODE", func(p *domain.Player) { p.ReferredBy = "REFCODE1" })

	_, err := h.svc.CompleteTask(context.Background(), "down", "join_telegram", 0)
	require.NoError(t, err)

	ref := h.store.get("ref")
	assert.Equal(t, int64(50), ref.Stones)
	assert.Equal(t, int64(50), ref.ReferralBonus)
	friend, ok := ref.Friend("down")
	require.True(t, ok)
	assert.Equal(t, int64(1000), friend.LastReferralStones)
	assert.Equal(t, 1, h.notifier.count("ref", EventCommission))

	snap, ok := h.cache.Get("ref")
	require.True(t, ok)
	assert.Equal(t, int64(50), snap.Stones)
}

func TestHighWaterMarkNeverDecreases(t *testing.T) {
	h := newHarness()
	h.seed("ref", "REFCODE1", nil)
	h.seed("down", "DOWNCODE", func(p *domain.Player) {
		p.ReferredBy = "REFCODE1"
		p.Stones = 10_000
	})
	ctx := context.Background()

	_, err := h.svc.CompleteTask(ctx, "down", "join_reddit", 0)
	require.NoError(t, err)
	_, err = h.svc.BuyUpgrade(ctx, "down", "AutoBot")
	require.NoError(t, err)
	_, err = h.svc.CompleteTask(ctx, "down", "share_tiktok", 0)
	require.NoError(t, err)

	ref := h.store.get("ref")
	friend, ok := ref.Friend("down")
	require.True(t, ok)
	assert.Equal(t, int64(11_000), friend.LastReferralStones)
	assert.Equal(t, int64(100), ref.ReferralBonus)
}

func TestMissingReferrerIsSkipped(t *testing.T) {
	h := newHarness()
	h.seed("down", "DOWNCODE", func(p *domain.Player) { p.ReferredBy = "GONE0000" })

	view, err := h.svc.CompleteTask(context.Background(), "down", "join_telegram", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), view.Stones)
}

func TestSmallEarningsPayNoCommission(t *testing.T) {
	h := newHarness()
	h.seed("ref", "REFCODE1", nil)
	h.seed("down", "DOWNCODE", func(p *domain.Player) { p.ReferredBy = "REFCODE1" })

	_, err := h.svc.Tap(context.Background(), "down", 10)
	require.NoError(t, err)
	assert.Zero(t, h.store.get("ref").Stones)
}

func TestAccrualPaysCommission(t *testing.T) {
	h := newHarness()
	h.seed("ref", "REFCODE1", nil)
	h.seed("down", "DOWNCODE", func(p *domain.Player) {
		p.ReferredBy = "REFCODE1"
		p.AutoStonesPerSecond = 10
	})

	h.clock.Advance(100 * time.Second)
	require.NoError(t, h.svc.Reconcile(context.Background(), "down"))
	assert.Equal(t, int64(50), h.store.get("ref").Stones)
}

func TestRegisterWithReferral(t *testing.T) {
	tests := []struct {
		name    string
		premium bool
		bonus   int64
	}{
		{"regular", false, 1000},
		{"premium", true, 10000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			h.seed("ref", "REFCODE1", nil)

			view, created, err := h.svc.Register(context.Background(), "new", RegisterRequest{
				Username:     "newbie",
				IsPremium:    tc.premium,
				ReferralCode: "REFCODE1",
			})
			require.NoError(t, err)
			assert.True(t, created)
			assert.Equal(t, tc.bonus, view.Stones)
			assert.Len(t, view.ReferralCode, 8)

			p := h.store.get("new")
			assert.Equal(t, "REFCODE1", p.ReferredBy)
			assert.Equal(t, domain.Classify(tc.bonus), p.League)

			ref := h.store.get("ref")
			assert.Equal(t, tc.bonus, ref.Stones)
			assert.Equal(t, tc.bonus, ref.ReferralBonus)
			friend, ok := ref.Friend("new")
			require.True(t, ok)
			assert.Zero(t, friend.LastReferralStones)
		})
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	h := newHarness()
	h.seed("ref", "REFCODE1", nil)
	ctx := context.Background()

	_, created, err := h.svc.Register(ctx, "new", RegisterRequest{Username: "a", ReferralCode: "REFCODE1"})
	require.NoError(t, err)
	require.True(t, created)

	view, created, err := h.svc.Register(ctx, "new", RegisterRequest{Username: "b", ReferralCode: "REFCODE1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "b", view.Username)
	assert.Equal(t, int64(1000), h.store.get("ref").Stones, "bonus paid once")
}

func TestRegisterUnknownCode(t *testing.T) {
	h := newHarness()
	view, created, err := h.svc.Register(context.Background(), "new", RegisterRequest{ReferralCode: "NOPE0000"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Zero(t, view.Stones)
	assert.Empty(t, h.store.get("new").ReferredBy)
}

func TestRegisterRequiresIdentity(t *testing.T) {
	h := newHarness()
	_, _, err := h.svc.Register(context.Background(), " ", RegisterRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFriends(t *testing.T) {
	h := newHarness()
	h.seed("ref", "REFCODE1", nil)
	ctx := context.Background()

	_, _, err := h.svc.Register(ctx, "a", RegisterRequest{ReferralCode: "REFCODE1"})
	require.NoError(t, err)
	_, _, err = h.svc.Register(ctx, "b", RegisterRequest{ReferralCode: "REFCODE1", IsPremium: true})
	require.NoError(t, err)

	summary, err := h.svc.Friends(ctx, "ref")
	require.NoError(t, err)
	assert.Len(t, summary.InvitedFriends, 2)
	assert.Equal(t, int64(11_000), summary.Bonus)
	assert.Equal(t, int64(22_000), summary.TotalBonus)
}

func TestLeaderboardFallsBackToStore(t *testing.T) {
	h := newHarness()
	h.seed("1", "AAAA1111", func(p *domain.Player) { p.Stones = 7_000 })
	h.seed("2", "BBBB2222", func(p *domain.Player) { p.Stones = 9_000 })
	ctx := context.Background()

	board, err := h.svc.Leaderboard(ctx, "Gravel")
	require.NoError(t, err)
	assert.Equal(t, "postgres", board.Source)
	require.Len(t, board.Entries, 2)
	assert.Equal(t, "2", board.Entries[0].PlayerID)

	require.NoError(t, h.svc.WarmRankings(ctx, h.ranker))
	board, err = h.svc.Leaderboard(ctx, "Gravel")
	require.NoError(t, err)
	assert.Equal(t, "redis", board.Source)
	assert.Len(t, board.Entries, 2)

	_, err = h.svc.Leaderboard(ctx, "Diamond")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
