package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaiseHighWaterMarkNeverDecreases(t *testing.T) {
	p := NewPlayer("ref", "referrer", "CODE1234", time.Now())

	p.RaiseHighWaterMark("friend", 1000)
	p.RaiseHighWaterMark("friend", 400)
	p.RaiseHighWaterMark("friend", 2500)

	f, ok := p.Friend("friend")
	require.True(t, ok)
	assert.Equal(t, int64(2500), f.LastReferralStones)
	assert.Len(t, p.InvitedFriends, 1)
}

func TestSetUpgradeLevelMonotonic(t *testing.T) {
	p := NewPlayer("p", "p", "CODE", time.Now())
	p.SetUpgradeLevel(UpgradeMultiTap, 3)
	p.SetUpgradeLevel(UpgradeMultiTap, 1)
	assert.Equal(t, 3, p.UpgradeLevel(UpgradeMultiTap))
	assert.Equal(t, 0, p.UpgradeLevel(UpgradeAutoBot))
}

func TestApplySnapshotRespectsVersion(t *testing.T) {
	now := time.Now()
	p := NewPlayer("p", "p", "CODE", now)
	p.Stones = 100
	p.Version = 5

	p.Apply(Snapshot{Stones: 50, Version: 4, League: LeaguePebble})
	assert.Equal(t, int64(100), p.Stones)

	p.Apply(Snapshot{Stones: 7000, Version: 6, League: LeagueGravel, LastAutoProductionUpdate: now})
	assert.Equal(t, int64(7000), p.Stones)
	assert.Equal(t, LeagueGravel, p.League)
	assert.Equal(t, int64(6), p.Version)
}

func TestCloneIsDeep(t *testing.T) {
	p := NewPlayer("p", "p", "CODE", time.Now())
	p.TasksCompleted = append(p.TasksCompleted, "join_telegram")
	c := p.Clone()
	c.TasksCompleted[0] = "changed"
	assert.Equal(t, "join_telegram", p.TasksCompleted[0])
}

func TestParseUpgradeKind(t *testing.T) {
	k, err := ParseUpgradeKind("AutoBot")
	require.NoError(t, err)
	assert.True(t, k.IsLevelled())

	k, err = ParseUpgradeKind("Boost")
	require.NoError(t, err)
	assert.True(t, k.IsConsumable())

	_, err = ParseUpgradeKind("Turbo")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
