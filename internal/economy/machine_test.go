package economy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stone-miner/internal/domain"
)

func newPlayer() *domain.Player {
	return domain.NewPlayer("42", "miner", "ABCD1234", epoch)
}

func TestTapEnergyCost(t *testing.T) {
	tests := []struct {
		spc  int64
		want int64
	}{
		{1, 1},
		{2, 1},
		{7, 2},
		{11, 2},
		{20, 4},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, TapEnergyCost(tc.spc), "spc=%d", tc.spc)
	}
}

func TestTapScenario(t *testing.T) {
	m := NewMachine()
	p := newPlayer()
	p.StonesPerClick = 2
	p.Energy = 100
	p.MaxEnergy = 1000

	credited, err := m.Tap(p, 5, false, epoch)
	require.NoError(t, err)
	assert.Equal(t, int64(5), credited)
	assert.Equal(t, int64(99), p.Energy)
	assert.Equal(t, int64(5), p.Stones)
	assert.Equal(t, epoch, p.LastActionTime)
}

func TestTapRateLimited(t *testing.T) {
	m := NewMachine()
	p := newPlayer()

	_, err := m.Tap(p, 3, false, epoch)
	require.NoError(t, err)

	second := epoch.Add(100 * time.Millisecond)
	_, err = m.Tap(p, 3, false, second)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, int64(3), p.Stones, "first tap stands, second does not credit")
	assert.Equal(t, int64(999), p.Energy)
	assert.Equal(t, second, p.LastActionTime, "attempt still stamps the action time")

	// Spacing is measured from the rejected attempt.
	_, err = m.Tap(p, 3, false, second.Add(150*time.Millisecond))
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	_, err = m.Tap(p, 3, false, second.Add(150*time.Millisecond+MinTapInterval))
	assert.NoError(t, err)
}

func TestTapInsufficientEnergy(t *testing.T) {
	m := NewMachine()
	p := newPlayer()
	p.Energy = 0

	_, err := m.Tap(p, 1, false, epoch)
	assert.ErrorIs(t, err, domain.ErrInsufficientResource)
	assert.Zero(t, p.Stones)
}

func TestTapInsufficientEnergyStampsActionTime(t *testing.T) {
	m := NewMachine()
	p := newPlayer()
	p.Energy = 0

	now := epoch.Add(time.Second)
	_, err := m.Tap(p, 1, false, now)
	assert.ErrorIs(t, err, domain.ErrInsufficientResource)
	assert.Equal(t, now, p.LastActionTime)
}

func TestTapRejectsClaimsBeyondBalanceRange(t *testing.T) {
	tests := []struct {
		name   string
		stones int64
		claim  int64
		boost  bool
	}{
		{"max claim on positive balance", 10, math.MaxInt64, false},
		{"one past the limit", math.MaxInt64 - 4, 5, false},
		{"boost doubles past the limit", 0, math.MaxInt64/2 + 1, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newPlayer()
			p.Stones = tc.stones
			p.League = domain.Classify(tc.stones)
			if tc.boost {
				p.BoostActiveUntil = epoch.Add(time.Minute)
			}
			league := p.League

			_, err := NewMachine().Tap(p, tc.claim, false, epoch)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Equal(t, tc.stones, p.Stones)
			assert.Equal(t, league, p.League)
			assert.Equal(t, domain.DefaultMaxEnergy, p.Energy)
		})
	}

	p := newPlayer()
	p.Stones = math.MaxInt64 - 5
	credited, err := NewMachine().Tap(p, 5, true, epoch)
	require.NoError(t, err)
	assert.Equal(t, int64(5), credited)
	assert.Equal(t, int64(math.MaxInt64), p.Stones)
}

func TestTapBoostAndAuto(t *testing.T) {
	m := NewMachine()
	p := newPlayer()
	p.BoostActiveUntil = epoch.Add(time.Minute)

	credited, err := m.Tap(p, 10, true, epoch)
	require.NoError(t, err)
	assert.Equal(t, int64(20), credited)
	assert.Equal(t, domain.DefaultMaxEnergy, p.Energy, "auto batches cost no energy")
	assert.True(t, p.LastActionTime.IsZero())

	_, err = m.Tap(p, 0, true, epoch)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBuyUpgradeScenario(t *testing.T) {
	m := NewMachine()
	p := newPlayer()
	p.Stones = 6000

	cost, err := m.BuyUpgrade(p, domain.UpgradeAutoBot)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), cost)
	assert.Equal(t, int64(1000), p.Stones)
	assert.Equal(t, 1, p.UpgradeLevel(domain.UpgradeAutoBot))
	assert.Equal(t, int64(2), p.AutoStonesPerSecond)
}

func TestBuyUpgradeInsufficient(t *testing.T) {
	m := NewMachine()
	p := newPlayer()
	p.Stones = 4999

	_, err := m.BuyUpgrade(p, domain.UpgradeAutoBot)
	assert.ErrorIs(t, err, domain.ErrInsufficientResource)
	assert.Equal(t, int64(4999), p.Stones)
	assert.Zero(t, p.UpgradeLevel(domain.UpgradeAutoBot))

	// Equal balance is sufficient.
	p.Stones = 5000
	_, err = m.BuyUpgrade(p, domain.UpgradeAutoBot)
	require.NoError(t, err)
	assert.Zero(t, p.Stones)
}

func TestBuyUpgradeMaxTier(t *testing.T) {
	m := NewMachine()
	p := newPlayer()
	p.Stones = 1 << 40

	for i := 0; i < MaxTier; i++ {
		_, err := m.BuyUpgrade(p, domain.UpgradeMultiTap)
		require.NoError(t, err)
	}
	before := p.Stones
	_, err := m.BuyUpgrade(p, domain.UpgradeMultiTap)
	assert.ErrorIs(t, err, domain.ErrMaxTierReached)
	assert.Equal(t, before, p.Stones)
	assert.Equal(t, MaxTier, p.UpgradeLevel(domain.UpgradeMultiTap))
	assert.Equal(t, int64(11), p.StonesPerClick)
}

func TestBuyUpgradeRejectsConsumable(t *testing.T) {
	m := NewMachine()
	p := newPlayer()
	p.Stones = 1_000_000
	_, err := m.BuyUpgrade(p, domain.ConsumableBoost)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRecomputeSynergy(t *testing.T) {
	m := NewMachine()
	p := newPlayer()
	p.SetUpgradeLevel(domain.UpgradeAutoBot, 4)
	p.SetUpgradeLevel(domain.UpgradeRechargeSpeed, 4)
	m.Recompute(p)
	assert.Equal(t, int64(5), p.AutoStonesPerSecond)
	assert.Equal(t, int64(5), p.EnergyRegenRate)

	p.SetUpgradeLevel(domain.UpgradeRechargeSpeed, 5)
	m.Recompute(p)
	assert.Equal(t, int64(6), p.AutoStonesPerSecond, "floor(5 * 1.2)")
	assert.Equal(t, int64(6), p.EnergyRegenRate)
}

func TestRecomputeIsPure(t *testing.T) {
	m := NewMachine()
	a := newPlayer()
	b := newPlayer()
	a.Stones, b.Stones = 1_000_000, 1_000_000

	for _, k := range []domain.UpgradeKind{domain.UpgradeBatteryPack, domain.UpgradeAutoBot, domain.UpgradeBatteryPack} {
		_, err := m.BuyUpgrade(a, k)
		require.NoError(t, err)
	}
	b.SetUpgradeLevel(domain.UpgradeBatteryPack, 2)
	b.SetUpgradeLevel(domain.UpgradeAutoBot, 1)
	m.Recompute(b)

	assert.Equal(t, b.MaxEnergy, a.MaxEnergy)
	assert.Equal(t, b.AutoStonesPerSecond, a.AutoStonesPerSecond)
	assert.Equal(t, b.StonesPerClick, a.StonesPerClick)
	assert.Equal(t, b.EnergyRegenRate, a.EnergyRegenRate)
}

func TestActivateWindow(t *testing.T) {
	m := NewMachine()
	p := newPlayer()
	p.Energy = 3

	require.NoError(t, m.Activate(p, domain.ConsumableRefill, epoch))
	assert.Equal(t, p.MaxEnergy, p.Energy)

	err := m.Activate(p, domain.ConsumableRefill, epoch.Add(ConsumableWindow-time.Second))
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Boost has its own window.
	require.NoError(t, m.Activate(p, domain.ConsumableBoost, epoch.Add(time.Hour)))
	assert.Equal(t, epoch.Add(time.Hour+BoostDuration), p.BoostActiveUntil)

	assert.NoError(t, m.Activate(p, domain.ConsumableRefill, epoch.Add(ConsumableWindow)))
}

func TestActivateRejectsLevelled(t *testing.T) {
	m := NewMachine()
	err := m.Activate(newPlayer(), domain.UpgradeAutoBot, epoch)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBuySkin(t *testing.T) {
	m := NewMachine()
	p := newPlayer()
	p.Stones = 1500

	require.NoError(t, m.BuySkin(p, "granite"))
	assert.Equal(t, int64(500), p.Stones)

	assert.ErrorIs(t, m.BuySkin(p, "granite"), domain.ErrConflict)
	assert.ErrorIs(t, m.BuySkin(p, "obsidian"), domain.ErrInsufficientResource)
	assert.ErrorIs(t, m.BuySkin(p, " "), domain.ErrInvalidInput)
	assert.Equal(t, int64(500), p.Stones)
}

func TestCompleteTaskExactlyOnce(t *testing.T) {
	m := NewMachine()
	p := newPlayer()

	reward, err := m.CompleteTask(p, "vote_coinmarketcap", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), reward)

	for i := 0; i < 3; i++ {
		_, err = m.CompleteTask(p, "vote_coinmarketcap", 0)
		assert.ErrorIs(t, err, domain.ErrConflict)
	}
	assert.Equal(t, int64(1200), p.Stones)
	assert.Equal(t, []string{"vote_coinmarketcap"}, p.TasksCompleted)
}

func TestCompleteTaskDeclaredReward(t *testing.T) {
	p := newPlayer()

	_, err := NewMachine().CompleteTask(p, "watch_video", 300)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	m := NewMachine(WithDeclaredRewards(true))
	reward, err := m.CompleteTask(p, "watch_video", 300)
	require.NoError(t, err)
	assert.Equal(t, int64(300), reward)

	// A known task ignores the declared amount.
	reward, err = m.CompleteTask(p, "join_reddit", 99_999)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), reward)

	p.Stones = 10
	_, err = m.CompleteTask(p, "huge_bounty", math.MaxInt64)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, int64(10), p.Stones)
	assert.NotContains(t, p.TasksCompleted, "huge_bounty")
}

func TestConvertAirdrop(t *testing.T) {
	m := NewMachine()
	p := newPlayer()
	p.Stones = 6_000

	require.NoError(t, m.ConvertAirdrop(p, 2_000))
	assert.Equal(t, int64(4_000), p.Stones)
	assert.Equal(t, int64(2_000), p.AirdropProgress)
	assert.Equal(t, domain.LeaguePebble, p.League)

	assert.ErrorIs(t, m.ConvertAirdrop(p, 4_001), domain.ErrInsufficientResource)
	assert.ErrorIs(t, m.ConvertAirdrop(p, 0), domain.ErrInvalidInput)
}

func TestLeagueFollowsEveryMutation(t *testing.T) {
	m := NewMachine()
	p := newPlayer()
	p.Stones = 4_000

	_, err := m.CompleteTask(p, "join_telegram", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.Classify(p.Stones), p.League)

	_, err = m.BuyUpgrade(p, domain.UpgradeMultiTap)
	require.NoError(t, err)
	assert.Equal(t, domain.Classify(p.Stones), p.League)
	assert.Equal(t, domain.LeaguePebble, p.League)
}

func TestView(t *testing.T) {
	m := NewMachine()
	p := newPlayer()
	require.NoError(t, m.Activate(p, domain.ConsumableBoost, epoch))

	v := m.View(p, epoch.Add(time.Minute))
	require.Len(t, v.Consumables, 2)
	assert.True(t, v.Consumables[0].Available)
	assert.False(t, v.Consumables[1].Available)
	assert.Equal(t, epoch.Add(ConsumableWindow), v.Consumables[1].NextAvailableAt)

	v = m.View(p, epoch.Add(ConsumableWindow))
	assert.True(t, v.Consumables[1].Available)
	require.Len(t, v.Upgrades, 1)
	assert.Equal(t, 1, v.Upgrades[0].Charges)
}
