package economy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/stone-miner/internal/domain"
)

// Timing rules for guarded actions
const (
	MinTapInterval   = 200 * time.Millisecond
	ConsumableWindow = 24 * time.Hour
	BoostDuration    = 60 * time.Second
)

// DefaultSkinCost is the flat price of a cosmetic.
const DefaultSkinCost = int64(1000)

// autoProductionSynergy is granted to auto-production once RechargeSpeed
// reaches synergyLevel, expressed as numerator/denominator.
const (
	synergyLevel       = 5
	synergyNumerator   = 6
	synergyDenominator = 5
)

// DefaultTasks maps one-time task ids to their fixed rewards.
var DefaultTasks = map[string]int64{
	"join_telegram":      1000,
	"follow_twitter":     1000,
	"vote_coinmarketcap": 1200,
	"join_reddit":        1000,
	"share_tiktok":       1000,
}

// Machine applies guarded mutations to a single player's state. It holds
// no player state of its own and is safe for concurrent use.
type Machine struct {
	table                Table
	tasks                map[string]int64
	skinCost             int64
	allowDeclaredRewards bool
}

// Option customizes a Machine
type Option func(*Machine)

// WithTable overrides the upgrade table.
func WithTable(t Table) Option {
	return func(m *Machine) { m.table = t }
}

// WithTasks overrides the one-time task reward table.
func WithTasks(tasks map[string]int64) Option {
	return func(m *Machine) { m.tasks = tasks }
}

// WithSkinCost overrides the cosmetic price.
func WithSkinCost(cost int64) Option {
	return func(m *Machine) { m.skinCost = cost }
}

// WithDeclaredRewards lets unknown task ids pay a caller-declared reward.
func WithDeclaredRewards(allow bool) Option {
	return func(m *Machine) { m.allowDeclaredRewards = allow }
}

// NewMachine creates a Machine with default tables.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		table:    DefaultTable,
		tasks:    DefaultTasks,
		skinCost: DefaultSkinCost,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TapEnergyCost is ceil(stonesPerClick^1.2 / 10).
func TapEnergyCost(stonesPerClick int64) int64 {
	if stonesPerClick <= 0 {
		return 0
	}
	return int64(math.Ceil(math.Pow(float64(stonesPerClick), 1.2) / 10))
}

// Tap credits claimed stones. Manual taps are spaced by MinTapInterval and
// cost energy; automated batches skip both. LastActionTime is stamped on
// every well-formed manual attempt, including rejected ones. Returns stones
// credited.
func (m *Machine) Tap(p *domain.Player, stonesEarned int64, auto bool, now time.Time) (int64, error) {
	if stonesEarned <= 0 {
		return 0, fmt.Errorf("stones earned must be positive: %w", domain.ErrInvalidInput)
	}
	mult := ActiveMultiplier(p.BoostActiveUntil, now)
	if !fitsBalance(p.Stones, stonesEarned, mult) {
		return 0, fmt.Errorf("claim of %d stones exceeds balance range: %w", stonesEarned, domain.ErrInvalidInput)
	}

	var cost int64
	if !auto {
		last := p.LastActionTime
		p.LastActionTime = now
		if !last.IsZero() && now.Sub(last) < MinTapInterval {
			return 0, domain.ErrRateLimited
		}
		cost = TapEnergyCost(p.StonesPerClick)
		if p.Energy < cost {
			return 0, fmt.Errorf("energy %d below tap cost %d: %w", p.Energy, cost, domain.ErrInsufficientResource)
		}
	}

	credited := stonesEarned * mult
	p.Energy -= cost
	p.Stones += credited
	m.finish(p)
	return credited, nil
}

// BuyUpgrade purchases the next level of a levelled upgrade.
func (m *Machine) BuyUpgrade(p *domain.Player, kind domain.UpgradeKind) (int64, error) {
	if !kind.IsLevelled() {
		return 0, fmt.Errorf("%q is not a purchasable upgrade: %w", kind, domain.ErrInvalidInput)
	}
	level := p.UpgradeLevel(kind)
	cost, err := m.table.Cost(kind, level)
	if err != nil {
		return 0, err
	}
	if p.Stones < cost {
		return 0, fmt.Errorf("need %d stones, have %d: %w", cost, p.Stones, domain.ErrInsufficientResource)
	}

	p.Stones -= cost
	p.SetUpgradeLevel(kind, level+1)
	m.Recompute(p)
	m.finish(p)
	return cost, nil
}

// Recompute derives every rate from the complete set of upgrade levels.
func (m *Machine) Recompute(p *domain.Player) {
	p.StonesPerClick = m.table.Effect(domain.UpgradeMultiTap, p.UpgradeLevel(domain.UpgradeMultiTap))
	p.EnergyRegenRate = m.table.Effect(domain.UpgradeRechargeSpeed, p.UpgradeLevel(domain.UpgradeRechargeSpeed))
	p.MaxEnergy = m.table.Effect(domain.UpgradeBatteryPack, p.UpgradeLevel(domain.UpgradeBatteryPack))

	auto := m.table.Effect(domain.UpgradeAutoBot, p.UpgradeLevel(domain.UpgradeAutoBot))
	if p.UpgradeLevel(domain.UpgradeRechargeSpeed) >= synergyLevel {
		auto = auto * synergyNumerator / synergyDenominator
	}
	p.AutoStonesPerSecond = auto

	p.Energy = clamp(p.Energy, p.MaxEnergy)
}

// Activate uses a consumable. Each kind may be used once per
// ConsumableWindow measured from its own last use.
func (m *Machine) Activate(p *domain.Player, kind domain.UpgradeKind, now time.Time) error {
	if !kind.IsConsumable() {
		return fmt.Errorf("%q is not a consumable: %w", kind, domain.ErrInvalidInput)
	}
	if next := NextAvailable(p, kind); now.Before(next) {
		return fmt.Errorf("%s available again at %s: %w", kind, next.Format(time.RFC3339), domain.ErrConflict)
	}

	switch kind {
	case domain.ConsumableRefill:
		p.Energy = p.MaxEnergy
		p.RefillLastUsed = now
	case domain.ConsumableBoost:
		p.BoostActiveUntil = now.Add(BoostDuration)
		p.BoostLastUsed = now
	}
	p.SetCharges(kind, 0)
	m.finish(p)
	return nil
}

// NextAvailable returns when kind can next be activated. A zero time means
// it has never been used.
func NextAvailable(p *domain.Player, kind domain.UpgradeKind) time.Time {
	var last time.Time
	switch kind {
	case domain.ConsumableRefill:
		last = p.RefillLastUsed
	case domain.ConsumableBoost:
		last = p.BoostLastUsed
	}
	if last.IsZero() {
		return time.Time{}
	}
	return last.Add(ConsumableWindow)
}

// BuySkin purchases a cosmetic at the flat price.
func (m *Machine) BuySkin(p *domain.Player, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("skin name required: %w", domain.ErrInvalidInput)
	}
	if p.OwnsSkin(name) {
		return fmt.Errorf("skin %q already owned: %w", name, domain.ErrConflict)
	}
	if p.Stones < m.skinCost {
		return fmt.Errorf("need %d stones, have %d: %w", m.skinCost, p.Stones, domain.ErrInsufficientResource)
	}

	p.Stones -= m.skinCost
	p.Skins = append(p.Skins, name)
	m.finish(p)
	return nil
}

// CompleteTask records a one-time task and pays its reward exactly once.
func (m *Machine) CompleteTask(p *domain.Player, taskID string, declaredReward int64) (int64, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return 0, fmt.Errorf("task id required: %w", domain.ErrInvalidInput)
	}
	if p.HasCompletedTask(taskID) {
		return 0, fmt.Errorf("task %q already completed: %w", taskID, domain.ErrConflict)
	}

	reward, known := m.tasks[taskID]
	if !known {
		if !m.allowDeclaredRewards || declaredReward <= 0 {
			return 0, fmt.Errorf("unknown task %q: %w", taskID, domain.ErrInvalidInput)
		}
		reward = declaredReward
	}
	if !fitsBalance(p.Stones, reward, 1) {
		return 0, fmt.Errorf("reward %d exceeds balance range: %w", reward, domain.ErrInvalidInput)
	}

	p.TasksCompleted = append(p.TasksCompleted, taskID)
	p.Stones += reward
	m.finish(p)
	return reward, nil
}

// ConvertAirdrop moves stones into airdrop progress.
func (m *Machine) ConvertAirdrop(p *domain.Player, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive: %w", domain.ErrInvalidInput)
	}
	if p.Stones < amount {
		return fmt.Errorf("need %d stones, have %d: %w", amount, p.Stones, domain.ErrInsufficientResource)
	}
	p.Stones -= amount
	p.AirdropProgress += amount
	m.finish(p)
	return nil
}

// View renders the player as the mutation result object.
func (m *Machine) View(p *domain.Player, now time.Time) domain.StateView {
	consumables := make([]domain.ConsumableStatus, 0, len(domain.ConsumableKinds))
	for _, kind := range domain.ConsumableKinds {
		next := NextAvailable(p, kind)
		st := domain.ConsumableStatus{Kind: kind, Available: !now.Before(next)}
		if !st.Available {
			st.NextAvailableAt = next
		}
		consumables = append(consumables, st)
	}

	upgrades := make([]domain.Upgrade, len(p.Upgrades))
	for i, u := range p.Upgrades {
		if u.Kind.IsConsumable() && !now.Before(NextAvailable(p, u.Kind)) {
			u.Charges = 1
		}
		upgrades[i] = u
	}

	return domain.StateView{
		PlayerID:            p.ID,
		Username:            p.Username,
		Stones:              p.Stones,
		Energy:              p.Energy,
		MaxEnergy:           p.MaxEnergy,
		EnergyRegenRate:     p.EnergyRegenRate,
		StonesPerClick:      p.StonesPerClick,
		AutoStonesPerSecond: p.AutoStonesPerSecond,
		Upgrades:            upgrades,
		Skins:               p.Skins,
		TasksCompleted:      p.TasksCompleted,
		League:              p.League,
		ReferralCode:        p.ReferralCode,
		ReferralBonus:       p.ReferralBonus,
		AirdropProgress:     p.AirdropProgress,
		LastAutoBotUpdate:   p.LastAutoProductionUpdate,
		BoostActiveUntil:    p.BoostActiveUntil,
		Consumables:         consumables,
	}
}

// fitsBalance reports whether balance + amount*mult stays within int64.
func fitsBalance(balance, amount, mult int64) bool {
	if mult <= 0 || balance < 0 {
		return false
	}
	return amount <= (math.MaxInt64-balance)/mult
}

// finish re-derives the league after any stones change.
func (m *Machine) finish(p *domain.Player) {
	p.League = domain.Classify(p.Stones)
}
