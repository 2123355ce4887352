package domain

import (
	"slices"
	"time"
)

// InvitedFriend tracks a downstream player and the stones total already
// commissioned for them.
type InvitedFriend struct {
	PlayerID           string `json:"user"`
	LastReferralStones int64  `json:"lastReferralStones"`
}

// Player represents a player's full economic state
type Player struct {
	ID        string `json:"telegramId"`
	Username  string `json:"username"`
	PhotoURL  string `json:"photo_url,omitempty"`
	IsPremium bool   `json:"isPremium"`

	Stones              int64 `json:"stones"`
	Energy              int64 `json:"energy"`
	MaxEnergy           int64 `json:"maxEnergy"`
	EnergyRegenRate     int64 `json:"energyRegenRate"`
	StonesPerClick      int64 `json:"stonesPerClick"`
	AutoStonesPerSecond int64 `json:"autoStonesPerSecond"`

	Upgrades       []Upgrade `json:"boosts"`
	Skins          []string  `json:"skins"`
	TasksCompleted []string  `json:"tasksCompleted"`
	League         League    `json:"league"`

	ReferralCode    string          `json:"referralCode"`
	ReferredBy      string          `json:"referredBy,omitempty"`
	InvitedFriends  []InvitedFriend `json:"invitedFriends"`
	ReferralBonus   int64           `json:"referralBonus"`
	AirdropProgress int64           `json:"airdropProgress"`

	LastEnergyUpdate         time.Time `json:"lastEnergyUpdate"`
	LastAutoProductionUpdate time.Time `json:"lastAutoBotUpdate"`
	LastActionTime           time.Time `json:"lastActionTime"`
	RefillLastUsed           time.Time `json:"refillLastUsed"`
	BoostLastUsed            time.Time `json:"boostLastUsed"`
	BoostActiveUntil         time.Time `json:"boostActiveUntil"`
	LastOnline               time.Time `json:"lastOnline"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// Starting values for a freshly created player
const (
	DefaultMaxEnergy       = int64(1000)
	DefaultEnergyRegenRate = int64(1)
	DefaultStonesPerClick  = int64(1)
)

// NewPlayer returns a player with starting values.
func NewPlayer(id, username, referralCode string, now time.Time) *Player {
	return &Player{
		ID:                       id,
		Username:                 username,
		Energy:                   DefaultMaxEnergy,
		MaxEnergy:                DefaultMaxEnergy,
		EnergyRegenRate:          DefaultEnergyRegenRate,
		StonesPerClick:           DefaultStonesPerClick,
		Upgrades:                 []Upgrade{},
		Skins:                    []string{},
		TasksCompleted:           []string{},
		League:                   Classify(0),
		ReferralCode:             referralCode,
		InvitedFriends:           []InvitedFriend{},
		LastEnergyUpdate:         now,
		LastAutoProductionUpdate: now,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
}

// Clone returns a deep copy.
func (p *Player) Clone() *Player {
	c := *p
	c.Upgrades = slices.Clone(p.Upgrades)
	c.Skins = slices.Clone(p.Skins)
	c.TasksCompleted = slices.Clone(p.TasksCompleted)
	c.InvitedFriends = slices.Clone(p.InvitedFriends)
	return &c
}

// UpgradeLevel returns the owned level of kind, zero when not owned.
func (p *Player) UpgradeLevel(kind UpgradeKind) int {
	for _, u := range p.Upgrades {
		if u.Kind == kind {
			return u.Level
		}
	}
	return 0
}

// upgrade returns the entry for kind, appending an empty one if absent.
func (p *Player) upgrade(kind UpgradeKind) *Upgrade {
	for i := range p.Upgrades {
		if p.Upgrades[i].Kind == kind {
			return &p.Upgrades[i]
		}
	}
	p.Upgrades = append(p.Upgrades, Upgrade{Kind: kind})
	return &p.Upgrades[len(p.Upgrades)-1]
}

// SetUpgradeLevel stores the level for kind. Levels never go down.
func (p *Player) SetUpgradeLevel(kind UpgradeKind, level int) {
	u := p.upgrade(kind)
	if level > u.Level {
		u.Level = level
	}
}

// SetCharges stores the remaining free uses for a consumable.
func (p *Player) SetCharges(kind UpgradeKind, charges int) {
	p.upgrade(kind).Charges = charges
}

// HasCompletedTask reports whether taskID was already recorded.
func (p *Player) HasCompletedTask(taskID string) bool {
	return slices.Contains(p.TasksCompleted, taskID)
}

// OwnsSkin reports whether the cosmetic is owned.
func (p *Player) OwnsSkin(name string) bool {
	return slices.Contains(p.Skins, name)
}

// Friend returns the invited-friend entry for playerID.
func (p *Player) Friend(playerID string) (*InvitedFriend, bool) {
	for i := range p.InvitedFriends {
		if p.InvitedFriends[i].PlayerID == playerID {
			return &p.InvitedFriends[i], true
		}
	}
	return nil, false
}

// RaiseHighWaterMark inserts or raises the commissioned stones mark for a
// downstream player. The mark never decreases.
func (p *Player) RaiseHighWaterMark(playerID string, stones int64) {
	if f, ok := p.Friend(playerID); ok {
		if stones > f.LastReferralStones {
			f.LastReferralStones = stones
		}
		return
	}
	p.InvitedFriends = append(p.InvitedFriends, InvitedFriend{
		PlayerID:           playerID,
		LastReferralStones: max(stones, 0),
	})
}

// Snapshot returns the cached partial mirror of the player.
func (p *Player) Snapshot() Snapshot {
	return Snapshot{
		Stones:                   p.Stones,
		AutoStonesPerSecond:      p.AutoStonesPerSecond,
		LastAutoProductionUpdate: p.LastAutoProductionUpdate,
		League:                   p.League,
		Version:                  p.Version,
	}
}

// Apply overlays a snapshot when it is at least as fresh as the player.
func (p *Player) Apply(s Snapshot) {
	if s.Version < p.Version {
		return
	}
	p.Stones = s.Stones
	p.AutoStonesPerSecond = s.AutoStonesPerSecond
	p.LastAutoProductionUpdate = s.LastAutoProductionUpdate
	p.League = s.League
	p.Version = s.Version
}

// Snapshot is the write-back cache's partial mirror of a player
type Snapshot struct {
	Stones                   int64     `json:"stones"`
	AutoStonesPerSecond      int64     `json:"autoStonesPerSecond"`
	LastAutoProductionUpdate time.Time `json:"lastAutoBotUpdate"`
	League                   League    `json:"league"`
	Version                  int64     `json:"version"`
}

// FriendView is a referral listing row
type FriendView struct {
	PlayerID  string `json:"telegramId"`
	Username  string `json:"username"`
	Stones    int64  `json:"stones"`
	IsPremium bool   `json:"isPremium"`
	PhotoURL  string `json:"photo_url"`
}

// ReferralSummary lists a player's invited friends and bonuses
type ReferralSummary struct {
	InvitedFriends []FriendView `json:"invitedFriends"`
	Bonus          int64        `json:"bonus"`
	TotalBonus     int64        `json:"totalBonus"`
}
