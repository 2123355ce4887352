package domain

import "time"

// ConsumableStatus describes when a consumable can next be activated
type ConsumableStatus struct {
	Kind            UpgradeKind `json:"name"`
	Available       bool        `json:"available"`
	NextAvailableAt time.Time   `json:"nextAvailableAt,omitempty"`
}

// StateView is the mutation result echoed to callers and live subscribers
type StateView struct {
	PlayerID            string             `json:"telegramId"`
	Username            string             `json:"username"`
	Stones              int64              `json:"stones"`
	Energy              int64              `json:"energy"`
	MaxEnergy           int64              `json:"maxEnergy"`
	EnergyRegenRate     int64              `json:"energyRegenRate"`
	StonesPerClick      int64              `json:"stonesPerClick"`
	AutoStonesPerSecond int64              `json:"autoStonesPerSecond"`
	Upgrades            []Upgrade          `json:"boosts"`
	Skins               []string           `json:"skins"`
	TasksCompleted      []string           `json:"tasksCompleted"`
	League              League             `json:"league"`
	ReferralCode        string             `json:"referralCode"`
	ReferralBonus       int64              `json:"referralBonus"`
	AirdropProgress     int64              `json:"airdropProgress"`
	LastAutoBotUpdate   time.Time          `json:"lastAutoBotUpdate"`
	BoostActiveUntil    time.Time          `json:"boostActiveUntil,omitempty"`
	Consumables         []ConsumableStatus `json:"consumables"`
}

// ActionType names an economy action for journaling and metrics
type ActionType string

const (
	ActionTap        ActionType = "tap"
	ActionAutoTap    ActionType = "auto_tap"
	ActionUpgrade    ActionType = "upgrade"
	ActionConsumable ActionType = "consumable"
	ActionSkin       ActionType = "skin"
	ActionTask       ActionType = "task"
	ActionAirdrop    ActionType = "airdrop"
	ActionAccrual    ActionType = "accrual"
	ActionCommission ActionType = "commission"
	ActionSignup     ActionType = "signup"
)

// EconomyEvent is an audit journal row for a successful action
type EconomyEvent struct {
	ID          string         `json:"id"`
	PlayerID    string         `json:"player_id"`
	Action      ActionType     `json:"action"`
	StonesDelta int64          `json:"stones_delta"`
	StonesAfter int64          `json:"stones_after"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TapSubmission is an automated tap batch delivered through the queue
type TapSubmission struct {
	PlayerID     string    `json:"player_id"`
	StonesEarned int64     `json:"stones_earned"`
	SubmittedAt  time.Time `json:"submitted_at,omitempty"`
}
