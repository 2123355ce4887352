package domain

import "fmt"

// UpgradeKind identifies one of the finite upgrade or consumable kinds.
type UpgradeKind string

const (
	UpgradeMultiTap      UpgradeKind = "MultiTap"
	UpgradeRechargeSpeed UpgradeKind = "RechargeSpeed"
	UpgradeBatteryPack   UpgradeKind = "BatteryPack"
	UpgradeAutoBot       UpgradeKind = "AutoBot"

	ConsumableRefill UpgradeKind = "Refill"
	ConsumableBoost  UpgradeKind = "Boost"
)

// LevelledKinds lists the purchasable upgrade kinds in display order.
var LevelledKinds = []UpgradeKind{
	UpgradeMultiTap,
	UpgradeRechargeSpeed,
	UpgradeBatteryPack,
	UpgradeAutoBot,
}

// ConsumableKinds lists the once-per-window activatable kinds.
var ConsumableKinds = []UpgradeKind{
	ConsumableRefill,
	ConsumableBoost,
}

// ParseUpgradeKind validates a client supplied kind name.
func ParseUpgradeKind(s string) (UpgradeKind, error) {
	k := UpgradeKind(s)
	if k.IsLevelled() || k.IsConsumable() {
		return k, nil
	}
	return "", fmt.Errorf("unknown upgrade kind %q: %w", s, ErrInvalidInput)
}

// IsLevelled reports whether the kind is bought in tiers.
func (k UpgradeKind) IsLevelled() bool {
	switch k {
	case UpgradeMultiTap, UpgradeRechargeSpeed, UpgradeBatteryPack, UpgradeAutoBot:
		return true
	}
	return false
}

// IsConsumable reports whether the kind is a limited-frequency activation.
func (k UpgradeKind) IsConsumable() bool {
	return k == ConsumableRefill || k == ConsumableBoost
}

// Upgrade is one owned upgrade entry
type Upgrade struct {
	Kind    UpgradeKind `json:"name"`
	Level   int         `json:"level"`
	Charges int         `json:"count"`
}
