package economy

import (
	"fmt"

	"github.com/stone-miner/internal/domain"
)

// MaxTier is the highest level any upgrade can reach.
const MaxTier = 10

// Tier holds the cost and effect arrays for one upgrade kind. Cost[i] is
// the price of going from level i to i+1; Effect[i] is the raw stat
// contributed at level i.
type Tier struct {
	Cost   [MaxTier]int64
	Effect [MaxTier + 1]int64
}

// Table is the tiered-value lookup by upgrade kind and level.
type Table map[domain.UpgradeKind]Tier

// DefaultTable is the built-in upgrade table.
var DefaultTable = Table{
	domain.UpgradeMultiTap: {
		Cost:   [MaxTier]int64{500, 1_000, 2_000, 4_000, 8_000, 16_000, 32_000, 64_000, 128_000, 256_000},
		Effect: [MaxTier + 1]int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	},
	domain.UpgradeRechargeSpeed: {
		Cost:   [MaxTier]int64{1_000, 2_000, 4_000, 8_000, 16_000, 32_000, 64_000, 128_000, 256_000, 512_000},
		Effect: [MaxTier + 1]int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	},
	domain.UpgradeBatteryPack: {
		Cost:   [MaxTier]int64{750, 1_500, 3_000, 6_000, 12_000, 24_000, 48_000, 96_000, 192_000, 384_000},
		Effect: [MaxTier + 1]int64{1_000, 1_500, 2_000, 2_500, 3_000, 3_500, 4_000, 4_500, 5_000, 5_500, 6_000},
	},
	domain.UpgradeAutoBot: {
		Cost:   [MaxTier]int64{5_000, 10_000, 20_000, 40_000, 80_000, 160_000, 320_000, 640_000, 1_280_000, 2_560_000},
		Effect: [MaxTier + 1]int64{0, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	},
}

// Cost returns the price of buying the next level of kind from level.
func (t Table) Cost(kind domain.UpgradeKind, level int) (int64, error) {
	tier, ok := t[kind]
	if !ok {
		return 0, fmt.Errorf("no tier table for %q: %w", kind, domain.ErrInvalidInput)
	}
	if level < 0 {
		return 0, fmt.Errorf("negative level %d: %w", level, domain.ErrInvalidInput)
	}
	if level >= MaxTier {
		return 0, domain.ErrMaxTierReached
	}
	return tier.Cost[level], nil
}

// Effect returns the raw stat value of kind at level, clamped to the table.
func (t Table) Effect(kind domain.UpgradeKind, level int) int64 {
	tier, ok := t[kind]
	if !ok {
		return 0
	}
	level = min(max(level, 0), MaxTier)
	return tier.Effect[level]
}
