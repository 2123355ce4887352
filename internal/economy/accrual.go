package economy

import (
	"time"

	"github.com/stone-miner/internal/domain"
)

// BoostMultiplier applies while a temporary boost is active.
const BoostMultiplier = 2

// wholeSeconds returns the elapsed whole seconds between last and now.
// Clock skew (now before last) yields zero.
func wholeSeconds(last, now time.Time) int64 {
	if last.IsZero() || !now.After(last) {
		return 0
	}
	return int64(now.Sub(last) / time.Second)
}

// ActiveMultiplier is 2 while boostUntil lies in the future, else 1.
func ActiveMultiplier(boostUntil, now time.Time) int64 {
	if !boostUntil.IsZero() && boostUntil.After(now) {
		return BoostMultiplier
	}
	return 1
}

// AccrueEnergy regenerates energy up to limit. The returned timestamp only
// advances by the whole seconds consumed, so the fractional remainder is
// preserved for the next call.
func AccrueEnergy(current, limit, rate int64, last, now time.Time) (int64, time.Time) {
	if last.IsZero() {
		return clamp(current, limit), now
	}
	elapsed := wholeSeconds(last, now)
	if elapsed == 0 {
		return clamp(current, limit), last
	}
	gained := elapsed * max(rate, 0)
	return clamp(current+gained, limit), last.Add(time.Duration(elapsed) * time.Second)
}

// AccrueProduction computes passive stones earned since last.
func AccrueProduction(rate int64, last, now, boostUntil time.Time) (int64, time.Time) {
	if last.IsZero() {
		return 0, now
	}
	elapsed := wholeSeconds(last, now)
	if elapsed == 0 {
		return 0, last
	}
	earned := max(rate, 0) * elapsed * ActiveMultiplier(boostUntil, now)
	return earned, last.Add(time.Duration(elapsed) * time.Second)
}

// Advance brings energy and passive production up to now and returns the
// stones produced. It must run before any action is validated.
func Advance(p *domain.Player, now time.Time) int64 {
	p.Energy, p.LastEnergyUpdate = AccrueEnergy(p.Energy, p.MaxEnergy, p.EnergyRegenRate, p.LastEnergyUpdate, now)

	earned, ts := AccrueProduction(p.AutoStonesPerSecond, p.LastAutoProductionUpdate, now, p.BoostActiveUntil)
	p.LastAutoProductionUpdate = ts
	if earned > 0 {
		p.Stones += earned
	}
	p.League = domain.Classify(p.Stones)
	return earned
}

func clamp(v, limit int64) int64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
