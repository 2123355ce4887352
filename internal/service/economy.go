package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stone-miner/internal/cache"
	"github.com/stone-miner/internal/domain"
	"github.com/stone-miner/internal/economy"
	"github.com/stone-miner/internal/keylock"
	"github.com/stone-miner/internal/metrics"
)

// Store is the durable player store and consistency boundary
type Store interface {
	FindByIdentity(ctx context.Context, id string) (*domain.Player, error)
	FindByReferralCode(ctx context.Context, code string) (*domain.Player, error)
	Create(ctx context.Context, p *domain.Player) error
	Save(ctx context.Context, p *domain.Player) error
	TouchActionTime(ctx context.Context, id string, at time.Time) error
	BulkUpsertSnapshots(ctx context.Context, snapshots map[string]domain.Snapshot) error
	FindAllInLeague(ctx context.Context, league domain.League, limit int) ([]domain.LeaderboardEntry, error)
	FindFriends(ctx context.Context, ids []string) ([]domain.FriendView, error)
	ListIdentities(ctx context.Context, after string, limit int) ([]string, error)
	RecordEvent(ctx context.Context, event domain.EconomyEvent) error
}

// Ranker keeps per-league rankings by stones
type Ranker interface {
	UpdatePlayer(ctx context.Context, league, prevLeague domain.League, playerID string, stones int64) error
	SetPlayerInfo(ctx context.Context, p *domain.Player) error
	Top(ctx context.Context, league domain.League, n int) ([]domain.LeaderboardEntry, error)
}

// Notifier pushes events to a player's live connection, if any
type Notifier interface {
	EmitToIdentity(playerID string, eventType string, payload any)
}

// Live event types
const (
	EventState      = "state"
	EventCommission = "referral_commission"
)

// Options configures referral economics and leaderboard size
type Options struct {
	CommissionRate     float64
	SignupBonus        int64
	PremiumSignupBonus int64
	LeaderboardLimit   int
}

// DefaultOptions returns the standard referral economics
func DefaultOptions() Options {
	return Options{
		CommissionRate:     0.05,
		SignupBonus:        1000,
		PremiumSignupBonus: 10000,
		LeaderboardLimit:   100,
	}
}

type nopNotifier struct{}

func (nopNotifier) EmitToIdentity(string, string, any) {}

// EconomyService orchestrates load, accrual, mutation and persistence of
// player state. Every mutation for one identity runs under that identity's
// lock; no two identities are ever held at once.
type EconomyService struct {
	store    Store
	ranker   Ranker
	notifier Notifier
	cache    *cache.WriteBack
	locks    *keylock.Locker
	machine  *economy.Machine
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewEconomyService creates a new economy service
func NewEconomyService(
	store Store,
	ranker Ranker,
	wb *cache.WriteBack,
	machine *economy.Machine,
	opts Options,
	logger *slog.Logger,
) *EconomyService {
	return &EconomyService{
		store:    store,
		ranker:   ranker,
		notifier: nopNotifier{},
		cache:    wb,
		locks:    keylock.New(),
		machine:  machine,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// SetNotifier attaches the live channel. The hub depends on the service, so
// it is wired after construction.
func (s *EconomyService) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// SetClock replaces the time source
func (s *EconomyService) SetClock(now func() time.Time) {
	s.now = now
}

// mutation applies an action to an advanced player. It returns stones
// earned (commissionable) and journal metadata.
type mutation func(p *domain.Player, now time.Time) (earned int64, meta map[string]any, err error)

// mutate is the single path through which a request changes a player:
// load cache-first, advance accrual, validate and apply, persist, then fire
// referral commission after the player's lock is released.
func (s *EconomyService) mutate(ctx context.Context, playerID string, action domain.ActionType, fn mutation) (domain.StateView, error) {
	unlock := s.locks.Lock(playerID)

	p, err := s.load(ctx, playerID)
	if err != nil {
		unlock()
		return domain.StateView{}, err
	}

	now := s.now()
	prevLeague := p.League
	accrued := economy.Advance(p, now)
	before := p.Stones
	lastAction := p.LastActionTime

	earned, meta, err := fn(p, now)
	if err != nil {
		// A rejected manual tap still restarts the spacing window.
		if action == domain.ActionTap && !p.LastActionTime.Equal(lastAction) {
			s.touchActionTime(ctx, p.ID, p.LastActionTime)
		}
		unlock()
		metrics.ObserveAction(string(action), "rejected")
		return domain.StateView{}, err
	}

	// Pure reads only persist when accrual moved the balance.
	if action != domain.ActionAccrual || accrued > 0 {
		if err := s.commit(ctx, p, prevLeague, now, tolerantSave(action)); err != nil {
			unlock()
			metrics.ObserveAction(string(action), "error")
			return domain.StateView{}, err
		}
		if meta == nil {
			meta = map[string]any{}
		}
		if accrued > 0 {
			meta["accrued"] = accrued
		}
		s.record(ctx, p, action, p.Stones-before, now, meta)
	}

	view := s.machine.View(p, now)
	downstream := p.Clone()
	unlock()

	metrics.ObserveAction(string(action), "ok")
	if accrued > 0 {
		metrics.StonesMinedTotal.WithLabelValues(string(domain.ActionAccrual)).Add(float64(accrued))
	}
	if earned > 0 {
		metrics.StonesMinedTotal.WithLabelValues(string(action)).Add(float64(earned))
	}

	if action != domain.ActionAccrual {
		s.notifier.EmitToIdentity(playerID, EventState, view)
	}
	s.propagateCommission(ctx, downstream, accrued+earned)
	return view, nil
}

// load returns the durable player overlaid with a fresher cached snapshot.
func (s *EconomyService) load(ctx context.Context, playerID string) (*domain.Player, error) {
	p, err := s.store.FindByIdentity(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if snap, ok := s.cache.Get(playerID); ok {
		p.Apply(snap)
	}
	return p, nil
}

// tolerantSave reports whether an action may succeed on a failed durable
// write. The cache keeps the snapshot and the flusher retries it. Manual
// taps are excluded: energy and the action time live outside the snapshot.
func tolerantSave(action domain.ActionType) bool {
	switch action {
	case domain.ActionAutoTap, domain.ActionAccrual:
		return true
	}
	return false
}

// commit persists the player, refreshes its cached snapshot and moves it in
// the league ranking.
func (s *EconomyService) commit(ctx context.Context, p *domain.Player, prevLeague domain.League, now time.Time, tolerant bool) error {
	p.Version++
	p.UpdatedAt = now

	if err := s.store.Save(ctx, p); err != nil {
		if !tolerant {
			p.Version--
			return fmt.Errorf("saving player: %w", err)
		}
		s.logger.Warn("durable save failed, snapshot kept in cache", "player_id", p.ID, "error", err)
	}

	s.cache.Upsert(p.ID, p.Snapshot())
	metrics.CachedPlayers.Set(float64(s.cache.Len()))

	if err := s.ranker.UpdatePlayer(ctx, p.League, prevLeague, p.ID, p.Stones); err != nil {
		s.logger.Warn("failed to update league ranking", "player_id", p.ID, "error", err)
	}
	return nil
}

// record journals a successful action. Failures never fail the request.
func (s *EconomyService) record(ctx context.Context, p *domain.Player, action domain.ActionType, delta int64, now time.Time, meta map[string]any) {
	event := domain.EconomyEvent{
		ID:          uuid.NewString(),
		PlayerID:    p.ID,
		Action:      action,
		StonesDelta: delta,
		StonesAfter: p.Stones,
		Timestamp:   now,
		Metadata:    meta,
	}
	if err := s.store.RecordEvent(ctx, event); err != nil {
		s.logger.Warn("failed to record economy event", "player_id", p.ID, "action", action, "error", err)
	}
}

func (s *EconomyService) touchActionTime(ctx context.Context, playerID string, at time.Time) {
	if err := s.store.TouchActionTime(ctx, playerID, at); err != nil {
		s.logger.Warn("failed to persist action time", "player_id", playerID, "error", err)
	}
}

// Tap credits a manual tap.
func (s *EconomyService) Tap(ctx context.Context, playerID string, stonesEarned int64) (domain.StateView, error) {
	return s.mutate(ctx, playerID, domain.ActionTap, func(p *domain.Player, now time.Time) (int64, map[string]any, error) {
		credited, err := s.machine.Tap(p, stonesEarned, false, now)
		if err != nil {
			return 0, nil, err
		}
		return credited, map[string]any{"claimed": stonesEarned}, nil
	})
}

// SubmitAutoTaps credits an automated tap batch.
func (s *EconomyService) SubmitAutoTaps(ctx context.Context, sub domain.TapSubmission) (domain.StateView, error) {
	return s.mutate(ctx, sub.PlayerID, domain.ActionAutoTap, func(p *domain.Player, now time.Time) (int64, map[string]any, error) {
		credited, err := s.machine.Tap(p, sub.StonesEarned, true, now)
		if err != nil {
			return 0, nil, err
		}
		return credited, map[string]any{"claimed": sub.StonesEarned}, nil
	})
}

// BuyUpgrade purchases the next level of a levelled upgrade.
func (s *EconomyService) BuyUpgrade(ctx context.Context, playerID, name string) (domain.StateView, error) {
	kind, err := domain.ParseUpgradeKind(name)
	if err != nil {
		return domain.StateView{}, err
	}
	return s.mutate(ctx, playerID, domain.ActionUpgrade, func(p *domain.Player, _ time.Time) (int64, map[string]any, error) {
		cost, err := s.machine.BuyUpgrade(p, kind)
		if err != nil {
			return 0, nil, err
		}
		return 0, map[string]any{"upgrade": kind, "level": p.UpgradeLevel(kind), "cost": cost}, nil
	})
}

// Activate uses a daily consumable.
func (s *EconomyService) Activate(ctx context.Context, playerID, name string) (domain.StateView, error) {
	kind, err := domain.ParseUpgradeKind(name)
	if err != nil {
		return domain.StateView{}, err
	}
	return s.mutate(ctx, playerID, domain.ActionConsumable, func(p *domain.Player, now time.Time) (int64, map[string]any, error) {
		if err := s.machine.Activate(p, kind, now); err != nil {
			return 0, nil, err
		}
		return 0, map[string]any{"consumable": kind}, nil
	})
}

// BuySkin purchases a cosmetic.
func (s *EconomyService) BuySkin(ctx context.Context, playerID, name string) (domain.StateView, error) {
	return s.mutate(ctx, playerID, domain.ActionSkin, func(p *domain.Player, _ time.Time) (int64, map[string]any, error) {
		if err := s.machine.BuySkin(p, name); err != nil {
			return 0, nil, err
		}
		return 0, map[string]any{"skin": name}, nil
	})
}

// CompleteTask pays a one-time task reward.
func (s *EconomyService) CompleteTask(ctx context.Context, playerID, taskID string, declaredReward int64) (domain.StateView, error) {
	return s.mutate(ctx, playerID, domain.ActionTask, func(p *domain.Player, _ time.Time) (int64, map[string]any, error) {
		reward, err := s.machine.CompleteTask(p, taskID, declaredReward)
		if err != nil {
			return 0, nil, err
		}
		return reward, map[string]any{"task": taskID, "reward": reward}, nil
	})
}

// ConvertAirdrop moves stones into airdrop progress.
func (s *EconomyService) ConvertAirdrop(ctx context.Context, playerID string, amount int64) (domain.StateView, error) {
	return s.mutate(ctx, playerID, domain.ActionAirdrop, func(p *domain.Player, _ time.Time) (int64, map[string]any, error) {
		if err := s.machine.ConvertAirdrop(p, amount); err != nil {
			return 0, nil, err
		}
		return 0, map[string]any{"amount": amount}, nil
	})
}

// Profile returns the player's state brought up to now.
func (s *EconomyService) Profile(ctx context.Context, playerID string) (domain.StateView, error) {
	return s.mutate(ctx, playerID, domain.ActionAccrual, noop)
}

// Reconcile applies passive production for an idle player.
func (s *EconomyService) Reconcile(ctx context.Context, playerID string) error {
	_, err := s.mutate(ctx, playerID, domain.ActionAccrual, noop)
	return err
}

func noop(*domain.Player, time.Time) (int64, map[string]any, error) {
	return 0, nil, nil
}

// Connect warms the cache for a live session and returns current state.
func (s *EconomyService) Connect(ctx context.Context, playerID string) (domain.StateView, error) {
	view, err := s.Profile(ctx, playerID)
	if err != nil {
		return domain.StateView{}, err
	}

	unlock := s.locks.Lock(playerID)
	defer unlock()
	if _, ok := s.cache.Get(playerID); !ok {
		p, err := s.store.FindByIdentity(ctx, playerID)
		if err != nil {
			return domain.StateView{}, err
		}
		s.cache.Upsert(playerID, p.Snapshot())
		metrics.CachedPlayers.Set(float64(s.cache.Len()))
	}
	return view, nil
}

// Disconnect stamps LastOnline, writes the player back and drops its
// snapshot from the cache.
func (s *EconomyService) Disconnect(ctx context.Context, playerID string) error {
	unlock := s.locks.Lock(playerID)

	p, err := s.load(ctx, playerID)
	if err != nil {
		unlock()
		return err
	}
	now := s.now()
	prevLeague := p.League
	accrued := economy.Advance(p, now)
	p.LastOnline = now

	if err := s.commit(ctx, p, prevLeague, now, false); err != nil {
		unlock()
		return err
	}
	s.cache.Remove(playerID)
	metrics.CachedPlayers.Set(float64(s.cache.Len()))
	downstream := p.Clone()
	unlock()

	s.propagateCommission(ctx, downstream, accrued)
	return nil
}

// Flush writes every cached snapshot to the durable store.
func (s *EconomyService) Flush(ctx context.Context) (int, error) {
	snapshots := s.cache.All()
	if len(snapshots) == 0 {
		return 0, nil
	}
	if err := s.store.BulkUpsertSnapshots(ctx, snapshots); err != nil {
		return 0, fmt.Errorf("flushing snapshots: %w", err)
	}
	return len(snapshots), nil
}

// ListIdentities pages player ids for background work
func (s *EconomyService) ListIdentities(ctx context.Context, after string, limit int) ([]string, error) {
	return s.store.ListIdentities(ctx, after, limit)
}
