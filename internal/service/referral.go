package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"strings"

	"github.com/stone-miner/internal/domain"
	"github.com/stone-miner/internal/economy"
	"github.com/stone-miner/internal/metrics"
)

// RegisterRequest carries first-contact profile data
type RegisterRequest struct {
	Username     string `json:"username"`
	PhotoURL     string `json:"photo_url"`
	IsPremium    bool   `json:"is_premium"`
	ReferralCode string `json:"referral_code"`
}

// Commission returns floor(earned * rate), never negative.
func Commission(earned int64, rate float64) int64 {
	if earned <= 0 || rate <= 0 {
		return 0
	}
	return int64(math.Floor(float64(earned) * rate))
}

// propagateCommission credits the upstream referrer of downstream with a
// share of earned. It must be called without downstream's lock held.
func (s *EconomyService) propagateCommission(ctx context.Context, downstream *domain.Player, earned int64) {
	if downstream.ReferredBy == "" {
		return
	}
	commission := Commission(earned, s.opts.CommissionRate)
	if commission <= 0 {
		return
	}

	referrer, err := s.store.FindByReferralCode(ctx, downstream.ReferredBy)
	if err != nil {
		if domain.IsNotFoundError(err) {
			s.logger.Debug("referrer not found, commission skipped",
				"player_id", downstream.ID, "referral_code", downstream.ReferredBy)
			return
		}
		s.logger.Error("failed to look up referrer", "player_id", downstream.ID, "error", err)
		return
	}
	if referrer.ID == downstream.ID {
		return
	}

	err = s.creditReferrer(ctx, referrer.ID, func(r *domain.Player) {
		r.Stones += commission
		r.ReferralBonus += commission
		r.RaiseHighWaterMark(downstream.ID, downstream.Stones)
	}, map[string]any{"from": downstream.ID, "earned": earned})
	if err != nil {
		s.logger.Error("failed to credit referral commission",
			"player_id", downstream.ID, "referrer_id", referrer.ID, "error", err)
		return
	}
	metrics.CommissionPaidTotal.Add(float64(commission))
}

// creditReferrer applies fn to the referrer under its own lock, persists it
// and notifies its live connection. Production the referrer accrued while
// loading is propagated upstream once its lock is released.
func (s *EconomyService) creditReferrer(ctx context.Context, referrerID string, fn func(r *domain.Player), meta map[string]any) error {
	unlock := s.locks.Lock(referrerID)

	r, err := s.load(ctx, referrerID)
	if err != nil {
		unlock()
		return err
	}
	now := s.now()
	prevLeague := r.League
	accrued := economy.Advance(r, now)
	before := r.Stones

	fn(r)
	r.League = domain.Classify(r.Stones)

	if err := s.commit(ctx, r, prevLeague, now, false); err != nil {
		unlock()
		return err
	}
	s.record(ctx, r, domain.ActionCommission, r.Stones-before, now, meta)
	view := s.machine.View(r, now)
	upstream := r.Clone()
	unlock()

	s.notifier.EmitToIdentity(referrerID, EventCommission, view)
	s.propagateCommission(ctx, upstream, accrued)
	return nil
}

// SignupBonus returns the flat bonus paid to both sides of a referral.
func (s *EconomyService) SignupBonus(premium bool) int64 {
	if premium {
		return s.opts.PremiumSignupBonus
	}
	return s.opts.SignupBonus
}

// Register creates the player on first contact, redeeming an optional
// referral code. A known player gets its profile fields refreshed.
func (s *EconomyService) Register(ctx context.Context, playerID string, req RegisterRequest) (domain.StateView, bool, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return domain.StateView{}, false, fmt.Errorf("player id required: %w", domain.ErrInvalidInput)
	}

	unlock := s.locks.Lock(playerID)

	existing, err := s.store.FindByIdentity(ctx, playerID)
	switch {
	case err == nil:
		unlock()
		if err := s.refreshProfile(ctx, existing, req); err != nil {
			return domain.StateView{}, false, err
		}
		view, err := s.Profile(ctx, playerID)
		return view, false, err
	case !domain.IsNotFoundError(err):
		unlock()
		return domain.StateView{}, false, err
	}

	now := s.now()
	code, err := s.uniqueReferralCode(ctx)
	if err != nil {
		unlock()
		return domain.StateView{}, false, err
	}

	p := domain.NewPlayer(playerID, strings.TrimSpace(req.Username), code, now)
	p.PhotoURL = req.PhotoURL
	p.IsPremium = req.IsPremium

	var referrer *domain.Player
	if ref := strings.TrimSpace(req.ReferralCode); ref != "" {
		referrer, err = s.store.FindByReferralCode(ctx, ref)
		switch {
		case err == nil:
			p.ReferredBy = ref
			p.Stones += s.SignupBonus(p.IsPremium)
			p.League = domain.Classify(p.Stones)
		case domain.IsNotFoundError(err):
			s.logger.Debug("unknown referral code at signup", "player_id", playerID, "referral_code", ref)
			referrer = nil
		default:
			unlock()
			return domain.StateView{}, false, err
		}
	}

	if err := s.store.Create(ctx, p); err != nil {
		unlock()
		return domain.StateView{}, false, err
	}
	s.cache.Upsert(p.ID, p.Snapshot())
	if err := s.ranker.SetPlayerInfo(ctx, p); err != nil {
		s.logger.Warn("failed to cache player info", "player_id", p.ID, "error", err)
	}
	if err := s.ranker.UpdatePlayer(ctx, p.League, "", p.ID, p.Stones); err != nil {
		s.logger.Warn("failed to update league ranking", "player_id", p.ID, "error", err)
	}
	if p.Stones > 0 {
		s.record(ctx, p, domain.ActionSignup, p.Stones, now, map[string]any{"referral_code": p.ReferredBy})
	}
	view := s.machine.View(p, now)
	unlock()

	s.logger.Info("player registered", "player_id", p.ID, "referred", referrer != nil)

	if referrer != nil && referrer.ID != p.ID {
		bonus := s.SignupBonus(p.IsPremium)
		err := s.creditReferrer(ctx, referrer.ID, func(r *domain.Player) {
			r.Stones += bonus
			r.ReferralBonus += bonus
			r.RaiseHighWaterMark(p.ID, 0)
		}, map[string]any{"signup": p.ID, "premium": p.IsPremium})
		if err != nil {
			s.logger.Error("failed to credit signup bonus", "player_id", p.ID, "referrer_id", referrer.ID, "error", err)
		}
	}
	return view, true, nil
}

func (s *EconomyService) refreshProfile(ctx context.Context, p *domain.Player, req RegisterRequest) error {
	username := strings.TrimSpace(req.Username)
	if (username == "" || username == p.Username) && req.PhotoURL == p.PhotoURL && req.IsPremium == p.IsPremium {
		return nil
	}

	unlock := s.locks.Lock(p.ID)
	defer unlock()

	fresh, err := s.load(ctx, p.ID)
	if err != nil {
		return err
	}
	if username != "" {
		fresh.Username = username
	}
	fresh.PhotoURL = req.PhotoURL
	fresh.IsPremium = req.IsPremium
	if err := s.commit(ctx, fresh, fresh.League, s.now(), false); err != nil {
		return err
	}
	if err := s.ranker.SetPlayerInfo(ctx, fresh); err != nil {
		s.logger.Warn("failed to cache player info", "player_id", fresh.ID, "error", err)
	}
	return nil
}

// Friends lists a player's invited friends with their bonus totals.
func (s *EconomyService) Friends(ctx context.Context, playerID string) (domain.ReferralSummary, error) {
	p, err := s.load(ctx, playerID)
	if err != nil {
		return domain.ReferralSummary{}, err
	}

	ids := make([]string, 0, len(p.InvitedFriends))
	for _, f := range p.InvitedFriends {
		ids = append(ids, f.PlayerID)
	}
	friends, err := s.store.FindFriends(ctx, ids)
	if err != nil {
		return domain.ReferralSummary{}, err
	}
	if friends == nil {
		friends = []domain.FriendView{}
	}

	var base int64
	for _, f := range friends {
		base += s.SignupBonus(f.IsPremium)
	}
	return domain.ReferralSummary{
		InvitedFriends: friends,
		Bonus:          base,
		TotalBonus:     p.ReferralBonus + base,
	}, nil
}

const (
	referralCodeLetters  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referralCodeAttempts = 5
)

func (s *EconomyService) uniqueReferralCode(ctx context.Context) (string, error) {
	for i := 0; i < referralCodeAttempts; i++ {
		code, err := generateReferralCode()
		if err != nil {
			return "", fmt.Errorf("generating referral code: %w", err)
		}
		_, err = s.store.FindByReferralCode(ctx, code)
		if domain.IsNotFoundError(err) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free referral code after %d attempts: %w", referralCodeAttempts, domain.ErrConflict)
}

func generateReferralCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = referralCodeLetters[int(buf[i])%len(referralCodeLetters)]
	}
	return string(buf), nil
}
