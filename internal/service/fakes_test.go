package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/stone-miner/internal/cache"
	"github.com/stone-miner/internal/domain"
	"github.com/stone-miner/internal/economy"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu        sync.Mutex
	players   map[string]*domain.Player
	events    []domain.EconomyEvent
	touched   map[string]time.Time
	flushed   []map[string]domain.Snapshot
	saveErr   error
	flushErr  error
	saveCalls int
}

func newMemStore() *memStore {
	return &memStore{
		players: make(map[string]*domain.Player),
		touched: make(map[string]time.Time),
	}
}

func (m *memStore) put(p *domain.Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[p.ID] = p.Clone()
}

func (m *memStore) get(id string) *domain.Player {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return nil
	}
	return p.Clone()
}

func (m *memStore) FindByIdentity(_ context.Context, id string) (*domain.Player, error) {
	if p := m.get(id); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("player %s: %w", id, domain.ErrNotFound)
}

func (m *memStore) FindByReferralCode(_ context.Context, code string) (*domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.players {
		if p.ReferralCode == code {
			return p.Clone(), nil
		}
	}
	return nil, fmt.Errorf("referral code %s: %w", code, domain.ErrNotFound)
}

func (m *memStore) Create(_ context.Context, p *domain.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.players[p.ID]; ok {
		return domain.ErrConflict
	}
	m.players[p.ID] = p.Clone()
	return nil
}

func (m *memStore) Save(_ context.Context, p *domain.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if m.saveErr != nil {
		return m.saveErr
	}
	if cur, ok := m.players[p.ID]; ok && cur.Version > p.Version {
		return nil
	}
	m.players[p.ID] = p.Clone()
	return nil
}

func (m *memStore) TouchActionTime(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[id] = at
	if p, ok := m.players[id]; ok {
		p.LastActionTime = at
	}
	return nil
}

func (m *memStore) BulkUpsertSnapshots(_ context.Context, snaps map[string]domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flushErr != nil {
		return m.flushErr
	}
	m.flushed = append(m.flushed, snaps)
	for id, s := range snaps {
		if p, ok := m.players[id]; ok {
			p.Apply(s)
		}
	}
	return nil
}

func (m *memStore) FindAllInLeague(_ context.Context, league domain.League, limit int) ([]domain.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []domain.LeaderboardEntry
	for _, p := range m.players {
		if p.League == league {
			entries = append(entries, domain.LeaderboardEntry{PlayerID: p.ID, Username: p.Username, Stones: p.Stones})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Stones > entries[j].Stones })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = int64(i + 1)
	}
	return entries, nil
}

func (m *memStore) FindFriends(_ context.Context, ids []string) ([]domain.FriendView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.FriendView
	for _, id := range ids {
		if p, ok := m.players[id]; ok {
			out = append(out, domain.FriendView{PlayerID: p.ID, Username: p.Username, Stones: p.Stones, IsPremium: p.IsPremium})
		}
	}
	return out, nil
}

func (m *memStore) ListIdentities(_ context.Context, after string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.players {
		if id > after {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memStore) RecordEvent(_ context.Context, e domain.EconomyEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

type memRanker struct {
	mu      sync.Mutex
	leagues map[domain.League]map[string]int64
	err     error
}

func newMemRanker() *memRanker {
	return &memRanker{leagues: make(map[domain.League]map[string]int64)}
}

func (r *memRanker) UpdatePlayer(_ context.Context, league, prev domain.League, id string, stones int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev != "" && prev != league {
		delete(r.leagues[prev], id)
	}
	if r.leagues[league] == nil {
		r.leagues[league] = make(map[string]int64)
	}
	r.leagues[league][id] = stones
	return nil
}

func (r *memRanker) SetPlayerInfo(context.Context, *domain.Player) error { return nil }

func (r *memRanker) Top(_ context.Context, league domain.League, n int) ([]domain.LeaderboardEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var entries []domain.LeaderboardEntry
	for id, stones := range r.leagues[league] {
		entries = append(entries, domain.LeaderboardEntry{PlayerID: id, Stones: stones})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Stones > entries[j].Stones })
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

func (r *memRanker) has(league domain.League, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.leagues[league][id]
	return ok
}

func (r *memRanker) BatchSet(_ context.Context, league domain.League, entries []domain.LeaderboardEntry) error {
	for _, e := range entries {
		if err := r.UpdatePlayer(context.Background(), league, "", e.PlayerID, e.Stones); err != nil {
			return err
		}
	}
	return nil
}

type emitted struct {
	playerID  string
	eventType string
}

type memNotifier struct {
	mu     sync.Mutex
	events []emitted
}

func (n *memNotifier) EmitToIdentity(id, eventType string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, emitted{id, eventType})
}

func (n *memNotifier) count(id, eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.playerID == id && e.eventType == eventType {
			c++
		}
	}
	return c
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc      *EconomyService
	store    *memStore
	ranker   *memRanker
	notifier *memNotifier
	cache    *cache.WriteBack
	clock    *fakeClock
}

func newHarness(opts ...economy.Option) *harness {
	h := &harness{
		store:    newMemStore(),
		ranker:   newMemRanker(),
		notifier: &memNotifier{},
		cache:    cache.NewWriteBack(),
		clock:    &fakeClock{now: epoch},
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h.svc = NewEconomyService(h.store, h.ranker, h.cache, economy.NewMachine(opts...), DefaultOptions(), logger)
	h.svc.SetNotifier(h.notifier)
	h.svc.SetClock(h.clock.Now)
	return h
}

func (h *harness) seed(id, code string, mutate func(p *domain.Player)) *domain.Player {
	p := domain.NewPlayer(id, "player-"+id, code, epoch)
	if mutate != nil {
		mutate(p)
	}
	p.League = domain.Classify(p.Stones)
	h.store.put(p)
	return p
}

var errStoreDown = errors.New("store unavailable")
