package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/freeeve/beverage-bandits/internal/model"
)

type mockBattleRepo struct {
	battles map[string]*model.Battle
	rounds  map[string][]model.Round
	order   []string
	failIDs map[string]bool // SaveRounds fails for these battles

	finishErr error
}

func newMockBattleRepo() *mockBattleRepo {
	return &mockBattleRepo{
		battles: make(map[string]*model.Battle),
		rounds:  make(map[string][]model.Round),
		failIDs: make(map[string]bool),
	}
}

func (m *mockBattleRepo) Create(_ context.Context, creatorID, digest, mapText string) (*model.Battle, error) {
	b := &model.Battle{
		ID:        fmt.Sprintf("battle-%d", len(m.battles)+1),
		CreatorID: creatorID,
		Digest:    digest,
		MapText:   mapText,
		Status:    model.StatusRunning,
		CreatedAt: time.Now(),
	}
	m.battles[b.ID] = b
	m.order = append(m.order, b.ID)
	cp := *b
	return &cp, nil
}

func (m *mockBattleRepo) FindByID(_ context.Context, id string) (*model.Battle, error) {
	b, ok := m.battles[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *mockBattleRepo) ListByCreator(_ context.Context, creatorID string) ([]model.Battle, error) {
	var out []model.Battle
	for i := len(m.order) - 1; i >= 0; i-- {
		if b := m.battles[m.order[i]]; b.CreatorID == creatorID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *mockBattleRepo) ListStale(_ context.Context, startedBefore time.Time) ([]model.Battle, error) {
	var out []model.Battle
	for _, id := range m.order {
		b := m.battles[id]
		if b.Status == model.StatusRunning && b.CreatedAt.Before(startedBefore) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *mockBattleRepo) SetFinished(_ context.Context, id string, res model.CachedResult, cached bool) error {
	if m.finishErr != nil {
		return m.finishErr
	}
	b, ok := m.battles[id]
	if !ok {
		return errors.New("no such battle")
	}
	if b.Status != model.StatusRunning {
		return nil
	}
	now := time.Now()
	b.Status = model.StatusFinished
	b.Rounds = res.Rounds
	b.HitPoints = res.HitPoints
	b.Outcome = res.Outcome
	b.Winner = res.Winner
	b.Survivors = res.Survivors
	b.Cached = cached
	b.FinishedAt = &now
	return nil
}

func (m *mockBattleRepo) SetFailed(_ context.Context, id, reason string) error {
	b, ok := m.battles[id]
	if !ok || b.Status != model.StatusRunning {
		return nil
	}
	now := time.Now()
	b.Status = model.StatusFailed
	b.Error = reason
	b.FinishedAt = &now
	return nil
}

func (m *mockBattleRepo) SaveRounds(_ context.Context, rounds []model.Round) error {
	for _, r := range rounds {
		if m.failIDs[r.BattleID] {
			return errors.New("insert round: connection reset")
		}
	}
	for _, r := range rounds {
		m.rounds[r.BattleID] = append(m.rounds[r.BattleID], r)
	}
	return nil
}

func (m *mockBattleRepo) ListRounds(_ context.Context, battleID string) ([]model.Round, error) {
	out := append([]model.Round(nil), m.rounds[battleID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Round < out[j].Round })
	return out, nil
}

type mockCache struct {
	results   map[string]model.CachedResult
	ttls      map[string]time.Duration
	status    map[string]int
	statuses  int // total SetStatus calls
	getErr    error
	statusErr error
}

func newMockCache() *mockCache {
	return &mockCache{
		results: make(map[string]model.CachedResult),
		ttls:    make(map[string]time.Duration),
		status:  make(map[string]int),
	}
}

func (m *mockCache) GetResult(_ context.Context, digest string) (*model.CachedResult, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	r, ok := m.results[digest]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *mockCache) SetResult(_ context.Context, digest string, res model.CachedResult, ttl time.Duration) error {
	m.results[digest] = res
	m.ttls[digest] = ttl
	return nil
}

func (m *mockCache) SetStatus(_ context.Context, battleID string, round int) error {
	m.status[battleID] = round
	m.statuses++
	return nil
}

func (m *mockCache) GetStatus(_ context.Context, battleID string) (int, bool, error) {
	if m.statusErr != nil {
		return 0, false, m.statusErr
	}
	r, ok := m.status[battleID]
	return r, ok, nil
}

func (m *mockCache) ClearStatus(_ context.Context, battleID string) error {
	delete(m.status, battleID)
	return nil
}

type recordedEvent struct {
	battleID  string
	eventType string
	data      any
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (m *mockBroadcaster) BroadcastBattleEvent(battleID, eventType string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, recordedEvent{battleID, eventType, data})
}

func (m *mockBroadcaster) count(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.eventType == eventType {
			n++
		}
	}
	return n
}

func (m *mockBroadcaster) last() recordedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[len(m.events)-1]
}
