package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/freeeve/beverage-bandits/internal/logger"
	"github.com/freeeve/beverage-bandits/internal/model"
	"github.com/freeeve/beverage-bandits/internal/repository"
	"github.com/freeeve/beverage-bandits/pkg/battle"
)

// MaxMapBytes caps the size of a submitted map.
const MaxMapBytes = 64 << 10

var (
	ErrBattleNotFound = errors.New("battle not found")
	ErrInvalidMap     = errors.New("invalid map")
	ErrNoConvergence  = battle.ErrNoConvergence
)

// Options tunes how battles are run and cached.
type Options struct {
	MaxRounds       int
	CheckInvariants bool
	ResultTTL       time.Duration
}

// BattleService runs battles and records them.
type BattleService struct {
	battleRepo  repository.BattleRepository
	cache       repository.BattleCache
	broadcaster Broadcaster
	opts        Options
	wg          sync.WaitGroup
}

// NewBattleService creates a BattleService. cache may be nil.
func NewBattleService(battleRepo repository.BattleRepository, cache repository.BattleCache, broadcaster Broadcaster, opts Options) *BattleService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &BattleService{battleRepo: battleRepo, cache: cache, broadcaster: broadcaster, opts: opts}
}

// pending is a validated battle that has been recorded but not yet run.
type pending struct {
	battle *model.Battle
	grid   *battle.Grid
	units  []battle.Unit
}

// Simulate records and runs a battle on mapText for creatorID. A map whose
// digest is cached is not run again; its result is copied into the new
// battle. When the battle does not converge the failed battle is returned
// together with ErrNoConvergence.
func (s *BattleService) Simulate(ctx context.Context, creatorID, mapText string) (*model.Battle, error) {
	p, err := s.prepare(ctx, creatorID, mapText)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, p)
}

// Start records a battle and runs it in the background, returning the
// running battle. Progress is reported through the broadcaster.
func (s *BattleService) Start(ctx context.Context, creatorID, mapText string) (*model.Battle, error) {
	p, err := s.prepare(ctx, creatorID, mapText)
	if err != nil {
		return nil, err
	}
	bctx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		l := logger.ForBattle(logger.WithBattleID(bctx, p.battle.ID))
		defer func() {
			if rec := recover(); rec != nil {
				err := s.fail(bctx, p.battle.ID, fmt.Errorf("engine panic: %v", rec))
				l.Error().Err(err).Msg("Background battle panicked")
			}
		}()
		if _, err := s.execute(bctx, p); err != nil {
			l.Warn().Err(err).Msg("Background battle failed")
		}
	}()
	return p.battle, nil
}

// Wait blocks until all background battles have finished.
func (s *BattleService) Wait() {
	s.wg.Wait()
}

func (s *BattleService) prepare(ctx context.Context, creatorID, mapText string) (*pending, error) {
	if len(mapText) > MaxMapBytes {
		return nil, fmt.Errorf("%w: map exceeds %d bytes", ErrInvalidMap, MaxMapBytes)
	}
	grid, units, err := battle.ParseMap(mapText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMap, err)
	}
	b, err := s.battleRepo.Create(ctx, creatorID, battle.Digest(mapText), battle.Normalize(mapText))
	if err != nil {
		return nil, err
	}
	return &pending{battle: b, grid: grid, units: units}, nil
}

func (s *BattleService) execute(ctx context.Context, p *pending) (*model.Battle, error) {
	b, digest := p.battle, p.battle.Digest
	ctx = logger.WithBattleID(ctx, b.ID)
	l := logger.ForBattle(ctx)

	if cached := s.cachedResult(ctx, digest); cached != nil {
		if err := s.battleRepo.SetFinished(ctx, b.ID, *cached, true); err != nil {
			return nil, s.fail(ctx, b.ID, err)
		}
		l.Info().Int("outcome", cached.Outcome).Msg("Battle served from cache")
		return s.finish(ctx, b.ID)
	}

	var rounds []model.Round
	cfg := battle.Config{
		MaxRounds:       s.opts.MaxRounds,
		CheckInvariants: s.opts.CheckInvariants,
		OnRound: func(sum battle.RoundSummary) {
			rounds = append(rounds, model.Round{
				BattleID:  b.ID,
				Round:     sum.Round,
				Elves:     sum.Elves,
				Goblins:   sum.Goblins,
				HitPoints: sum.HitPoints,
				Deaths:    sum.Deaths,
			})
			s.broadcaster.BroadcastBattleEvent(b.ID, EventRoundCompleted, sum)
			if s.cache != nil {
				if err := s.cache.SetStatus(ctx, b.ID, sum.Round); err != nil {
					l.Warn().Err(err).Msg("Failed to update battle status")
				}
			}
		},
	}
	eng, err := battle.New(p.grid, p.units, cfg)
	if err != nil {
		return nil, s.fail(ctx, b.ID, err)
	}

	start := time.Now()
	res, runErr := eng.RunContext(ctx)
	// The outcome is recorded even if the caller went away mid-run.
	ctx = context.WithoutCancel(ctx)
	if err := s.battleRepo.SaveRounds(ctx, rounds); err != nil {
		return nil, s.fail(ctx, b.ID, err)
	}
	if runErr != nil {
		failErr := s.fail(ctx, b.ID, runErr)
		if !errors.Is(runErr, ErrNoConvergence) {
			return nil, failErr
		}
		failed, err := s.battleRepo.FindByID(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		return failed, failErr
	}

	cr, err := toCachedResult(res)
	if err != nil {
		return nil, s.fail(ctx, b.ID, err)
	}
	if err := s.battleRepo.SetFinished(ctx, b.ID, cr, false); err != nil {
		return nil, s.fail(ctx, b.ID, err)
	}
	if s.cache != nil {
		if err := s.cache.SetResult(ctx, digest, cr, s.opts.ResultTTL); err != nil {
			l.Warn().Err(err).Msg("Failed to cache battle result")
		}
	}
	l.Info().
		Int("rounds", res.Rounds).
		Int("hitPoints", res.HitPoints).
		Int("outcome", res.Outcome).
		Str("winner", res.Winner.String()).
		Dur("elapsed", time.Since(start)).
		Msg("Battle finished")
	return s.finish(ctx, b.ID)
}

// GetBattle returns a battle by ID. A running battle reports the last
// completed round as its round count.
func (s *BattleService) GetBattle(ctx context.Context, id string) (*model.Battle, error) {
	b, err := s.battleRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBattleNotFound
	}
	if b.Status == model.StatusRunning && s.cache != nil {
		round, ok, err := s.cache.GetStatus(ctx, id)
		if err != nil {
			l := logger.ForRequest(ctx)
			l.Warn().Err(err).Str("battleId", id).Msg("Failed to read battle status")
		} else if ok {
			b.Rounds = round
		}
	}
	return b, nil
}

// ListBattles returns a user's battles, newest first.
func (s *BattleService) ListBattles(ctx context.Context, creatorID string) ([]model.Battle, error) {
	return s.battleRepo.ListByCreator(ctx, creatorID)
}

// ListRounds returns the round history of a battle.
func (s *BattleService) ListRounds(ctx context.Context, battleID string) ([]model.Round, error) {
	b, err := s.battleRepo.FindByID(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBattleNotFound
	}
	return s.battleRepo.ListRounds(ctx, battleID)
}

func (s *BattleService) cachedResult(ctx context.Context, digest string) *model.CachedResult {
	if s.cache == nil {
		return nil
	}
	res, err := s.cache.GetResult(ctx, digest)
	if err != nil {
		l := logger.ForBattle(ctx)
		l.Warn().Err(err).Msg("Failed to read cached result")
		return nil
	}
	return res
}

// finish loads the finished battle, clears its live status and notifies
// subscribers.
func (s *BattleService) finish(ctx context.Context, id string) (*model.Battle, error) {
	b, err := s.battleRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBattleNotFound
	}
	s.clearStatus(ctx, id)
	s.broadcaster.BroadcastBattleEvent(id, EventBattleFinished, b)
	return b, nil
}

// fail marks the battle failed and returns cause wrapped with the battle ID.
func (s *BattleService) fail(ctx context.Context, id string, cause error) error {
	l := logger.ForBattle(ctx)
	l.Warn().Err(cause).Msg("Battle failed")
	if err := s.battleRepo.SetFailed(ctx, id, cause.Error()); err != nil {
		l.Error().Err(err).Msg("Failed to mark battle failed")
	}
	s.clearStatus(ctx, id)
	s.broadcaster.BroadcastBattleEvent(id, EventBattleFailed, map[string]string{"error": cause.Error()})
	return fmt.Errorf("battle %s: %w", id, cause)
}

func (s *BattleService) clearStatus(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.ClearStatus(ctx, id); err != nil {
		l := logger.ForBattle(ctx)
		l.Warn().Err(err).Msg("Failed to clear battle status")
	}
}

func toCachedResult(res battle.Result) (model.CachedResult, error) {
	units := res.Survivors
	if units == nil {
		units = []battle.Unit{}
	}
	survivors, err := json.Marshal(units)
	if err != nil {
		return model.CachedResult{}, fmt.Errorf("encode survivors: %w", err)
	}
	return model.CachedResult{
		Rounds:    res.Rounds,
		HitPoints: res.HitPoints,
		Outcome:   res.Outcome,
		Winner:    res.Winner.String(),
		Survivors: survivors,
	}, nil
}
