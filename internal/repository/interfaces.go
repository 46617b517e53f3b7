package repository

import (
	"context"
	"time"

	"github.com/freeeve/beverage-bandits/internal/model"
)

// UserRepository defines user data operations.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	Upsert(ctx context.Context, name string) (*model.User, error)
}

// BattleRepository defines battle and round data operations.
type BattleRepository interface {
	Create(ctx context.Context, creatorID, digest, mapText string) (*model.Battle, error)
	FindByID(ctx context.Context, id string) (*model.Battle, error)
	ListByCreator(ctx context.Context, creatorID string) ([]model.Battle, error)
	ListStale(ctx context.Context, startedBefore time.Time) ([]model.Battle, error)
	SetFinished(ctx context.Context, id string, res model.CachedResult, cached bool) error
	SetFailed(ctx context.Context, id, reason string) error
	SaveRounds(ctx context.Context, rounds []model.Round) error
	ListRounds(ctx context.Context, battleID string) ([]model.Round, error)
}

// BattleCache defines result caching and live status operations (Redis).
type BattleCache interface {
	GetResult(ctx context.Context, digest string) (*model.CachedResult, error)
	SetResult(ctx context.Context, digest string, res model.CachedResult, ttl time.Duration) error
	SetStatus(ctx context.Context, battleID string, round int) error
	GetStatus(ctx context.Context, battleID string) (int, bool, error)
	ClearStatus(ctx context.Context, battleID string) error
}
