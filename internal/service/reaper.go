package service

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/beverage-bandits/internal/model"
	"github.com/freeeve/beverage-bandits/internal/repository"
)

// ReapReason is stored on battles that were abandoned mid-run.
const ReapReason = "battle abandoned while running"

// Reaper marks battles left in running state by a crashed or restarted
// server as failed. It listens for expired live status keys and runs a
// polling fallback in case keyspace notifications are unavailable.
type Reaper struct {
	rdb        *redis.Client
	battleRepo repository.BattleRepository
	cache      repository.BattleCache
	maxAge     time.Duration
	interval   time.Duration
}

// NewReaper creates a Reaper. Battles running longer than maxAge are reaped
// unless cache still holds a live status for them. rdb may be nil, in which
// case only polling is used; cache may be nil, in which case age alone
// decides.
func NewReaper(rdb *redis.Client, battleRepo repository.BattleRepository, cache repository.BattleCache, maxAge time.Duration) *Reaper {
	return &Reaper{rdb: rdb, battleRepo: battleRepo, cache: cache, maxAge: maxAge, interval: time.Minute}
}

// Start blocks until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	if r.rdb != nil {
		go r.listenKeyspace(ctx)
	}
	r.poll(ctx)
}

// listenKeyspace subscribes to Redis keyspace notifications for expired keys.
func (r *Reaper) listenKeyspace(ctx context.Context) {
	pubsub := r.rdb.PSubscribe(ctx, "__keyevent@*__:expired")
	defer pubsub.Close()

	log.Info().Msg("Reaper listening for expired battle status keys")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handleExpiry(ctx, msg.Payload)
		}
	}
}

// poll sweeps for stale battles once at start and then on every tick.
func (r *Reaper) poll(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", r.interval).Dur("maxAge", r.maxAge).Msg("Stale battle poller started")
	r.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stale battle poller stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep fails every running battle older than maxAge that is no longer
// reporting rounds and returns how many were reaped.
func (r *Reaper) Sweep(ctx context.Context) int {
	battles, err := r.battleRepo.ListStale(ctx, time.Now().Add(-r.maxAge))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list stale battles")
		return 0
	}
	reaped := 0
	for _, b := range battles {
		if r.isLive(ctx, b.ID) {
			continue
		}
		if err := r.battleRepo.SetFailed(ctx, b.ID, ReapReason); err != nil {
			log.Error().Err(err).Str("battleId", b.ID).Msg("Failed to reap battle")
			continue
		}
		log.Info().Str("battleId", b.ID).Time("createdAt", b.CreatedAt).Msg("Reaped stale battle")
		reaped++
	}
	return reaped
}

// isLive reports whether a battle refreshed its status key recently. A
// status lookup error counts as live so the next sweep decides.
func (r *Reaper) isLive(ctx context.Context, id string) bool {
	if r.cache == nil {
		return false
	}
	round, ok, err := r.cache.GetStatus(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("battleId", id).Msg("Failed to read battle status, skipping")
		return true
	}
	if ok {
		log.Debug().Str("battleId", id).Int("round", round).Msg("Long-running battle still live")
	}
	return ok
}

// handleExpiry processes an expired key. Only acts on battle status keys.
func (r *Reaper) handleExpiry(ctx context.Context, key string) {
	id, ok := battleIDFromStatusKey(key)
	if !ok {
		return
	}
	b, err := r.battleRepo.FindByID(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("battleId", id).Msg("Failed to load battle after status expiry")
		return
	}
	if b == nil || b.Status != model.StatusRunning {
		return
	}
	log.Info().Str("battleId", id).Msg("Battle status expired, reaping")
	if err := r.battleRepo.SetFailed(ctx, id, ReapReason); err != nil {
		log.Error().Err(err).Str("battleId", id).Msg("Failed to reap battle")
	}
}

// battleIDFromStatusKey extracts the ID from a "battle:<id>:round" key.
func battleIDFromStatusKey(key string) (string, bool) {
	if !strings.HasPrefix(key, "battle:") || !strings.HasSuffix(key, ":round") {
		return "", false
	}
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[1] == "" || parts[1] == "result" {
		return "", false
	}
	return parts[1], true
}
