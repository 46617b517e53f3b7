package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freeeve/beverage-bandits/internal/model"
)

// statusTTL bounds how long a live status key can outlive a crashed run.
const statusTTL = time.Hour

// Key patterns for Redis battle data.
func resultKey(digest string) string   { return "battle:result:" + digest }
func statusKey(battleID string) string { return "battle:" + battleID + ":round" }

// GetResult returns the cached result for a map digest, or nil on a miss.
func (c *Client) GetResult(ctx context.Context, digest string) (*model.CachedResult, error) {
	data, err := c.rdb.Get(ctx, resultKey(digest)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	var res model.CachedResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}

// SetResult caches a result under its map digest. A zero ttl keeps it forever.
func (c *Client) SetResult(ctx context.Context, digest string, res model.CachedResult, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return c.rdb.Set(ctx, resultKey(digest), data, ttl).Err()
}

// SetStatus records the last completed round of a running battle.
func (c *Client) SetStatus(ctx context.Context, battleID string, round int) error {
	return c.rdb.Set(ctx, statusKey(battleID), round, statusTTL).Err()
}

// GetStatus returns the last completed round of a running battle. The
// second result is false when no battle with that ID is running.
func (c *Client) GetStatus(ctx context.Context, battleID string) (int, bool, error) {
	s, err := c.rdb.Get(ctx, statusKey(battleID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get status: %w", err)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, fmt.Errorf("parse status %q: %w", s, err)
	}
	return n, true, nil
}

// ClearStatus removes the live status of a battle.
func (c *Client) ClearStatus(ctx context.Context, battleID string) error {
	return c.rdb.Del(ctx, statusKey(battleID)).Err()
}
