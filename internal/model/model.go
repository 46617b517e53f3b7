package model

import (
	"encoding/json"
	"time"
)

// Battle statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// User is someone who can submit battles.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Battle is a stored simulation of one map.
type Battle struct {
	ID         string          `json:"id"`
	CreatorID  string          `json:"creator_id"`
	Digest     string          `json:"digest"`
	MapText    string          `json:"map"`
	Status     string          `json:"status"` // running, finished, failed
	Rounds     int             `json:"rounds"`
	HitPoints  int             `json:"hit_points"`
	Outcome    int             `json:"outcome"`
	Winner     string          `json:"winner,omitempty"`
	Survivors  json.RawMessage `json:"survivors,omitempty"`
	Error      string          `json:"error,omitempty"`
	Cached     bool            `json:"cached"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Round is the board summary after one completed round of a battle.
type Round struct {
	BattleID  string `json:"battle_id"`
	Round     int    `json:"round"`
	Elves     int    `json:"elves"`
	Goblins   int    `json:"goblins"`
	HitPoints int    `json:"hit_points"`
	Deaths    int    `json:"deaths"`
}

// CachedResult is the engine result stored under a map digest.
type CachedResult struct {
	Rounds    int             `json:"rounds"`
	HitPoints int             `json:"hit_points"`
	Outcome   int             `json:"outcome"`
	Winner    string          `json:"winner"`
	Survivors json.RawMessage `json:"survivors"`
}
