package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/freeeve/beverage-bandits/internal/model"
)

const battleColumns = `id, creator_id, digest, map_text, status, rounds, hit_points, outcome,
	winner, survivors, error, cached, created_at, finished_at`

// BattleRepo handles battle and round database operations.
type BattleRepo struct {
	db *sql.DB
}

// NewBattleRepo creates a BattleRepo.
func NewBattleRepo(db *sql.DB) *BattleRepo {
	return &BattleRepo{db: db}
}

// Create inserts a new running battle.
func (r *BattleRepo) Create(ctx context.Context, creatorID, digest, mapText string) (*model.Battle, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO battles (creator_id, digest, map_text)
		 VALUES ($1, $2, $3)
		 RETURNING `+battleColumns,
		creatorID, digest, mapText,
	)
	b, err := scanBattle(row)
	if err != nil {
		return nil, fmt.Errorf("create battle: %w", err)
	}
	return b, nil
}

// FindByID returns a battle by ID, or nil if it does not exist.
func (r *BattleRepo) FindByID(ctx context.Context, id string) (*model.Battle, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+battleColumns+` FROM battles WHERE id = $1`, id,
	)
	b, err := scanBattle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find battle: %w", err)
	}
	return b, nil
}

// ListByCreator returns a user's battles, newest first.
func (r *BattleRepo) ListByCreator(ctx context.Context, creatorID string) ([]model.Battle, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+battleColumns+` FROM battles
		 WHERE creator_id = $1
		 ORDER BY created_at DESC`, creatorID,
	)
	if err != nil {
		return nil, fmt.Errorf("list battles: %w", err)
	}
	defer rows.Close()

	var battles []model.Battle
	for rows.Next() {
		b, err := scanBattle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan battle: %w", err)
		}
		battles = append(battles, *b)
	}
	return battles, rows.Err()
}

// ListStale returns running battles created before startedBefore.
func (r *BattleRepo) ListStale(ctx context.Context, startedBefore time.Time) ([]model.Battle, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+battleColumns+` FROM battles
		 WHERE status = 'running' AND created_at < $1
		 ORDER BY created_at`, startedBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale battles: %w", err)
	}
	defer rows.Close()

	var battles []model.Battle
	for rows.Next() {
		b, err := scanBattle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan battle: %w", err)
		}
		battles = append(battles, *b)
	}
	return battles, rows.Err()
}

// SetFinished stores the outcome of a running battle and marks it finished.
// A battle already failed or finished is left as is.
func (r *BattleRepo) SetFinished(ctx context.Context, id string, res model.CachedResult, cached bool) error {
	survivors := res.Survivors
	if len(survivors) == 0 {
		survivors = json.RawMessage("[]")
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE battles
		 SET status = 'finished', rounds = $2, hit_points = $3, outcome = $4,
		     winner = $5, survivors = $6, cached = $7, finished_at = now()
		 WHERE id = $1 AND status = 'running'`,
		id, res.Rounds, res.HitPoints, res.Outcome, nullStr(res.Winner), []byte(survivors), cached,
	)
	if err != nil {
		return fmt.Errorf("set battle finished: %w", err)
	}
	return nil
}

// SetFailed marks a running battle as failed with a reason.
func (r *BattleRepo) SetFailed(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE battles SET status = 'failed', error = $2, finished_at = now()
		 WHERE id = $1 AND status = 'running'`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("set battle failed: %w", err)
	}
	return nil
}

// SaveRounds inserts a batch of round summaries.
func (r *BattleRepo) SaveRounds(ctx context.Context, rounds []model.Round) error {
	if len(rounds) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO rounds (battle_id, round, elves, goblins, hit_points, deaths)
		 VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("prepare insert round: %w", err)
	}
	defer stmt.Close()

	for _, rd := range rounds {
		_, err := stmt.ExecContext(ctx, rd.BattleID, rd.Round, rd.Elves, rd.Goblins, rd.HitPoints, rd.Deaths)
		if err != nil {
			return fmt.Errorf("insert round: %w", err)
		}
	}
	return tx.Commit()
}

// ListRounds returns a battle's round summaries in order.
func (r *BattleRepo) ListRounds(ctx context.Context, battleID string) ([]model.Round, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT battle_id, round, elves, goblins, hit_points, deaths
		 FROM rounds WHERE battle_id = $1 ORDER BY round`, battleID,
	)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []model.Round
	for rows.Next() {
		var rd model.Round
		if err := rows.Scan(&rd.BattleID, &rd.Round, &rd.Elves, &rd.Goblins, &rd.HitPoints, &rd.Deaths); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		rounds = append(rounds, rd)
	}
	return rounds, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBattle(s scanner) (*model.Battle, error) {
	var b model.Battle
	var winner, errText sql.NullString
	var survivors []byte
	err := s.Scan(&b.ID, &b.CreatorID, &b.Digest, &b.MapText, &b.Status, &b.Rounds, &b.HitPoints, &b.Outcome,
		&winner, &survivors, &errText, &b.Cached, &b.CreatedAt, &b.FinishedAt)
	if err != nil {
		return nil, err
	}
	b.Winner = winner.String
	b.Error = errText.String
	if len(survivors) > 0 {
		b.Survivors = json.RawMessage(survivors)
	}
	return &b, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
