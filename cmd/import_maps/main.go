// Command import_maps reads a JSONL corpus of battle maps, runs each one
// through the battle service and records the results in Postgres, so a
// regression corpus is browsable through the API.
//
// Each line is {"name": "...", "map": "...", "expected": 27730}; expected is
// optional and, when present, is checked against the computed outcome.
//
// Usage:
//
//	go run ./cmd/import_maps/ --input maps.jsonl --db postgres://...
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/beverage-bandits/internal/config"
	"github.com/freeeve/beverage-bandits/internal/model"
	"github.com/freeeve/beverage-bandits/internal/repository"
	"github.com/freeeve/beverage-bandits/internal/repository/postgres"
	redisrepo "github.com/freeeve/beverage-bandits/internal/repository/redis"
	"github.com/freeeve/beverage-bandits/internal/service"
)

// mapRecord is one line of the input corpus.
type mapRecord struct {
	Name     string `json:"name"`
	Map      string `json:"map"`
	Expected *int   `json:"expected"`
}

// summary counts the outcome of an import run.
type summary struct {
	Imported   int
	Mismatched int
	Failed     int
	Skipped    int
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	inputFile := flag.String("input", "", "Path to JSONL file")
	dbURL := flag.String("db", os.Getenv("DATABASE_URL"), "Postgres connection URL")
	redisURL := flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (empty disables caching)")
	owner := flag.String("owner", "importer", "User name that owns the imported battles")
	maxRounds := flag.Int("max-rounds", 0, "Give up after this many rounds (0 = default)")
	resultTTL := flag.Duration("result-ttl", config.Defaults().ResultTTL, "How long cached results are kept (0 = forever)")
	flag.Parse()

	if *inputFile == "" {
		log.Fatal().Msg("--input is required")
	}
	if *dbURL == "" {
		log.Fatal().Msg("--db or DATABASE_URL is required")
	}

	db, err := postgres.Connect(*dbURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	var cache repository.BattleCache
	if *redisURL != "" {
		rc, err := redisrepo.NewClient(*redisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Redis connection failed")
		}
		defer rc.Close()
		cache = rc
	}

	ctx := context.Background()
	user, err := postgres.NewUserRepo(db).Upsert(ctx, *owner)
	if err != nil {
		log.Fatal().Err(err).Str("owner", *owner).Msg("Failed to upsert owner")
	}

	svc := service.NewBattleService(postgres.NewBattleRepo(db), cache, nil, serviceOptions(*maxRounds, *resultTTL))

	f, err := os.Open(*inputFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open input")
	}
	defer f.Close()

	sum, err := importAll(ctx, f, svc, user.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read input")
	}
	log.Info().
		Int("imported", sum.Imported).
		Int("mismatched", sum.Mismatched).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Msg("Import done")
	if sum.Mismatched > 0 || sum.Failed > 0 {
		os.Exit(1)
	}
}

// serviceOptions builds the battle service options for an import run.
func serviceOptions(maxRounds int, resultTTL time.Duration) service.Options {
	return service.Options{MaxRounds: maxRounds, ResultTTL: resultTTL}
}

// importAll simulates every record in r sequentially.
func importAll(ctx context.Context, r io.Reader, svc *service.BattleService, ownerID string) (summary, error) {
	var sum summary
	scanner := bufio.NewScanner(r)
	// Maps can be larger than the default token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*service.MaxMapBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		rec, ok, err := parseRecord(scanner.Text(), lineNo)
		if !ok {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Int("line", lineNo).Msg("Skipping line")
			sum.Skipped++
			continue
		}

		b, err := svc.Simulate(ctx, ownerID, rec.Map)
		if err != nil {
			log.Error().Err(err).Str("name", rec.Name).Msg("Battle failed")
			sum.Failed++
			continue
		}
		sum.Imported++
		if err := verify(rec, b); err != nil {
			log.Error().Err(err).Str("name", rec.Name).Str("battleId", b.ID).Msg("Outcome mismatch")
			sum.Mismatched++
			continue
		}
		log.Info().Str("name", rec.Name).Str("battleId", b.ID).Int("outcome", b.Outcome).Bool("cached", b.Cached).Msg("Imported battle")
	}
	return sum, scanner.Err()
}

// parseRecord decodes one input line. ok is false for blank lines. Records
// without a name are named after their line number.
func parseRecord(line string, lineNo int) (rec mapRecord, ok bool, err error) {
	if strings.TrimSpace(line) == "" {
		return mapRecord{}, false, nil
	}
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return mapRecord{}, true, fmt.Errorf("bad JSON: %w", err)
	}
	if strings.TrimSpace(rec.Map) == "" {
		return mapRecord{}, true, errors.New("missing map")
	}
	if rec.Name == "" {
		rec.Name = fmt.Sprintf("line-%d", lineNo)
	}
	return rec, true, nil
}

// verify checks a finished battle against the record's expected outcome.
func verify(rec mapRecord, b *model.Battle) error {
	if rec.Expected == nil {
		return nil
	}
	if b.Outcome != *rec.Expected {
		return fmt.Errorf("%s: expected outcome %d, got %d", rec.Name, *rec.Expected, b.Outcome)
	}
	return nil
}
