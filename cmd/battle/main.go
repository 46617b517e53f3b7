// Command battle runs a single Beverage Bandits battle from a text map and
// prints its outcome.
//
// Usage:
//
//	battle -map input.txt
//	battle -json < input.txt
//	battle -map input.txt -persist -db postgres://... -redis redis://...
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/beverage-bandits/internal/config"
	"github.com/freeeve/beverage-bandits/internal/model"
	"github.com/freeeve/beverage-bandits/internal/repository"
	"github.com/freeeve/beverage-bandits/internal/repository/postgres"
	redisrepo "github.com/freeeve/beverage-bandits/internal/repository/redis"
	"github.com/freeeve/beverage-bandits/internal/service"
	"github.com/freeeve/beverage-bandits/pkg/battle"
)

// cliUser owns battles persisted from the command line.
const cliUser = "cli"

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	var (
		mapPath   string
		maxRounds int
		jsonOut   bool
		persist   bool
		check     bool
		dbURL     string
		redisURL  string
	)

	flag.StringVar(&mapPath, "map", "-", "Map file (- for stdin)")
	flag.IntVar(&maxRounds, "max-rounds", battle.DefaultMaxRounds, "Give up after this many rounds")
	flag.BoolVar(&jsonOut, "json", false, "Output the full result as JSON")
	flag.BoolVar(&persist, "persist", false, "Record the battle in Postgres and cache the result in Redis")
	flag.BoolVar(&check, "check", false, "Validate engine invariants after every unit turn")
	flag.StringVar(&dbURL, "db", "", "Database URL (or use DATABASE_URL env)")
	flag.StringVar(&redisURL, "redis", "", "Redis URL (or use REDIS_URL env, empty disables caching)")
	flag.Parse()

	text, err := readMap(mapPath)
	if err != nil {
		log.Fatal().Err(err).Str("map", mapPath).Msg("Failed to read map")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("Interrupted, stopping battle")
		cancel()
	}()

	if persist {
		b, err := runPersisted(ctx, text, maxRounds, check, dbURL, redisURL)
		if err != nil && b == nil {
			log.Fatal().Err(err).Msg("Battle failed")
		}
		printBattle(b, jsonOut)
		if err != nil {
			os.Exit(1)
		}
		return
	}

	bt, err := battle.Load(text, battle.Config{MaxRounds: maxRounds, CheckInvariants: check})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid map")
	}
	res, err := bt.RunContext(ctx)
	if err != nil {
		log.Fatal().Err(err).Int("rounds", bt.Rounds()).Msg("Battle failed")
	}
	if jsonOut {
		printJSON(res)
		return
	}
	fmt.Println(res.Outcome)
}

func readMap(path string) (string, error) {
	if path == "-" {
		return readMapFrom(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return readMapFrom(f)
}

// readMapFrom reads a whole map, rejecting anything the server would refuse
// rather than running a truncated grid.
func readMapFrom(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, service.MaxMapBytes+1))
	if err != nil {
		return "", err
	}
	if len(b) > service.MaxMapBytes {
		return "", fmt.Errorf("%w: map exceeds %d bytes", service.ErrInvalidMap, service.MaxMapBytes)
	}
	return string(b), nil
}

// runPersisted runs the battle through the service so it lands in the same
// history and result cache the server uses.
func runPersisted(ctx context.Context, text string, maxRounds int, check bool, dbURL, redisURL string) (*model.Battle, error) {
	defaults := config.Defaults()
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		dbURL = defaults.DatabaseURL
	}
	if redisURL == "" {
		redisURL = os.Getenv("REDIS_URL")
	}

	db, err := postgres.Connect(dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	var cache repository.BattleCache
	if redisURL != "" {
		rc, err := redisrepo.NewClient(redisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		defer rc.Close()
		cache = rc
	}

	user, err := postgres.NewUserRepo(db).Upsert(ctx, cliUser)
	if err != nil {
		return nil, fmt.Errorf("upsert cli user: %w", err)
	}

	svc := service.NewBattleService(postgres.NewBattleRepo(db), cache, nil, service.Options{
		MaxRounds:       maxRounds,
		CheckInvariants: check,
		ResultTTL:       defaults.ResultTTL,
	})
	b, err := svc.Simulate(ctx, user.ID, text)
	if errors.Is(err, service.ErrNoConvergence) {
		log.Warn().Str("battleId", b.ID).Int("maxRounds", maxRounds).Msg("Battle did not converge")
	}
	return b, err
}

func printBattle(b *model.Battle, jsonOut bool) {
	if jsonOut {
		printJSON(b)
		return
	}
	if b.Status != model.StatusFinished {
		fmt.Printf("battle %s %s: %s\n", b.ID, b.Status, b.Error)
		return
	}
	fmt.Println(b.Outcome)
	source := "simulated"
	if b.Cached {
		source = "cached"
	}
	log.Info().Str("battleId", b.ID).Str("winner", b.Winner).Int("rounds", b.Rounds).Int("hitPoints", b.HitPoints).Str("source", source).Msg("Battle recorded")
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal().Err(err).Msg("Failed to encode result")
	}
}
