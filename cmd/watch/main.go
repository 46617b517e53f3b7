// Command watch submits a map to a running battle server and streams its
// progress over the WebSocket until the battle ends.
//
// Usage:
//
//	watch -url http://localhost:8009 -map input.txt
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
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/beverage-bandits/internal/client"
	"github.com/freeeve/beverage-bandits/internal/model"
)

func main() {
	url := flag.String("url", "http://localhost:8009", "server base URL")
	name := flag.String("name", "watcher", "dev login user name")
	mapPath := flag.String("map", "-", "Map file (- for stdin)")
	timeout := flag.Duration("timeout", 5*time.Minute, "give up waiting after this long")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	text, err := readMap(*mapPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read map")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("Received shutdown signal")
		cancel()
	}()

	b, err := watch(ctx, client.New(*name, *url), text)
	if err != nil {
		log.Fatal().Err(err).Msg("Watch failed")
	}
	if b.Status != model.StatusFinished {
		log.Error().Str("battleId", b.ID).Str("reason", b.Error).Msg("Battle failed")
		os.Exit(1)
	}
	log.Info().Str("battleId", b.ID).Str("winner", b.Winner).Int("rounds", b.Rounds).Int("hitPoints", b.HitPoints).Bool("cached", b.Cached).Msg("Battle finished")
	fmt.Println(b.Outcome)
}

// watch starts the battle asynchronously and logs round events until the
// battle reaches a terminal state.
func watch(ctx context.Context, c *client.Client, text string) (*model.Battle, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	if err := c.ConnectWS(ctx); err != nil {
		return nil, err
	}
	defer c.CloseWS()

	b, err := c.CreateBattle(ctx, text, true)
	if err != nil {
		return nil, err
	}
	log.Info().Str("battleId", b.ID).Msg("Battle started")

	if err := c.Subscribe(b.ID); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if _, err := c.Await(ctx, b.ID, nil, "subscribed"); err != nil {
		return nil, fmt.Errorf("await subscription: %w", err)
	}

	// Small battles can end before the subscription lands.
	if b, err = c.GetBattle(ctx, b.ID); err != nil {
		return nil, err
	}
	if b.Status != model.StatusRunning {
		return b, nil
	}

	_, err = c.Await(ctx, b.ID, logRound, "battle_finished", "battle_failed")
	if err != nil && !errors.Is(err, client.ErrClosed) {
		return nil, err
	}
	return c.GetBattle(context.WithoutCancel(ctx), b.ID)
}

func logRound(ev client.Event) {
	var r model.Round
	if err := json.Unmarshal(ev.Data, &r); err != nil {
		return
	}
	log.Info().Int("round", r.Round).Int("elves", r.Elves).Int("goblins", r.Goblins).Int("hitPoints", r.HitPoints).Int("deaths", r.Deaths).Msg("Round completed")
}

func readMap(path string) (string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
