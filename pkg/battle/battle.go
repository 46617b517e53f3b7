// Package battle simulates the Beverage Bandits combat: elves and goblins
// move and fight on a walled grid until one side is gone.
//
// All scheduling and tie-breaking follows reading order (top to bottom,
// then left to right). The engine is single-threaded and deterministic:
// the same map always produces the same Result.
package battle

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoConvergence is returned when a battle is still going after the
// configured maximum number of rounds.
var ErrNoConvergence = errors.New("battle did not converge")

// DefaultMaxRounds caps a battle when Config.MaxRounds is not set.
const DefaultMaxRounds = 1000

// State is the scheduler state.
type State int

const (
	Active State = iota
	Ended
)

func (s State) String() string {
	if s == Ended {
		return "ended"
	}
	return "active"
}

// Config controls a single battle run.
type Config struct {
	MaxRounds       int                // 0 = DefaultMaxRounds
	CheckInvariants bool               // validate the registry after every unit turn
	OnRound         func(RoundSummary) // called after each completed round
}

// RoundSummary describes the board after a completed round.
type RoundSummary struct {
	Round     int `json:"round"`
	Elves     int `json:"elves"`
	Goblins   int `json:"goblins"`
	HitPoints int `json:"hit_points"`
	Deaths    int `json:"deaths"`
}

// Battle drives units through rounds of move-then-attack until one faction
// is eliminated. It is the only mutator of its Registry.
type Battle struct {
	grid   *Grid
	reg    *Registry
	pf     *Pathfinder
	cfg    Config
	rounds int
	state  State
}

// Load parses a text map and prepares a battle on it.
func Load(text string, cfg Config) (*Battle, error) {
	grid, units, err := ParseMap(text)
	if err != nil {
		return nil, err
	}
	return New(grid, units, cfg)
}

// New prepares a battle for units on grid.
func New(grid *Grid, units []Unit, cfg Config) (*Battle, error) {
	reg, err := NewRegistry(grid, units)
	if err != nil {
		return nil, err
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	b := &Battle{
		grid: grid,
		reg:  reg,
		pf:   NewPathfinder(grid, reg),
		cfg:  cfg,
	}
	if reg.Count(Elf)+reg.Count(Goblin) == 0 {
		b.state = Ended
	}
	return b, nil
}

// Grid returns the static terrain.
func (b *Battle) Grid() *Grid { return b.grid }

// Registry returns the live unit registry. Callers must not mutate it.
func (b *Battle) Registry() *Registry { return b.reg }

// Rounds returns the number of completed rounds.
func (b *Battle) Rounds() int { return b.rounds }

// State returns the scheduler state.
func (b *Battle) State() State { return b.state }

// PlayRound runs one round. Units act in the reading order of the round's
// starting positions; units killed earlier in the round are skipped. If an
// acting unit finds no living enemies the battle ends and the round is not
// counted. Returns true when the round completed.
func (b *Battle) PlayRound() (bool, error) {
	if b.state == Ended {
		return false, nil
	}

	deaths := 0
	for _, snap := range b.reg.UnitsInReadingOrder() {
		u, alive := b.reg.Unit(snap.ID)
		if !alive {
			continue
		}
		if !b.reg.FactionAlive(u.Faction.Opponent()) {
			b.state = Ended
			return false, nil
		}

		if !IsAdjacentToEnemy(b.reg, u) {
			if step, ok := b.pf.NextStep(u); ok {
				b.reg.ApplyMove(u.ID, step)
				u.Pos = step
			}
		}
		if target, ok := SelectTarget(b.reg, u); ok {
			if ResolveAttack(b.reg, u, target) {
				deaths++
			}
		}

		if b.cfg.CheckInvariants {
			if err := b.reg.Validate(); err != nil {
				return false, fmt.Errorf("round %d, unit %d: %w", b.rounds+1, u.ID, err)
			}
		}
	}

	b.rounds++
	if b.cfg.OnRound != nil {
		b.cfg.OnRound(RoundSummary{
			Round:     b.rounds,
			Elves:     b.reg.Count(Elf),
			Goblins:   b.reg.Count(Goblin),
			HitPoints: b.reg.TotalHitPoints(),
			Deaths:    deaths,
		})
	}
	return true, nil
}

// Run plays rounds until the battle ends and returns the final Result.
func (b *Battle) Run() (Result, error) {
	return b.RunContext(context.Background())
}

// RunContext is Run with cancellation checked between rounds.
func (b *Battle) RunContext(ctx context.Context) (Result, error) {
	for b.state == Active {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if _, err := b.PlayRound(); err != nil {
			return Result{}, err
		}
		if b.state == Active && b.rounds > b.cfg.MaxRounds {
			return Result{}, fmt.Errorf("%w: still active after %d rounds", ErrNoConvergence, b.rounds)
		}
	}
	return b.Result(), nil
}
