package battle

import (
	"errors"
	"fmt"
)

// ErrInvariant reports a violated grid/unit consistency rule.
var ErrInvariant = errors.New("battle invariant violated")

// Registry is the set of living units and the single source of truth for
// who stands where. Units are indexed by id and by cell.
type Registry struct {
	grid   *Grid
	units  []*Unit // by id; nil once dead
	byCell []int32 // cell index -> id+1, 0 when empty
	counts [3]int  // living units per faction
}

// NewRegistry builds a registry for units on grid, checking that every unit
// sits alone on an open cell and that ids are unique.
func NewRegistry(grid *Grid, units []Unit) (*Registry, error) {
	maxID := -1
	for _, u := range units {
		if u.ID < 0 {
			return nil, fmt.Errorf("%w: negative unit id %d", ErrInvariant, u.ID)
		}
		if u.ID > maxID {
			maxID = u.ID
		}
	}

	r := &Registry{
		grid:   grid,
		units:  make([]*Unit, maxID+1),
		byCell: make([]int32, grid.width*grid.height),
	}
	for _, u := range units {
		if u.Faction != Elf && u.Faction != Goblin {
			return nil, fmt.Errorf("%w: unit %d has no faction", ErrInvariant, u.ID)
		}
		if r.units[u.ID] != nil {
			return nil, fmt.Errorf("%w: duplicate unit id %d", ErrInvariant, u.ID)
		}
		if u.HP <= 0 {
			return nil, fmt.Errorf("%w: unit %d starts with %d hp", ErrInvariant, u.ID, u.HP)
		}
		if !grid.IsOpen(u.Pos) {
			return nil, fmt.Errorf("%w: unit %d at %s is not on an open cell", ErrInvariant, u.ID, u.Pos)
		}
		idx := grid.index(u.Pos)
		if r.byCell[idx] != 0 {
			return nil, fmt.Errorf("%w: units %d and %d share %s", ErrInvariant, r.byCell[idx]-1, u.ID, u.Pos)
		}
		cp := u
		r.units[u.ID] = &cp
		r.byCell[idx] = int32(u.ID + 1)
		r.counts[u.Faction]++
	}
	return r, nil
}

// UnitsInReadingOrder returns a snapshot of the living units sorted by position.
func (r *Registry) UnitsInReadingOrder() []Unit {
	out := make([]Unit, 0, r.counts[Elf]+r.counts[Goblin])
	for idx, id := range r.byCell {
		if id != 0 {
			u := *r.units[id-1]
			if r.grid.index(u.Pos) != idx {
				panic(fmt.Sprintf("battle: unit %d indexed at cell %d but stands at %s", u.ID, idx, u.Pos))
			}
			out = append(out, u)
		}
	}
	return out
}

// OccupantAt returns the living unit at p, if any.
func (r *Registry) OccupantAt(p Pos) (Unit, bool) {
	if !r.grid.InBounds(p) {
		return Unit{}, false
	}
	id := r.byCell[r.grid.index(p)]
	if id == 0 {
		return Unit{}, false
	}
	return *r.units[id-1], true
}

// Occupied reports whether a living unit stands at p.
func (r *Registry) Occupied(p Pos) bool {
	return r.grid.InBounds(p) && r.byCell[r.grid.index(p)] != 0
}

// Unit returns the current state of the unit with the given id. The second
// result is false once the unit has died.
func (r *Registry) Unit(id int) (Unit, bool) {
	if id < 0 || id >= len(r.units) || r.units[id] == nil {
		return Unit{}, false
	}
	return *r.units[id], true
}

// ApplyMove moves a living unit one step to an adjacent free open cell.
// Any other request is a caller bug and panics.
func (r *Registry) ApplyMove(id int, to Pos) {
	u := r.mustUnit(id)
	if !r.grid.IsOpen(to) {
		panic(fmt.Sprintf("battle: unit %d cannot move onto non-open cell %s", id, to))
	}
	if abs(u.Pos.X-to.X)+abs(u.Pos.Y-to.Y) != 1 {
		panic(fmt.Sprintf("battle: unit %d cannot move from %s to non-adjacent %s", id, u.Pos, to))
	}
	dst := r.grid.index(to)
	if r.byCell[dst] != 0 {
		panic(fmt.Sprintf("battle: unit %d cannot move onto %s held by unit %d", id, to, r.byCell[dst]-1))
	}
	r.byCell[r.grid.index(u.Pos)] = 0
	r.byCell[dst] = int32(id + 1)
	u.Pos = to
}

// ApplyDamage subtracts amount from a living unit's hit points. A unit left
// with zero or fewer hit points is removed immediately and its cell freed.
func (r *Registry) ApplyDamage(id int, amount int) (killed bool) {
	u := r.mustUnit(id)
	u.HP -= amount
	if u.HP > 0 {
		return false
	}
	r.byCell[r.grid.index(u.Pos)] = 0
	r.counts[u.Faction]--
	r.units[id] = nil
	return true
}

// FactionAlive reports whether any unit of f is still alive.
func (r *Registry) FactionAlive(f Faction) bool {
	return r.Count(f) > 0
}

// Count returns the number of living units of f.
func (r *Registry) Count(f Faction) int {
	if f != Elf && f != Goblin {
		return 0
	}
	return r.counts[f]
}

// TotalHitPoints sums hit points over all living units.
func (r *Registry) TotalHitPoints() int {
	total := 0
	for _, u := range r.units {
		if u != nil {
			total += u.HP
		}
	}
	return total
}

// Survivors returns the living units in id order.
func (r *Registry) Survivors() []Unit {
	var out []Unit
	for _, u := range r.units {
		if u != nil {
			out = append(out, *u)
		}
	}
	return out
}

// Validate checks grid/unit consistency: every living unit on an open cell,
// at most one unit per cell, the cell index in sync with unit positions and
// the per-faction counts correct.
func (r *Registry) Validate() error {
	var counts [3]int
	seen := make(map[Pos]int)
	for _, u := range r.units {
		if u == nil {
			continue
		}
		if u.HP <= 0 {
			return fmt.Errorf("%w: unit %d is registered with %d hp", ErrInvariant, u.ID, u.HP)
		}
		if !r.grid.IsOpen(u.Pos) {
			return fmt.Errorf("%w: unit %d at %s is not on an open cell", ErrInvariant, u.ID, u.Pos)
		}
		if other, ok := seen[u.Pos]; ok {
			return fmt.Errorf("%w: units %d and %d share %s", ErrInvariant, other, u.ID, u.Pos)
		}
		seen[u.Pos] = u.ID
		if got := r.byCell[r.grid.index(u.Pos)]; got != int32(u.ID+1) {
			return fmt.Errorf("%w: cell %s indexes unit %d, want %d", ErrInvariant, u.Pos, got-1, u.ID)
		}
		counts[u.Faction]++
	}

	occupied := 0
	for _, id := range r.byCell {
		if id != 0 {
			occupied++
		}
	}
	if occupied != len(seen) {
		return fmt.Errorf("%w: %d occupied cells for %d living units", ErrInvariant, occupied, len(seen))
	}
	if counts != r.counts {
		return fmt.Errorf("%w: faction counts %v, want %v", ErrInvariant, r.counts, counts)
	}
	return nil
}

func (r *Registry) mustUnit(id int) *Unit {
	if id < 0 || id >= len(r.units) || r.units[id] == nil {
		panic(fmt.Sprintf("battle: unit %d is not alive", id))
	}
	return r.units[id]
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
