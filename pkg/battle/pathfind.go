package battle

import "fmt"

// Pathfinder picks the single step a unit takes toward the nearest enemy.
// Its distance and queue buffers are reused between calls.
type Pathfinder struct {
	grid  *Grid
	reg   *Registry
	dist  []int
	queue []int
}

// NewPathfinder creates a Pathfinder over grid, reading occupancy from reg.
func NewPathfinder(grid *Grid, reg *Registry) *Pathfinder {
	return &Pathfinder{
		grid:  grid,
		reg:   reg,
		dist:  make([]int, grid.width*grid.height),
		queue: make([]int, 0, grid.width*grid.height),
	}
}

// NextStep returns the neighbor cell u should move to, or false when no
// target square is reachable.
//
// The target is the reachable square next to an enemy at minimum distance
// from u, ties broken by reading order. The step is the free neighbor of u
// closest to that target, ties again broken by reading order. The two
// tie-breaks are separate: the square nearest u is not necessarily reached
// through the neighbor nearest the target.
//
// NextStep panics if u has no living enemies.
func (pf *Pathfinder) NextStep(u Unit) (Pos, bool) {
	if !pf.reg.FactionAlive(u.Faction.Opponent()) {
		panic(fmt.Sprintf("battle: pathfinding for unit %d with no living enemies", u.ID))
	}
	target, ok := pf.ChooseTarget(u)
	if !ok {
		return Pos{}, false
	}
	return pf.stepToward(u.Pos, target)
}

// ChooseTarget returns the reading-order-first of the nearest reachable
// squares adjacent to a living enemy of u.
func (pf *Pathfinder) ChooseTarget(u Unit) (Pos, bool) {
	pf.flood(u.Pos)

	var best Pos
	bestDist := -1
	for _, e := range pf.reg.UnitsInReadingOrder() {
		if e.Faction == u.Faction {
			continue
		}
		for _, sq := range e.Pos.Neighbors() {
			if !pf.passable(sq) {
				continue
			}
			d := pf.dist[pf.grid.index(sq)]
			if d < 0 {
				continue
			}
			if bestDist < 0 || d < bestDist || (d == bestDist && sq.Less(best)) {
				best, bestDist = sq, d
			}
		}
	}
	return best, bestDist >= 0
}

// stepToward floods backward from target and picks the free neighbor of
// from with the shortest remaining distance.
func (pf *Pathfinder) stepToward(from, target Pos) (Pos, bool) {
	pf.flood(target)

	var best Pos
	bestDist := -1
	for _, n := range from.Neighbors() {
		if !pf.passable(n) {
			continue
		}
		d := pf.dist[pf.grid.index(n)]
		if d < 0 {
			continue
		}
		if bestDist < 0 || d < bestDist || (d == bestDist && n.Less(best)) {
			best, bestDist = n, d
		}
	}
	return best, bestDist >= 0
}

// Distances returns a copy of the breadth-first distances from start over
// free open cells, indexed by position. Unreachable cells are absent.
func (pf *Pathfinder) Distances(start Pos) map[Pos]int {
	pf.flood(start)
	out := make(map[Pos]int)
	for idx, d := range pf.dist {
		if d >= 0 {
			out[pf.grid.pos(idx)] = d
		}
	}
	return out
}

// flood runs a breadth-first search from start over open unoccupied cells.
// start itself is always at distance 0, occupied or not.
func (pf *Pathfinder) flood(start Pos) {
	for i := range pf.dist {
		pf.dist[i] = -1
	}
	s := pf.grid.index(start)
	pf.dist[s] = 0
	pf.queue = append(pf.queue[:0], s)

	for head := 0; head < len(pf.queue); head++ {
		cur := pf.queue[head]
		for _, n := range pf.grid.pos(cur).Neighbors() {
			if !pf.passable(n) {
				continue
			}
			ni := pf.grid.index(n)
			if pf.dist[ni] >= 0 {
				continue
			}
			pf.dist[ni] = pf.dist[cur] + 1
			pf.queue = append(pf.queue, ni)
		}
	}
}

func (pf *Pathfinder) passable(p Pos) bool {
	return pf.grid.IsOpen(p) && !pf.reg.Occupied(p)
}
