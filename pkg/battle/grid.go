package battle

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedMap is returned when the input map cannot be loaded.
var ErrMalformedMap = errors.New("malformed map")

// Pos identifies a cell by column X and row Y, origin top-left.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Less reports whether p comes before q in reading order (top row first,
// then left to right).
func (p Pos) Less(q Pos) bool {
	if p.Y != q.Y {
		return p.Y < q.Y
	}
	return p.X < q.X
}

// Neighbors returns the four orthogonal neighbors: up, left, right, down.
func (p Pos) Neighbors() [4]Pos {
	return [4]Pos{
		{p.X, p.Y - 1},
		{p.X - 1, p.Y},
		{p.X + 1, p.Y},
		{p.X, p.Y + 1},
	}
}

func (p Pos) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Cell is the static terrain of a single grid square.
type Cell uint8

const (
	Wall Cell = iota
	Open
)

// Grid is the static terrain map. It never holds unit data and is not
// mutated after ParseMap returns.
type Grid struct {
	width  int
	height int
	cells  []Cell
}

// Width returns the number of columns.
func (g *Grid) Width() int { return g.width }

// Height returns the number of rows.
func (g *Grid) Height() int { return g.height }

// InBounds reports whether p lies on the grid.
func (g *Grid) InBounds(p Pos) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.width && p.Y < g.height
}

// IsOpen reports whether p is an open cell. Positions off the grid are not open.
func (g *Grid) IsOpen(p Pos) bool {
	return g.InBounds(p) && g.cells[g.index(p)] == Open
}

// Neighbors4 returns the in-bounds orthogonal neighbors of p in reading order.
func (g *Grid) Neighbors4(p Pos) []Pos {
	out := make([]Pos, 0, 4)
	for _, n := range p.Neighbors() {
		if g.InBounds(n) {
			out = append(out, n)
		}
	}
	return out
}

// index returns the dense cell index for p. Increasing index is reading order.
func (g *Grid) index(p Pos) int { return p.Y*g.width + p.X }

// pos is the inverse of index.
func (g *Grid) pos(idx int) Pos { return Pos{X: idx % g.width, Y: idx / g.width} }

// ParseMap loads a text map: '#' wall, '.' open, 'E' elf, 'G' goblin.
// Units start on open cells with DefaultHitPoints and receive ids in reading order.
func ParseMap(text string) (*Grid, []Unit, error) {
	rows := mapLines(text)
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%w: no rows", ErrMalformedMap)
	}

	width := len(rows[0])
	if width == 0 {
		return nil, nil, fmt.Errorf("%w: row 0 is empty", ErrMalformedMap)
	}

	g := &Grid{
		width:  width,
		height: len(rows),
		cells:  make([]Cell, width*len(rows)),
	}
	var units []Unit

	for y, row := range rows {
		if len(row) != width {
			return nil, nil, fmt.Errorf("%w: row %d has width %d, want %d", ErrMalformedMap, y, len(row), width)
		}
		for x := 0; x < len(row); x++ {
			p := Pos{X: x, Y: y}
			c := row[x]
			switch c {
			case '#':
				g.cells[g.index(p)] = Wall
			case '.':
				g.cells[g.index(p)] = Open
			default:
				f, ok := FactionFromSymbol(c)
				if !ok {
					return nil, nil, fmt.Errorf("%w: unrecognized symbol %q at %s", ErrMalformedMap, c, p)
				}
				g.cells[g.index(p)] = Open
				units = append(units, Unit{ID: len(units), Faction: f, Pos: p, HP: DefaultHitPoints})
			}
		}
	}
	return g, units, nil
}

// mapLines splits map text into rows, dropping carriage returns and
// leading/trailing blank lines.
func mapLines(text string) []string {
	text = strings.ReplaceAll(text, "\r", "")
	lines := strings.Split(text, "\n")

	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	rows := make([]string, 0, end-start)
	for _, l := range lines[start:end] {
		rows = append(rows, strings.TrimRight(l, " \t"))
	}
	return rows
}
