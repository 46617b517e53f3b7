package battle

import (
	"errors"
	"testing"
)

func TestParseMap(t *testing.T) {
	grid, units, err := ParseMap("####\n#.E#\n#G.#\n####\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if grid.Width() != 4 || grid.Height() != 4 {
		t.Fatalf("expected 4x4 grid, got %dx%d", grid.Width(), grid.Height())
	}

	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	if units[0] != (Unit{ID: 0, Faction: Elf, Pos: Pos{2, 1}, HP: DefaultHitPoints}) {
		t.Errorf("unexpected first unit %+v", units[0])
	}
	if units[1] != (Unit{ID: 1, Faction: Goblin, Pos: Pos{1, 2}, HP: DefaultHitPoints}) {
		t.Errorf("unexpected second unit %+v", units[1])
	}

	cases := []struct {
		p    Pos
		open bool
	}{
		{Pos{0, 0}, false},
		{Pos{1, 1}, true},
		{Pos{2, 1}, true}, // unit cells are open terrain
		{Pos{1, 2}, true},
		{Pos{3, 3}, false},
		{Pos{-1, 1}, false},
		{Pos{4, 1}, false},
		{Pos{1, 9}, false},
	}
	for _, tc := range cases {
		if got := grid.IsOpen(tc.p); got != tc.open {
			t.Errorf("IsOpen(%s): got %v, want %v", tc.p, got, tc.open)
		}
	}
}

func TestParseMapCRLFAndPadding(t *testing.T) {
	grid, units, err := ParseMap("\r\n\n###\r\n#E#\r\n###\r\n\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if grid.Width() != 3 || grid.Height() != 3 {
		t.Errorf("expected 3x3 grid, got %dx%d", grid.Width(), grid.Height())
	}
	if len(units) != 1 || units[0].Pos != (Pos{1, 1}) {
		t.Errorf("unexpected units %+v", units)
	}
}

func TestParseMapMalformed(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"blank lines only", "\n\n  \n"},
		{"ragged rows", "####\n#.#\n####"},
		{"unknown symbol", "####\n#.X#\n####"},
		{"lowercase unit", "####\n#.e#\n####"},
		{"inner space", "####\n# .#\n####"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ParseMap(tc.text)
			if !errors.Is(err, ErrMalformedMap) {
				t.Errorf("expected ErrMalformedMap, got %v", err)
			}
		})
	}
}

func TestParseMapUnitIDsInReadingOrder(t *testing.T) {
	_, units, err := ParseMap("#####\n#G.E#\n#EG.#\n#####")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []Pos{{1, 1}, {3, 1}, {1, 2}, {2, 2}}
	if len(units) != len(want) {
		t.Fatalf("expected %d units, got %d", len(want), len(units))
	}
	for i, u := range units {
		if u.ID != i || u.Pos != want[i] {
			t.Errorf("unit %d: got id %d at %s, want %s", i, u.ID, u.Pos, want[i])
		}
	}
}

func TestReadingOrderStrictTotal(t *testing.T) {
	grid, _, err := ParseMap("#####\n#...#\n#...#\n#####")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	var all []Pos
	for y := 0; y < grid.Height(); y++ {
		for x := 0; x < grid.Width(); x++ {
			all = append(all, Pos{x, y})
		}
	}
	for _, a := range all {
		if a.Less(a) {
			t.Errorf("%s < %s: reading order must be irreflexive", a, a)
		}
		for _, b := range all {
			if a == b {
				continue
			}
			if a.Less(b) == b.Less(a) {
				t.Errorf("%s and %s are not strictly ordered", a, b)
			}
			if a.Less(b) != (grid.index(a) < grid.index(b)) {
				t.Errorf("%s vs %s disagrees with dense index order", a, b)
			}
		}
	}
}

func TestNeighborsReadingOrder(t *testing.T) {
	n := Pos{5, 5}.Neighbors()
	want := [4]Pos{{5, 4}, {4, 5}, {6, 5}, {5, 6}}
	if n != want {
		t.Fatalf("expected %v, got %v", want, n)
	}
	for i := 1; i < len(n); i++ {
		if !n[i-1].Less(n[i]) {
			t.Errorf("neighbor %s should precede %s", n[i-1], n[i])
		}
	}
}

func TestNeighbors4Bounds(t *testing.T) {
	grid, _, err := ParseMap("###\n#.#\n###")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := len(grid.Neighbors4(Pos{0, 0})); got != 2 {
		t.Errorf("corner should have 2 in-bounds neighbors, got %d", got)
	}
	if got := len(grid.Neighbors4(Pos{1, 1})); got != 4 {
		t.Errorf("center should have 4 neighbors, got %d", got)
	}
}

func TestDigestNormalizes(t *testing.T) {
	a := Digest("###\n#E#\n###")
	b := Digest("\n###  \r\n#E#\r\n###\n\n")
	if a != b {
		t.Errorf("expected equal digests for equivalent maps")
	}
	if a == Digest("###\n#G#\n###") {
		t.Errorf("expected different digests for different maps")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestFactionOpponent(t *testing.T) {
	if Elf.Opponent() != Goblin || Goblin.Opponent() != Elf {
		t.Fatal("elf and goblin must oppose each other")
	}
	for _, f := range Factions() {
		got, ok := FactionFromSymbol(f.Symbol())
		if !ok || got != f {
			t.Errorf("symbol round trip failed for %s", f)
		}
		parsed, err := ParseFaction(f.String())
		if err != nil || parsed != f {
			t.Errorf("name round trip failed for %s: %v", f, err)
		}
	}
	defer func() {
		if recover() == nil {
			t.Error("expected panic for opponent of NoFaction")
		}
	}()
	NoFaction.Opponent()
}
