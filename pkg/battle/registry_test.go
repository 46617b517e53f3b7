package battle

import (
	"errors"
	"testing"
)

func TestNewRegistryRejectsInvalidUnits(t *testing.T) {
	grid, _, err := ParseMap("#####\n#...#\n#####")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	cases := []struct {
		name  string
		units []Unit
	}{
		{"on wall", []Unit{{ID: 0, Faction: Elf, Pos: Pos{0, 0}, HP: 200}}},
		{"off grid", []Unit{{ID: 0, Faction: Elf, Pos: Pos{9, 9}, HP: 200}}},
		{"shared cell", []Unit{
			{ID: 0, Faction: Elf, Pos: Pos{1, 1}, HP: 200},
			{ID: 1, Faction: Goblin, Pos: Pos{1, 1}, HP: 200},
		}},
		{"duplicate id", []Unit{
			{ID: 0, Faction: Elf, Pos: Pos{1, 1}, HP: 200},
			{ID: 0, Faction: Goblin, Pos: Pos{2, 1}, HP: 200},
		}},
		{"no faction", []Unit{{ID: 0, Pos: Pos{1, 1}, HP: 200}}},
		{"dead", []Unit{{ID: 0, Faction: Elf, Pos: Pos{1, 1}, HP: 0}}},
		{"negative id", []Unit{{ID: -1, Faction: Elf, Pos: Pos{1, 1}, HP: 200}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRegistry(grid, tc.units); !errors.Is(err, ErrInvariant) {
				t.Errorf("expected ErrInvariant, got %v", err)
			}
		})
	}
}

func TestRegistryUnitsInReadingOrder(t *testing.T) {
	grid, units, err := ParseMap("#####\n#E.G#\n#G.E#\n#####")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg, err := NewRegistry(grid, units)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	// Kill the goblin at (1,2) and move elf 0 into its cell; order follows
	// positions, not ids.
	reg.ApplyDamage(2, DefaultHitPoints) // goblin at (1,2)
	reg.ApplyMove(0, Pos{1, 2})

	got := reg.UnitsInReadingOrder()
	want := []Pos{{3, 1}, {1, 2}, {3, 2}}
	if len(got) != len(want) {
		t.Fatalf("expected %d units, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Pos != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i].Pos, want[i])
		}
	}

	// The snapshot is a copy.
	got[0].HP = 1
	if u, _ := reg.Unit(got[0].ID); u.HP != DefaultHitPoints {
		t.Error("mutating the snapshot must not affect the registry")
	}
	if err := reg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestRegistryCountsAndHitPoints(t *testing.T) {
	grid, units, err := ParseMap("######\n#EGGE#\n######")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg, err := NewRegistry(grid, units)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if reg.Count(Elf) != 2 || reg.Count(Goblin) != 2 {
		t.Fatalf("expected 2 and 2, got %d and %d", reg.Count(Elf), reg.Count(Goblin))
	}
	reg.ApplyDamage(1, 50)
	if got := reg.TotalHitPoints(); got != 4*DefaultHitPoints-50 {
		t.Errorf("expected %d hp, got %d", 4*DefaultHitPoints-50, got)
	}
	if killed := reg.ApplyDamage(1, 1000); !killed {
		t.Error("expected kill")
	}
	if reg.Count(Goblin) != 1 {
		t.Errorf("expected 1 goblin, got %d", reg.Count(Goblin))
	}
	if got := len(reg.Survivors()); got != 3 {
		t.Errorf("expected 3 survivors, got %d", got)
	}
	if reg.Count(NoFaction) != 0 {
		t.Error("NoFaction has no units")
	}
}

func TestRegistryContractViolationsPanic(t *testing.T) {
	grid, units, err := ParseMap("#####\n#EG.#\n#.#.#\n#####")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	cases := []struct {
		name string
		fn   func(r *Registry)
	}{
		{"move onto wall", func(r *Registry) { r.ApplyMove(0, Pos{1, 0}) }},
		{"move onto unit", func(r *Registry) { r.ApplyMove(0, Pos{2, 1}) }},
		{"move two cells", func(r *Registry) { r.ApplyMove(1, Pos{3, 2}) }},
		{"move dead unit", func(r *Registry) {
			r.ApplyDamage(0, DefaultHitPoints)
			r.ApplyMove(0, Pos{1, 2})
		}},
		{"damage unknown unit", func(r *Registry) { r.ApplyDamage(7, 1) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg, err := NewRegistry(grid, units)
			if err != nil {
				t.Fatalf("registry: %v", err)
			}
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tc.fn(reg)
		})
	}
}
