package battle

import (
	"encoding/json"
	"fmt"
)

const (
	// DefaultHitPoints is the starting hit points of every unit.
	DefaultHitPoints = 200
	// AttackPower is the damage dealt by a single attack.
	AttackPower = 3
)

// Faction is one of the two opposing sides.
type Faction uint8

const (
	NoFaction Faction = iota
	Elf
	Goblin
)

// Factions returns both factions in a fixed order.
func Factions() []Faction {
	return []Faction{Elf, Goblin}
}

// Opponent returns the opposing faction.
func (f Faction) Opponent() Faction {
	switch f {
	case Elf:
		return Goblin
	case Goblin:
		return Elf
	}
	panic(fmt.Sprintf("battle: no opponent for faction %d", f))
}

func (f Faction) String() string {
	switch f {
	case Elf:
		return "elf"
	case Goblin:
		return "goblin"
	}
	return ""
}

// Symbol returns the map character for the faction.
func (f Faction) Symbol() byte {
	switch f {
	case Elf:
		return 'E'
	case Goblin:
		return 'G'
	}
	return '?'
}

// FactionFromSymbol maps a map character to a faction.
func FactionFromSymbol(c byte) (Faction, bool) {
	switch c {
	case 'E':
		return Elf, true
	case 'G':
		return Goblin, true
	}
	return NoFaction, false
}

// ParseFaction maps a faction name ("elf", "goblin") back to a Faction.
func ParseFaction(s string) (Faction, error) {
	switch s {
	case "elf":
		return Elf, nil
	case "goblin":
		return Goblin, nil
	case "":
		return NoFaction, nil
	}
	return NoFaction, fmt.Errorf("unknown faction %q", s)
}

func (f Faction) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *Faction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseFaction(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Unit is a single combatant.
type Unit struct {
	ID      int     `json:"id"`
	Faction Faction `json:"faction"`
	Pos     Pos     `json:"pos"`
	HP      int     `json:"hp"`
}
