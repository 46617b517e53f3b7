package battle

import "fmt"

// IsAdjacentToEnemy reports whether any orthogonal neighbor of u holds a
// living unit of the opposing faction.
func IsAdjacentToEnemy(reg *Registry, u Unit) bool {
	enemy := u.Faction.Opponent()
	for _, n := range u.Pos.Neighbors() {
		if o, ok := reg.OccupantAt(n); ok && o.Faction == enemy {
			return true
		}
	}
	return false
}

// SelectTarget picks the adjacent enemy with the fewest hit points, ties
// broken by reading order. The second result is false when no enemy is
// adjacent.
func SelectTarget(reg *Registry, u Unit) (Unit, bool) {
	enemy := u.Faction.Opponent()
	var best Unit
	found := false
	for _, n := range u.Pos.Neighbors() {
		o, ok := reg.OccupantAt(n)
		if !ok || o.Faction != enemy {
			continue
		}
		if !found || o.HP < best.HP || (o.HP == best.HP && o.Pos.Less(best.Pos)) {
			best, found = o, true
		}
	}
	return best, found
}

// ResolveAttack deals AttackPower damage to target. A target brought to
// zero or fewer hit points is removed from reg and its cell freed.
// The attacker is unaffected.
func ResolveAttack(reg *Registry, attacker, target Unit) (killed bool) {
	if attacker.Faction == target.Faction {
		panic(fmt.Sprintf("battle: unit %d attacking ally %d", attacker.ID, target.ID))
	}
	return reg.ApplyDamage(target.ID, AttackPower)
}
