package battle

// Result is the final state of an ended battle.
type Result struct {
	Rounds    int     `json:"rounds"`
	HitPoints int     `json:"hit_points"`
	Outcome   int     `json:"outcome"`
	Winner    Faction `json:"winner"`
	Survivors []Unit  `json:"survivors"`
}

// Outcome is the puzzle score: completed rounds times surviving hit points.
func Outcome(rounds, hitPoints int) int {
	return rounds * hitPoints
}

// Result computes the outcome from the current board. It is meaningful once
// State is Ended.
func (b *Battle) Result() Result {
	hp := b.reg.TotalHitPoints()
	winner := NoFaction
	for _, f := range Factions() {
		if b.reg.FactionAlive(f) && !b.reg.FactionAlive(f.Opponent()) {
			winner = f
		}
	}
	return Result{
		Rounds:    b.rounds,
		HitPoints: hp,
		Outcome:   Outcome(b.rounds, hp),
		Winner:    winner,
		Survivors: b.reg.Survivors(),
	}
}
