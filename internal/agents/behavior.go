package agents

import (
	"math"
	"math/rand"

	"github.com/CodePapayas/a-life-cs461/internal/world"
)

// Per-tick energy economy.
const (
	BaseMetabolism = 0.5  // energy burned per tick at metabolism 1.0
	MoveCost       = 0.15 // energy per cell moved
	BiteSize       = 8.0  // most energy eaten per tick
	EatRange       = 1    // cells
)

// Step runs one tick of foraging for a: age, pay upkeep, move toward the
// nearest perceived node (or wander) and eat when adjacent. An agent whose
// energy runs out dies.
func Step(a *Agent, res *world.Resources, g *world.Grid, rng *rand.Rand) {
	if !a.Alive {
		return
	}
	a.Age++

	target := res.Nearest(a.Pos, a.Genome.Perception())
	var moved int32
	if target == nil || !target.InRange(a.Pos, EatRange) {
		next := a.Pos
		if target != nil {
			next = approach(a.Pos, target.Pos, a.Genome.Speed())
		} else {
			next = g.Clamp(world.Position{
				X: a.Pos.X + rng.Int31n(3) - 1,
				Y: a.Pos.Y + rng.Int31n(3) - 1,
			})
		}
		moved = next.Manhattan(a.Pos)
		a.Pos = next
	}

	spend(a, BaseMetabolism*a.Genome.Metabolism()+MoveCost*float64(moved))

	if target != nil && target.InRange(a.Pos, EatRange) {
		want := math.Min(BiteSize, a.MaxEnergy-a.Energy)
		got := target.Consume(want)
		a.Energy += got
		a.EnergyGained += got
	}

	if a.Energy <= 0 {
		a.Energy = 0
		a.Alive = false
	}
}

// CanReproduce reports whether a has enough energy for a child.
func CanReproduce(a *Agent) bool {
	return a.Alive && a.Energy >= a.MaxEnergy*a.Genome.ReproductionThreshold()
}

func spend(a *Agent, cost float64) {
	a.Energy -= cost
	a.EnergySpent += cost
}

// approach moves up to steps cells from p toward target along each axis,
// stopping next to it.
func approach(p, target world.Position, steps int32) world.Position {
	for i := int32(0); i < steps && p.Manhattan(target) > EatRange; i++ {
		switch {
		case p.X < target.X:
			p.X++
		case p.X > target.X:
			p.X--
		case p.Y < target.Y:
			p.Y++
		case p.Y > target.Y:
			p.Y--
		}
	}
	return p
}
