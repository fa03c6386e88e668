// Package agents provides the agent data model, spawning and the per-tick
// foraging rules.
package agents

import (
	"github.com/CodePapayas/a-life-cs461/internal/world"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// Agent is one organism in the simulation.
type Agent struct {
	ID        AgentID
	Pos       world.Position
	Energy    float64
	MaxEnergy float64
	Age       uint64 // ticks lived

	// Lifetime bookkeeping for fitness.
	EnergyGained float64
	EnergySpent  float64
	Offspring    uint32

	Genome Genome
	Alive  bool
}

// Fitness scores the agent with the default weights.
func (a *Agent) Fitness() float64 {
	return Fitness(a.Energy, a.MaxEnergy, a.Age, a.EnergyGained, a.EnergySpent, a.Offspring, DefaultWeights())
}

// Genome is the opaque heritable byte string. Only a few leading bytes are
// read as traits; the rest are carried for downstream decision models.
type Genome []byte

// MinGenomeLen is the number of bytes read as traits.
const MinGenomeLen = 4

func (g Genome) trait(i int) float64 {
	if i >= len(g) {
		return 0.5
	}
	return float64(g[i]) / 255
}

// Speed is the number of cells moved per tick, 1 to 3.
func (g Genome) Speed() int32 { return 1 + int32(g.trait(0)*2.999) }

// Perception is how far away food is noticed.
func (g Genome) Perception() float64 { return 3 + g.trait(1)*12 }

// Metabolism scales the per-tick energy cost, 0.5 to 1.5.
func (g Genome) Metabolism() float64 { return 0.5 + g.trait(2) }

// ReproductionThreshold is the share of max energy needed to reproduce.
func (g Genome) ReproductionThreshold() float64 { return 0.6 + g.trait(3)*0.3 }
