package agents

import (
	"math/rand"

	"github.com/CodePapayas/a-life-cs461/internal/world"
)

// MutationRate is the chance each genome byte changes in a child.
const MutationRate = 0.02

// Spawner creates agents and owns the id counter.
type Spawner struct {
	rng       *rand.Rand
	nextID    AgentID
	genomeLen int
	maxEnergy float64
}

// NewSpawner creates an agent spawner with the given seed. Genomes are
// genomeLen bytes, at least MinGenomeLen.
func NewSpawner(seed int64, genomeLen int) *Spawner {
	if genomeLen < MinGenomeLen {
		genomeLen = MinGenomeLen
	}
	return &Spawner{
		rng:       rand.New(rand.NewSource(seed + 300)),
		nextID:    1,
		genomeLen: genomeLen,
		maxEnergy: 100,
	}
}

// SetNextID sets the next agent ID to be issued (used when restoring).
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// NextID returns the id the next spawn will use.
func (s *Spawner) NextID() AgentID { return s.nextID }

// Rand exposes the spawner's generator so one seed drives a whole run.
func (s *Spawner) Rand() *rand.Rand { return s.rng }

// SpawnPopulation creates count agents at random cells of g.
func (s *Spawner) SpawnPopulation(count int, g *world.Grid) []*Agent {
	out := make([]*Agent, 0, count)
	for i := 0; i < count; i++ {
		p := world.Position{X: s.rng.Int31n(g.Width), Y: s.rng.Int31n(g.Height)}
		out = append(out, s.Spawn(p))
	}
	return out
}

// Spawn creates one agent with a random genome and half-full energy.
func (s *Spawner) Spawn(p world.Position) *Agent {
	id := s.nextID
	s.nextID++

	genome := make(Genome, s.genomeLen)
	s.rng.Read(genome)

	return &Agent{
		ID:        id,
		Pos:       p,
		Energy:    s.maxEnergy * (0.4 + s.rng.Float64()*0.2),
		MaxEnergy: s.maxEnergy,
		Genome:    genome,
		Alive:     true,
	}
}

// SpawnChild splits the parent's energy with a new agent whose genome is
// a mutated copy of the parent's.
func (s *Spawner) SpawnChild(parent *Agent) *Agent {
	id := s.nextID
	s.nextID++

	genome := make(Genome, len(parent.Genome))
	copy(genome, parent.Genome)
	for i := range genome {
		if s.rng.Float64() < MutationRate {
			genome[i] = byte(int(genome[i]) + s.rng.Intn(33) - 16)
		}
	}

	share := parent.Energy / 2
	parent.Energy -= share
	parent.Offspring++

	return &Agent{
		ID:        id,
		Pos:       parent.Pos,
		Energy:    share,
		MaxEnergy: parent.MaxEnergy,
		Genome:    genome,
		Alive:     true,
	}
}
