// Simulation ties the world, the agents and checkpointing together and runs
// them each tick.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CodePapayas/a-life-cs461/internal/agents"
	"github.com/CodePapayas/a-life-cs461/internal/autosave"
	"github.com/CodePapayas/a-life-cs461/internal/history"
	"github.com/CodePapayas/a-life-cs461/internal/metrics"
	"github.com/CodePapayas/a-life-cs461/internal/snapshot"
	"github.com/CodePapayas/a-life-cs461/internal/world"
)

// ErrNoStore is returned by save and restore calls on a simulation built
// without a snapshot store.
var ErrNoStore = errors.New("engine: no snapshot store configured")

// Options configures a fresh world.
type Options struct {
	Width, Height   int32
	Seed            int64
	Agents          int
	Resources       int // target node count, topped up as nodes are exhausted
	HistoryCapacity int
	GenomeLen       int
	MaxAgents       int // reproduction stops at this population; 0 = 4x Agents
}

// DefaultOptions returns a small world.
func DefaultOptions() Options {
	return Options{
		Width:           64,
		Height:          64,
		Seed:            42,
		Agents:          50,
		Resources:       120,
		HistoryCapacity: 1000,
		GenomeLen:       64,
	}
}

// Simulation holds the complete world state and wires systems together.
type Simulation struct {
	Grid      *world.Grid
	Resources *world.Resources
	Agents    []*agents.Agent
	Spawner   *agents.Spawner
	History   *history.Ring[snapshot.HistoryPoint]

	// Checkpointing; both may be nil.
	Saves    *snapshot.Store
	AutoSave *autosave.Scheduler

	RunID    string
	LastTick uint64
	Stats    SimStats

	opts Options
	now  func() time.Time
}

// SimStats counts lifecycle events since the process started.
type SimStats struct {
	Births int `json:"births"`
	Deaths int `json:"deaths"`
}

// Status is a point-in-time summary for callers outside the loop.
type Status struct {
	RunID          string  `json:"run_id"`
	Tick           uint64  `json:"tick"`
	Agents         int     `json:"agents"`
	Resources      int     `json:"resources"`
	ResourceEnergy float64 `json:"resource_energy"`
	AvgAgentEnergy float64 `json:"avg_agent_energy"`
	AvgFitness     float64 `json:"avg_fitness"`
	Births         int     `json:"births"`
	Deaths         int     `json:"deaths"`
	HistoryLen     int     `json:"history_len"`
	HistoryCap     int     `json:"history_cap"`
}

// NewSimulation generates a world from opts. saves and sched may be nil to
// run without checkpoints.
func NewSimulation(opts Options, saves *snapshot.Store, sched *autosave.Scheduler) (*Simulation, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("engine: world size %dx%d must be positive", opts.Width, opts.Height)
	}
	hist, err := history.New[snapshot.HistoryPoint](opts.HistoryCapacity)
	if err != nil {
		return nil, fmt.Errorf("engine: history: %w", err)
	}
	if opts.MaxAgents <= 0 {
		opts.MaxAgents = 4 * max(opts.Agents, 1)
	}

	res := world.NewResources()
	grid := world.Generate(world.GenConfig{
		Width:     opts.Width,
		Height:    opts.Height,
		Seed:      opts.Seed,
		Resources: opts.Resources,
	}, res)
	spawner := agents.NewSpawner(opts.Seed, opts.GenomeLen)

	sim := &Simulation{
		Grid:      grid,
		Resources: res,
		Agents:    spawner.SpawnPopulation(opts.Agents, grid),
		Spawner:   spawner,
		History:   hist,
		Saves:     saves,
		AutoSave:  sched,
		RunID:     uuid.NewString(),
		opts:      opts,
		now:       time.Now,
	}
	metrics.AgentsAlive.Set(float64(len(sim.Agents)))
	return sim, nil
}

// Tick runs one simulation step: resources regrow, agents forage and
// breed, the dead and exhausted are removed, a history point is recorded
// and the auto-save scheduler is consulted.
func (s *Simulation) Tick(ctx context.Context, tick uint64) {
	s.LastTick = tick
	rng := s.Spawner.Rand()

	s.Resources.Update(1)

	var born []*agents.Agent
	for _, a := range s.Agents {
		agents.Step(a, s.Resources, s.Grid, rng)
		if agents.CanReproduce(a) && len(s.Agents)+len(born) < s.opts.MaxAgents {
			born = append(born, s.Spawner.SpawnChild(a))
		}
	}
	s.Agents = append(s.Agents, born...)
	s.Stats.Births += len(born)

	alive := s.Agents[:0]
	for _, a := range s.Agents {
		if a.Alive {
			alive = append(alive, a)
		} else {
			s.Stats.Deaths++
		}
	}
	clear(s.Agents[len(alive):])
	s.Agents = alive

	s.Resources.RemoveDepleted()
	s.replenish()

	s.History.Push(s.historyPoint(tick))
	metrics.SimulationTick.Set(float64(tick))
	metrics.AgentsAlive.Set(float64(len(s.Agents)))

	if s.AutoSave != nil {
		s.AutoSave.Tick(ctx, tick, s.BuildSnapshot)
	}
}

// replenish places one new node per tick while below the target count.
func (s *Simulation) replenish() {
	if s.Resources.Count() >= s.opts.Resources {
		return
	}
	rng := s.Spawner.Rand()
	p := world.Position{X: rng.Int31n(s.Grid.Width), Y: rng.Int31n(s.Grid.Height)}
	fert := s.Grid.Fertility(p)
	s.Resources.Create(p, world.Food, 20+fert*80, false)
}

func (s *Simulation) historyPoint(tick uint64) snapshot.HistoryPoint {
	hp := snapshot.HistoryPoint{
		Tick:           tick,
		Timestamp:      s.now(),
		AgentCount:     uint32(len(s.Agents)),
		TotalEnergy:    s.Resources.TotalEnergy(),
		TotalResources: uint32(s.Resources.Count()),
	}
	if len(s.Agents) > 0 {
		var energy, fitness float64
		for _, a := range s.Agents {
			energy += a.Energy
			fitness += a.Fitness()
		}
		hp.AvgAgentEnergy = energy / float64(len(s.Agents))
		hp.AvgFitness = fitness / float64(len(s.Agents))
	}
	return hp
}

// Status summarizes the current state.
func (s *Simulation) Status() Status {
	st := Status{
		RunID:          s.RunID,
		Tick:           s.LastTick,
		Agents:         len(s.Agents),
		Resources:      s.Resources.Count(),
		ResourceEnergy: s.Resources.TotalEnergy(),
		Births:         s.Stats.Births,
		Deaths:         s.Stats.Deaths,
		HistoryLen:     s.History.Len(),
		HistoryCap:     s.History.Cap(),
	}
	if latest, err := s.History.Latest(); err == nil && latest.Tick == s.LastTick {
		st.AvgAgentEnergy = latest.AvgAgentEnergy
		st.AvgFitness = latest.AvgFitness
	} else {
		hp := s.historyPoint(s.LastTick)
		st.AvgAgentEnergy, st.AvgFitness = hp.AvgAgentEnergy, hp.AvgFitness
	}
	return st
}

// BuildSnapshot captures the current state, including the history window.
// The result shares nothing with the live simulation.
func (s *Simulation) BuildSnapshot() *snapshot.Snapshot {
	snap := &snapshot.Snapshot{
		Tick:        s.LastTick,
		Timestamp:   s.now(),
		WorldWidth:  s.Grid.Width,
		WorldHeight: s.Grid.Height,
		RunID:       s.RunID,
		Agents:      make([]snapshot.AgentRecord, 0, len(s.Agents)),
		Resources:   make([]snapshot.ResourceRecord, 0, s.Resources.Count()),
	}

	var agentEnergy float64
	for _, a := range s.Agents {
		agentEnergy += a.Energy
		snap.Agents = append(snap.Agents, snapshot.AgentRecord{
			AgentID:        uint64(a.ID),
			Position:       snapshot.Position{X: a.Pos.X, Y: a.Pos.Y},
			Energy:         a.Energy,
			MaxEnergy:      a.MaxEnergy,
			Age:            a.Age,
			EnergyGained:   a.EnergyGained,
			EnergySpent:    a.EnergySpent,
			OffspringCount: a.Offspring,
			Fitness:        a.Fitness(),
			Genome:         append([]byte(nil), a.Genome...),
		})
	}
	for _, n := range s.Resources.Nodes() {
		snap.Resources = append(snap.Resources, snapshot.ResourceRecord{
			ResourceID:    n.ID,
			Position:      snapshot.Position{X: n.Pos.X, Y: n.Pos.Y},
			Type:          snapshot.ResourceType(n.Type),
			CurrentEnergy: n.CurrentEnergy,
			MaxEnergy:     n.MaxEnergy,
			Renewable:     n.Renewable,
			RegenRate:     n.RegenRate,
		})
	}
	snap.TotalEnergy = agentEnergy + s.Resources.TotalEnergy()

	if !s.History.Empty() {
		snap.History = s.History.Items()
	}
	return snap
}

// Restore replaces the simulation state with snap. Id counters move past
// the highest restored ids and the history window is refilled, keeping the
// newest points if the window is larger than the ring.
func (s *Simulation) Restore(snap *snapshot.Snapshot) error {
	if snap == nil {
		return errors.New("engine: nil snapshot")
	}
	if snap.WorldWidth <= 0 || snap.WorldHeight <= 0 {
		return fmt.Errorf("engine: snapshot world size %dx%d must be positive", snap.WorldWidth, snap.WorldHeight)
	}

	// Terrain is not stored; same-seed generation gives back the same field.
	grid := s.Grid
	if grid.Width != snap.WorldWidth || grid.Height != snap.WorldHeight {
		grid = world.Generate(world.GenConfig{
			Width:  snap.WorldWidth,
			Height: snap.WorldHeight,
			Seed:   s.opts.Seed,
		}, world.NewResources())
	}

	restored := make([]*agents.Agent, 0, len(snap.Agents))
	var maxAgent agents.AgentID
	for _, r := range snap.Agents {
		a := &agents.Agent{
			ID:           agents.AgentID(r.AgentID),
			Pos:          world.Position{X: r.Position.X, Y: r.Position.Y},
			Energy:       r.Energy,
			MaxEnergy:    r.MaxEnergy,
			Age:          r.Age,
			EnergyGained: r.EnergyGained,
			EnergySpent:  r.EnergySpent,
			Offspring:    r.OffspringCount,
			Genome:       append(agents.Genome(nil), r.Genome...),
			Alive:        true,
		}
		maxAgent = max(maxAgent, a.ID)
		restored = append(restored, a)
	}

	res := world.NewResources()
	for _, r := range snap.Resources {
		res.Add(&world.Node{
			ID:            r.ResourceID,
			Pos:           world.Position{X: r.Position.X, Y: r.Position.Y},
			Type:          world.ResourceType(r.Type),
			CurrentEnergy: r.CurrentEnergy,
			MaxEnergy:     r.MaxEnergy,
			Renewable:     r.Renewable,
			RegenRate:     r.RegenRate,
		})
	}
	// Never hand out an id that was used before the restore.
	res.SetNextID(max(res.NextID(), s.Resources.NextID()))
	s.Spawner.SetNextID(max(maxAgent+1, s.Spawner.NextID()))

	s.History.Clear()
	for _, hp := range snap.History {
		s.History.Push(hp)
	}

	s.Grid = grid
	s.Agents = restored
	s.Resources = res
	s.LastTick = snap.Tick
	if snap.RunID != "" {
		s.RunID = snap.RunID
	}
	metrics.SimulationTick.Set(float64(snap.Tick))
	metrics.AgentsAlive.Set(float64(len(restored)))

	slog.Info("simulation restored",
		"slot", snap.SlotName,
		"tick", snap.Tick,
		"agents", len(restored),
		"resources", res.Count(),
		"history", s.History.Len(),
	)
	return nil
}

// SaveManual checkpoints the current state under name.
func (s *Simulation) SaveManual(ctx context.Context, name, description string) (int64, error) {
	if s.Saves == nil {
		return 0, ErrNoStore
	}
	snap := s.BuildSnapshot()
	snap.SlotName = name
	snap.Description = description
	return s.Saves.Save(ctx, snap)
}

// LoadSlot restores the snapshot stored under name. It reports false when
// no such slot exists.
func (s *Simulation) LoadSlot(ctx context.Context, name string) (bool, error) {
	if s.Saves == nil {
		return false, ErrNoStore
	}
	snap, ok, err := s.Saves.Load(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	return true, s.Restore(snap)
}

// ResumeLatest restores the newest auto-save, if any.
func (s *Simulation) ResumeLatest(ctx context.Context) (bool, error) {
	if s.AutoSave == nil {
		return false, ErrNoStore
	}
	snap, ok, err := s.AutoSave.LoadLatest(ctx)
	if err != nil || !ok {
		return false, err
	}
	return true, s.Restore(snap)
}

// ForceAutoSave writes an auto-save now, regardless of the interval.
func (s *Simulation) ForceAutoSave(ctx context.Context) (int64, error) {
	if s.AutoSave == nil {
		return 0, ErrNoStore
	}
	return s.AutoSave.ForceSave(ctx, s.BuildSnapshot())
}
