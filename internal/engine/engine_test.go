package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodePapayas/a-life-cs461/internal/autosave"
	"github.com/CodePapayas/a-life-cs461/internal/persistence/persistencetest"
	"github.com/CodePapayas/a-life-cs461/internal/snapshot"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Width, opts.Height = 24, 24
	opts.Agents = 12
	opts.Resources = 30
	opts.HistoryCapacity = 16
	opts.GenomeLen = 16
	return opts
}

func newTestSimulation(t *testing.T, autoCfg autosave.Config) *Simulation {
	t.Helper()
	ctx := context.Background()
	saves, err := snapshot.New(ctx, persistencetest.OpenSQLite(t))
	require.NoError(t, err)
	sched, err := autosave.New(ctx, saves, false)
	require.NoError(t, err)
	require.NoError(t, sched.Configure(ctx, autoCfg))

	sim, err := NewSimulation(testOptions(), saves, sched)
	require.NoError(t, err)
	return sim
}

func TestEngine_RunsToMaxTicks(t *testing.T) {
	eng := NewEngine()
	eng.Interval = 0
	eng.MaxTicks = 25

	var seen []uint64
	eng.OnTick = func(_ context.Context, tick uint64) { seen = append(seen, tick) }
	eng.Run(context.Background())

	assert.Equal(t, uint64(25), eng.Tick())
	require.Len(t, seen, 25)
	assert.Equal(t, uint64(1), seen[0])
	assert.Equal(t, uint64(25), seen[24])
	assert.False(t, eng.Running())
}

func TestEngine_StopAndCancel(t *testing.T) {
	eng := NewEngine()
	eng.Interval = time.Millisecond
	done := make(chan struct{})
	go func() {
		eng.Run(context.Background())
		close(done)
	}()
	eng.Stop()
	eng.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng2 := NewEngine()
	eng2.Run(ctx)
	assert.Zero(t, eng2.Tick())
}

func TestEngine_DoTick(t *testing.T) {
	eng := NewEngine()
	eng.Step(context.Background())
	require.NoError(t, eng.DoTick(func(tick uint64) (uint64, error) {
		assert.Equal(t, uint64(1), tick)
		return 40, nil
	}))
	assert.Equal(t, uint64(41), eng.Step(context.Background()))

	err := eng.DoTick(func(uint64) (uint64, error) { return 0, ErrNoStore })
	assert.ErrorIs(t, err, ErrNoStore)
	assert.Equal(t, uint64(41), eng.Tick())
}

func TestSimulation_TickRecordsHistory(t *testing.T) {
	sim, err := NewSimulation(testOptions(), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for tick := uint64(1); tick <= 20; tick++ {
		sim.Tick(ctx, tick)
	}
	assert.Equal(t, uint64(20), sim.LastTick)
	assert.Equal(t, 16, sim.History.Len(), "ring keeps only its capacity")

	oldest, err := sim.History.Get(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), oldest.Tick)
	back, err := sim.History.Rewind(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(17), back.Tick)

	st := sim.Status()
	assert.Equal(t, uint64(20), st.Tick)
	assert.Equal(t, len(sim.Agents), st.Agents)
	assert.Equal(t, 16, st.HistoryLen)

	_, err = sim.SaveManual(ctx, "x", "")
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestSimulation_BuildSnapshotIsDetached(t *testing.T) {
	sim, err := NewSimulation(testOptions(), nil, nil)
	require.NoError(t, err)
	sim.Tick(context.Background(), 1)

	snap := sim.BuildSnapshot()
	require.NotEmpty(t, snap.Agents)
	require.Len(t, snap.History, 1)
	assert.Equal(t, sim.RunID, snap.RunID)
	assert.Equal(t, int32(24), snap.WorldWidth)

	var agentEnergy float64
	for _, a := range sim.Agents {
		agentEnergy += a.Energy
	}
	assert.InDelta(t, agentEnergy+sim.Resources.TotalEnergy(), snap.TotalEnergy, 1e-9)

	snap.Agents[0].Genome[0] ^= 0xff
	assert.NotEqual(t, snap.Agents[0].Genome[0], sim.Agents[0].Genome[0])
}

func TestSimulation_AutoSaveAndRestore(t *testing.T) {
	cfg := autosave.Config{IntervalTicks: 5, MaxAutoSaves: 2, Enabled: true, SlotPrefix: "auto"}
	sim := newTestSimulation(t, cfg)
	ctx := context.Background()

	for tick := uint64(1); tick <= 12; tick++ {
		sim.Tick(ctx, tick)
	}
	stats := sim.AutoSave.Stats()
	assert.Equal(t, uint64(10), stats.LastAutoSaveTick)
	assert.Equal(t, uint32(2), stats.TotalAutoSavesDone)

	saved := sim.BuildSnapshot()
	_, err := sim.SaveManual(ctx, "manual", "before restore")
	require.NoError(t, err)
	wantAgents := len(sim.Agents)
	nextAgent := sim.Spawner.NextID()

	for tick := uint64(13); tick <= 30; tick++ {
		sim.Tick(ctx, tick)
	}

	ok, err := sim.LoadSlot(ctx, "manual")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(12), sim.LastTick)
	assert.Len(t, sim.Agents, wantAgents)
	assert.Equal(t, saved.RunID, sim.RunID)
	assert.GreaterOrEqual(t, sim.Spawner.NextID(), nextAgent)
	require.Equal(t, len(saved.History), sim.History.Len())
	latest, err := sim.History.Latest()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), latest.Tick)

	for i, a := range sim.Agents {
		assert.Equal(t, saved.Agents[i].AgentID, uint64(a.ID))
		assert.Equal(t, saved.Agents[i].Genome, []byte(a.Genome))
	}

	ok, err = sim.LoadSlot(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = sim.ResumeLatest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(30), sim.LastTick, "ticks 13-30 kept auto-saving")
}

func TestSimulation_ForceAutoSave(t *testing.T) {
	cfg := autosave.Config{IntervalTicks: 1000, MaxAutoSaves: 3, Enabled: true, SlotPrefix: "auto"}
	sim := newTestSimulation(t, cfg)
	ctx := context.Background()
	sim.Tick(ctx, 1)

	id, err := sim.ForceAutoSave(ctx)
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.Equal(t, uint64(1), sim.AutoSave.Stats().LastAutoSaveTick)

	list, err := sim.AutoSave.ListAutoSaves(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "auto_0", list[0].SlotName)
}

func TestSimulation_RestoreRejectsBadInput(t *testing.T) {
	sim, err := NewSimulation(testOptions(), nil, nil)
	require.NoError(t, err)
	assert.Error(t, sim.Restore(nil))
	assert.Error(t, sim.Restore(&snapshot.Snapshot{}))

	_, err = NewSimulation(Options{HistoryCapacity: 1}, nil, nil)
	assert.Error(t, err)
	opts := testOptions()
	opts.HistoryCapacity = 0
	_, err = NewSimulation(opts, nil, nil)
	assert.Error(t, err)
}
