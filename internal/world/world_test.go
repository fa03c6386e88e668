package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_ConsumeAndRegenerate(t *testing.T) {
	res := NewResources()
	n := res.Create(Position{X: 1, Y: 1}, Plant, 50, true)
	assert.Equal(t, uint64(1), n.ID)
	assert.Equal(t, 0.5, n.RegenRate)

	assert.Equal(t, 30.0, n.Consume(30))
	assert.Equal(t, 20.0, n.Consume(100))
	assert.Zero(t, n.Consume(-1))
	assert.True(t, n.Depleted())

	n.Update(10)
	assert.Equal(t, 5.0, n.CurrentEnergy)
	n.Update(1000)
	assert.Equal(t, 50.0, n.CurrentEnergy)
}

func TestResources_RemoveDepletedKeepsRenewables(t *testing.T) {
	res := NewResources()
	food := res.Create(Position{}, Food, 10, false)
	plant := res.Create(Position{X: 2}, Plant, 10, true)
	res.Create(Position{X: 4}, Mineral, 10, false)

	food.Consume(10)
	plant.Consume(10)
	assert.Equal(t, 1, res.RemoveDepleted())
	assert.Equal(t, 2, res.Count())
	assert.Equal(t, 10.0, res.TotalEnergy())
}

func TestResources_Queries(t *testing.T) {
	res := NewResources()
	near := res.Create(Position{X: 2, Y: 2}, Food, 10, false)
	res.Create(Position{X: 9, Y: 9}, Water, 10, true)
	empty := res.Create(Position{X: 1, Y: 1}, Food, 10, false)
	empty.Consume(10)

	assert.Same(t, near, res.Nearest(Position{}, 0))
	assert.Nil(t, res.Nearest(Position{}, 1.5))
	assert.Len(t, res.InRange(Position{X: 3, Y: 3}, 2), 1)
}

func TestResources_IDCounter(t *testing.T) {
	res := NewResources()
	res.Add(&Node{ID: 40})
	assert.Equal(t, uint64(41), res.NextID())
	assert.Equal(t, uint64(41), res.Create(Position{}, Food, 1, false).ID)

	res.SetNextID(7)
	assert.Equal(t, uint64(7), res.Create(Position{}, Food, 1, false).ID)
}

func TestGenerate_Deterministic(t *testing.T) {
	cfg := GenConfig{Width: 32, Height: 24, Seed: 9, Resources: 40}

	a, b := NewResources(), NewResources()
	ga := Generate(cfg, a)
	Generate(cfg, b)

	require.Equal(t, a.Count(), b.Count())
	assert.Positive(t, a.Count())
	for i, n := range a.Nodes() {
		m := b.Nodes()[i]
		assert.Equal(t, *n, *m)
		assert.True(t, ga.Contains(n.Pos))
		assert.LessOrEqual(t, n.Type, Custom)
	}
	assert.InDelta(t, 0.5, ga.Fertility(Position{X: 5, Y: 5}), 0.5)
	assert.Zero(t, ga.Fertility(Position{X: -1}))
}

func TestGrid_Clamp(t *testing.T) {
	g := NewGrid(10, 5)
	assert.Equal(t, Position{X: 9, Y: 0}, g.Clamp(Position{X: 20, Y: -3}))
	assert.Equal(t, int32(7), Position{X: 1, Y: 1}.Manhattan(Position{X: 4, Y: 5}))
	assert.Equal(t, 5.0, Position{}.Euclidean(Position{X: 3, Y: 4}))
}
