package world

import (
	"math"
	"slices"
)

// ResourceType is the category of a resource node.
type ResourceType uint8

const (
	Food ResourceType = iota
	Water
	Mineral
	Plant
	Custom
)

// RegenFraction is the share of a renewable node's capacity restored per tick.
const RegenFraction = 0.01

// Node is a consumable energy source. Renewable nodes regenerate; the rest
// are removed once depleted.
type Node struct {
	ID            uint64
	Pos           Position
	Type          ResourceType
	CurrentEnergy float64
	MaxEnergy     float64
	Renewable     bool
	RegenRate     float64 // energy restored per tick
}

// Depleted reports whether nothing is left to consume.
func (n *Node) Depleted() bool { return n.CurrentEnergy <= 0 }

// Consume removes up to amount and returns what was actually taken.
func (n *Node) Consume(amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	taken := math.Min(amount, n.CurrentEnergy)
	n.CurrentEnergy -= taken
	return taken
}

// Update regenerates a renewable node for dt ticks, capped at capacity.
func (n *Node) Update(dt float64) {
	if !n.Renewable || n.CurrentEnergy >= n.MaxEnergy {
		return
	}
	n.CurrentEnergy = math.Min(n.CurrentEnergy+n.RegenRate*dt, n.MaxEnergy)
}

// InRange reports whether p is within r steps of the node.
func (n *Node) InRange(p Position, r int32) bool {
	return n.Pos.Manhattan(p) <= r
}

// Resources owns every node and mints their ids.
type Resources struct {
	nodes  []*Node
	nextID uint64
}

// NewResources returns an empty set whose first id is 1.
func NewResources() *Resources {
	return &Resources{nextID: 1}
}

// SetNextID sets the next id to be issued (used when restoring).
func (r *Resources) SetNextID(id uint64) { r.nextID = id }

// NextID returns the id the next Create will use.
func (r *Resources) NextID() uint64 { return r.nextID }

// Create adds a full node at p. Renewable nodes regenerate RegenFraction of
// their capacity per tick.
func (r *Resources) Create(p Position, t ResourceType, energy float64, renewable bool) *Node {
	n := &Node{
		ID:            r.nextID,
		Pos:           p,
		Type:          t,
		CurrentEnergy: energy,
		MaxEnergy:     energy,
		Renewable:     renewable,
	}
	if renewable {
		n.RegenRate = energy * RegenFraction
	}
	r.nextID++
	r.nodes = append(r.nodes, n)
	return n
}

// Add inserts an existing node, keeping the id counter above it.
func (r *Resources) Add(n *Node) {
	r.nodes = append(r.nodes, n)
	if n.ID >= r.nextID {
		r.nextID = n.ID + 1
	}
}

// Nodes returns the live slice; callers must not modify it.
func (r *Resources) Nodes() []*Node { return r.nodes }

// Count returns the number of nodes.
func (r *Resources) Count() int { return len(r.nodes) }

// Update advances regeneration on every node.
func (r *Resources) Update(dt float64) {
	for _, n := range r.nodes {
		n.Update(dt)
	}
}

// InRange returns the non-depleted nodes within rng steps of p.
func (r *Resources) InRange(p Position, rng int32) []*Node {
	var out []*Node
	for _, n := range r.nodes {
		if !n.Depleted() && n.InRange(p, rng) {
			out = append(out, n)
		}
	}
	return out
}

// Nearest returns the closest non-depleted node, or nil. A maxRange of 0
// means unlimited.
func (r *Resources) Nearest(p Position, maxRange float64) *Node {
	var best *Node
	bestDist := math.MaxFloat64
	for _, n := range r.nodes {
		if n.Depleted() {
			continue
		}
		d := n.Pos.Euclidean(p)
		if maxRange > 0 && d > maxRange {
			continue
		}
		if d < bestDist {
			best, bestDist = n, d
		}
	}
	return best
}

// RemoveDepleted drops depleted non-renewable nodes and returns how many
// were removed.
func (r *Resources) RemoveDepleted() int {
	before := len(r.nodes)
	r.nodes = slices.DeleteFunc(r.nodes, func(n *Node) bool {
		return n.Depleted() && !n.Renewable
	})
	return before - len(r.nodes)
}

// TotalEnergy sums the energy left in every node.
func (r *Resources) TotalEnergy() float64 {
	var total float64
	for _, n := range r.nodes {
		total += n.CurrentEnergy
	}
	return total
}

// Clear removes every node; the id counter is kept.
func (r *Resources) Clear() { r.nodes = nil }
