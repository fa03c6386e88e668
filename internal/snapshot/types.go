// Package snapshot writes complete simulation checkpoints to a relational
// store and reads them back. A save replaces everything stored under its
// slot name in one transaction, so readers see the old snapshot or the new
// one and never a mix.
package snapshot

import (
	"fmt"
	"time"
)

// Position is a grid cell.
type Position struct {
	X, Y int32
}

// ResourceType is the category of a resource node.
type ResourceType int

const (
	Food ResourceType = iota
	Water
	Mineral
	Plant
	Custom
)

var resourceTypeNames = [...]string{"food", "water", "mineral", "plant", "custom"}

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool { return t >= Food && t <= Custom }

func (t ResourceType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("ResourceType(%d)", int(t))
	}
	return resourceTypeNames[t]
}

// Snapshot is a complete capture of simulation state at one tick.
type Snapshot struct {
	SlotName    string
	Description string
	Tick        uint64
	Timestamp   time.Time
	WorldWidth  int32
	WorldHeight int32
	TotalEnergy float64
	RunID       string

	Agents    []AgentRecord
	Resources []ResourceRecord
	// History is optional; nil means no window was captured.
	History []HistoryPoint
}

// AgentRecord is one agent as stored in a snapshot. Genome is opaque.
type AgentRecord struct {
	AgentID        uint64
	Position       Position
	Energy         float64
	MaxEnergy      float64
	Age            uint64
	EnergyGained   float64
	EnergySpent    float64
	OffspringCount uint32
	Fitness        float64
	Genome         []byte
}

// ResourceRecord is one resource node as stored in a snapshot.
type ResourceRecord struct {
	ResourceID    uint64
	Position      Position
	Type          ResourceType
	CurrentEnergy float64
	MaxEnergy     float64
	Renewable     bool
	RegenRate     float64
}

// HistoryPoint is one per-tick summary from the rolling history.
type HistoryPoint struct {
	Tick           uint64
	Timestamp      time.Time
	AgentCount     uint32
	TotalEnergy    float64
	TotalResources uint32
	AvgAgentEnergy float64
	AvgFitness     float64
}

// SlotSummary describes a stored snapshot without loading its payload.
type SlotSummary struct {
	ID            int64
	SlotName      string
	Description   string
	Tick          uint64
	Timestamp     time.Time
	AgentCount    int
	ResourceCount int
	TotalEnergy   float64
	AvgFitness    float64
	IsAutoSave    bool
	CreatedAt     time.Time
}

// resourceEnergy is the summary total_energy: energy left in resource nodes.
func resourceEnergy(rs []ResourceRecord) float64 {
	var total float64
	for _, r := range rs {
		total += r.CurrentEnergy
	}
	return total
}

func meanFitness(as []AgentRecord) float64 {
	if len(as) == 0 {
		return 0
	}
	var sum float64
	for _, a := range as {
		sum += a.Fitness
	}
	return sum / float64(len(as))
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
