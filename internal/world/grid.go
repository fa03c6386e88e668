// Package world provides the rectangular grid and the resource nodes
// agents feed on.
package world

import "math"

// Position is a grid cell.
type Position struct {
	X, Y int32
}

// Manhattan returns the taxicab distance to o.
func (p Position) Manhattan(o Position) int32 {
	return abs32(p.X-o.X) + abs32(p.Y-o.Y)
}

// Euclidean returns the straight-line distance to o.
func (p Position) Euclidean(o Position) float64 {
	dx, dy := float64(p.X-o.X), float64(p.Y-o.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// Grid is a bounded world with a fertility value per cell.
type Grid struct {
	Width, Height int32
	fertility     []float64
}

// NewGrid returns a grid with uniform fertility 0.5.
func NewGrid(width, height int32) *Grid {
	g := &Grid{Width: width, Height: height, fertility: make([]float64, int(width)*int(height))}
	for i := range g.fertility {
		g.fertility[i] = 0.5
	}
	return g
}

// Contains reports whether p lies inside the grid.
func (g *Grid) Contains(p Position) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.Width && p.Y < g.Height
}

// Clamp moves p onto the nearest cell inside the grid.
func (g *Grid) Clamp(p Position) Position {
	return Position{X: clamp32(p.X, 0, g.Width-1), Y: clamp32(p.Y, 0, g.Height-1)}
}

// Fertility returns the fertility of p in [0, 1]; 0 outside the grid.
func (g *Grid) Fertility(p Position) float64 {
	if !g.Contains(p) {
		return 0
	}
	return g.fertility[int(p.Y)*int(g.Width)+int(p.X)]
}

func (g *Grid) setFertility(p Position, v float64) {
	g.fertility[int(p.Y)*int(g.Width)+int(p.X)] = v
}

func abs32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}

func clamp32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
