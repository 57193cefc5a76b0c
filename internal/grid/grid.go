// Package grid buckets stars into a square grid so feature generation only
// combines stars that are close to each other.
package grid

import (
	"math"

	"asterism/internal/params"
	"asterism/internal/star"
)

// Grid is a cellsPerSide x cellsPerSide bucketing of a frame. Buckets are
// stored row-major and hold copies of the stars assigned to them.
type Grid struct {
	cells   int
	cellW   float64
	cellH   float64
	buckets [][]star.Star
	count   int
}

// Build assigns every star to exactly one bucket. Coordinates on or past the
// far edge are clamped into the last row or column.
func Build(stars []star.Star, width, height float64, cellsPerSide int) (*Grid, error) {
	if err := params.ValidateGridCells(cellsPerSide); err != nil {
		return nil, err
	}
	if err := params.ValidateDimensions(width, height); err != nil {
		return nil, err
	}

	g := &Grid{
		cells:   cellsPerSide,
		cellW:   width / float64(cellsPerSide),
		cellH:   height / float64(cellsPerSide),
		buckets: make([][]star.Star, cellsPerSide*cellsPerSide),
		count:   len(stars),
	}
	for _, s := range stars {
		row, col := g.CellOf(s)
		i := row*g.cells + col
		g.buckets[i] = append(g.buckets[i], s)
	}
	return g, nil
}

// CellsPerSide returns the grid resolution.
func (g *Grid) CellsPerSide() int { return g.cells }

// Len returns the number of stars in the grid.
func (g *Grid) Len() int { return g.count }

// CellOf returns the bucket a star belongs to.
func (g *Grid) CellOf(s star.Star) (row, col int) {
	return g.clamp(math.Floor(s.Y / g.cellH)), g.clamp(math.Floor(s.X / g.cellW))
}

func (g *Grid) clamp(v float64) int {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > float64(g.cells-1):
		return g.cells - 1
	default:
		return int(v)
	}
}

// Bucket returns a copy of the stars assigned to (row, col). Out-of-range
// cells are empty.
func (g *Grid) Bucket(row, col int) []star.Star {
	if row < 0 || col < 0 || row >= g.cells || col >= g.cells {
		return nil
	}
	b := g.buckets[row*g.cells+col]
	out := make([]star.Star, len(b))
	copy(out, b)
	return out
}

// Neighborhood returns the union of the buckets in the 3x3 block around
// (row, col), clipped to the grid, in row-major bucket order.
func (g *Grid) Neighborhood(row, col int) []star.Star {
	r0, r1 := max(0, row-1), min(g.cells, row+2)
	c0, c1 := max(0, col-1), min(g.cells, col+2)

	var out []star.Star
	for r := r0; r < r1; r++ {
		for c := c0; c < c1; c++ {
			out = append(out, g.buckets[r*g.cells+c]...)
		}
	}
	return out
}
