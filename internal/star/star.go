package star

import (
	"math"
	"sort"
)

// Star is a detected point source. X and Y are the pixel-mass centroid, R the
// radius of a disk with the same area as the blob and B its mean luma.
type Star struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	R float64 `json:"r"`
	B float64 `json:"b"`
}

// Quad holds four stars in canonical feature order: far1, far2, other1, other2.
type Quad [4]Star

// Distance returns the euclidean distance between the centroids of a and b.
func Distance(a, b Star) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Less orders stars by centroid row first, then column.
func Less(a, b Star) bool {
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.X < b.X
}

// SortByPosition sorts stars in place by (Y, X).
func SortByPosition(stars []Star) {
	sort.SliceStable(stars, func(i, j int) bool {
		return Less(stars[i], stars[j])
	})
}

// Translate returns a copy of s moved by (dx, dy).
func (s Star) Translate(dx, dy float64) Star {
	s.X += dx
	s.Y += dy
	return s
}
