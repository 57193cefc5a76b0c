// Package feature builds scale and rotation invariant descriptors ("asterisms")
// from groups of four stars and compares them.
package feature

import (
	"errors"
	"math"

	"asterism/internal/star"
)

// MinAngle is the smallest line angle, in radians, a quad may have before it
// is considered too close to collinear to be a reliable match key.
const MinAngle = 0.1

// ErrDegenerate marks a quad that is collinear or contains duplicate points.
var ErrDegenerate = errors.New("degenerate quad")

// Feature is the descriptor of four stars. Far1 and Far2 are the pair with
// the largest separation, with Far1.X <= Far2.X; Other1 is the remaining
// star closer to Far1.
type Feature struct {
	Far1         star.Star  `json:"far1"`
	Far2         star.Star  `json:"far2"`
	MaxDist      float64    `json:"max_dist"`
	DistFromFar1 [2]float64 `json:"dist_from_far1"`
	DistFromFar2 [2]float64 `json:"dist_from_far2"`
	Other1       star.Star  `json:"other1"`
	Other2       star.Star  `json:"other2"`
	Angle        float64    `json:"angle"`
}

// pairs is the enumeration order used to find the far pair; on ties the
// first pair wins.
var pairs = [6][2]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}

// Build constructs the canonical descriptor of four stars, or returns
// ErrDegenerate.
func Build(p0, p1, p2, p3 star.Star) (Feature, error) {
	pts := [4]star.Star{p0, p1, p2, p3}

	maxDist := -1.0
	var fi, fj int
	for _, p := range pairs {
		if d := star.Distance(pts[p[0]], pts[p[1]]); d > maxDist {
			maxDist = d
			fi, fj = p[0], p[1]
		}
	}

	var others []star.Star
	for i, p := range pts {
		if i != fi && i != fj {
			others = append(others, p)
		}
	}

	far1, far2 := pts[fi], pts[fj]
	if lexLess(far2, far1) {
		far1, far2 = far2, far1
	}

	o1, o2 := others[0], others[1]
	d1, d2 := star.Distance(far1, o1), star.Distance(far1, o2)
	if d2 < d1 || (d2 == d1 && lexLess(o2, o1)) {
		o1, o2 = o2, o1
		d1, d2 = d2, d1
	}

	angle := lineAngle(far1.X-o1.X, far1.Y-o1.Y, far2.X-far1.X, far2.Y-far1.Y)
	if math.IsNaN(angle) || angle < MinAngle {
		return Feature{}, ErrDegenerate
	}

	return Feature{
		Far1:         far1,
		Far2:         far2,
		MaxDist:      maxDist,
		DistFromFar1: [2]float64{d1, d2},
		DistFromFar2: [2]float64{star.Distance(far2, o1), star.Distance(far2, o2)},
		Other1:       o1,
		Other2:       o2,
		Angle:        angle,
	}, nil
}

// lineAngle returns the angle between the lines carrying the two vectors,
// folded into [0, pi/2]. A zero-length vector yields NaN.
func lineAngle(ax, ay, bx, by float64) float64 {
	ma := math.Hypot(ax, ay)
	mb := math.Hypot(bx, by)
	if ma == 0 || mb == 0 {
		return math.NaN()
	}
	cos := (ax*bx + ay*by) / (ma * mb)
	theta := math.Acos(math.Min(math.Max(cos, -1), 1))
	if theta > math.Pi/2 {
		theta = math.Pi - theta
	}
	return theta
}

func lexLess(a, b star.Star) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	return a.Y < b.Y
}

// Quad returns the four stars in canonical order.
func (f Feature) Quad() star.Quad {
	return star.Quad{f.Far1, f.Far2, f.Other1, f.Other2}
}

// Similar reports whether b, rescaled so its far pair matches a's, agrees
// with a on all four cross distances within tol. tol is absolute and in a's
// units. The angle is not compared.
func Similar(a, b Feature, tol float64) bool {
	if !(b.MaxDist > 0) {
		return false
	}
	scale := a.MaxDist / b.MaxDist
	if math.Abs(a.DistFromFar1[0]-b.DistFromFar1[0]*scale) > tol {
		return false
	}
	if math.Abs(a.DistFromFar1[1]-b.DistFromFar1[1]*scale) > tol {
		return false
	}
	if math.Abs(a.DistFromFar2[0]-b.DistFromFar2[0]*scale) > tol {
		return false
	}
	if math.Abs(a.DistFromFar2[1]-b.DistFromFar2[1]*scale) > tol {
		return false
	}
	return true
}

// Residual is the summed absolute difference of the four scaled cross
// distances. It is zero for identical shapes.
func Residual(a, b Feature) float64 {
	if !(b.MaxDist > 0) {
		return math.Inf(1)
	}
	scale := a.MaxDist / b.MaxDist
	return math.Abs(a.DistFromFar1[0]-b.DistFromFar1[0]*scale) +
		math.Abs(a.DistFromFar1[1]-b.DistFromFar1[1]*scale) +
		math.Abs(a.DistFromFar2[0]-b.DistFromFar2[0]*scale) +
		math.Abs(a.DistFromFar2[1]-b.DistFromFar2[1]*scale)
}
