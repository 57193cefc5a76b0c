// Package transform summarises a set of correspondences as a single
// similarity transform from frame A to frame B.
package transform

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"asterism/internal/feature"
	"asterism/internal/match"
	"asterism/internal/star"
)

// ErrNoCorrespondences is returned when there is nothing to estimate from.
var ErrNoCorrespondences = errors.New("no correspondences")

// Transform maps A coordinates onto B: b = Scale * R(Rotation) * a + Translation.
type Transform struct {
	Translation [2]float64 `json:"translation"`
	Rotation    float64    `json:"rotation"`
	Scale       float64    `json:"scale"`
	Matches     int        `json:"matches"`
	RMSE        float64    `json:"rmse"`
}

// Identity returns the transform that leaves points unchanged.
func Identity() Transform {
	return Transform{Scale: 1}
}

// Apply maps a point from frame A into frame B.
func (t Transform) Apply(s star.Star) star.Star {
	sin, cos := math.Sincos(t.Rotation)
	x := t.Scale*(cos*s.X-sin*s.Y) + t.Translation[0]
	y := t.Scale*(sin*s.X+cos*s.Y) + t.Translation[1]
	s.X, s.Y = x, y
	return s
}

// Estimate takes the median scale and rotation of the far-pair baselines,
// then the median translation of all quad points under them. Medians keep a
// handful of wrong correspondences from dragging the result.
func Estimate(corrs []match.Correspondence) (Transform, error) {
	if len(corrs) == 0 {
		return Transform{}, ErrNoCorrespondences
	}

	scales := make([]float64, 0, len(corrs))
	rots := make([]float64, 0, len(corrs))
	for _, c := range corrs {
		if !(c.A.MaxDist > 0) {
			continue
		}
		scales = append(scales, c.B.MaxDist/c.A.MaxDist)
		rots = append(rots, baselineAngle(c.B)-baselineAngle(c.A))
	}
	if len(scales) == 0 {
		return Transform{}, ErrNoCorrespondences
	}

	t := Transform{
		Scale:    median(scales),
		Rotation: circularMedian(rots),
		Matches:  len(corrs),
	}

	tx := make([]float64, 0, 4*len(corrs))
	ty := make([]float64, 0, 4*len(corrs))
	for _, c := range corrs {
		qa, qb := c.Quads()
		for i := range qa {
			p := t.Apply(qa[i])
			tx = append(tx, qb[i].X-p.X)
			ty = append(ty, qb[i].Y-p.Y)
		}
	}
	t.Translation = [2]float64{median(tx), median(ty)}
	t.RMSE = rmse(t, corrs)
	return t, nil
}

func baselineAngle(f feature.Feature) float64 {
	return math.Atan2(f.Far2.Y-f.Far1.Y, f.Far2.X-f.Far1.X)
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	return stat.Quantile(0.5, stat.Empirical, s, nil)
}

// circularMedian wraps each angle into (-pi, pi] around the circular mean
// before taking the median, so angles either side of +-pi stay together.
func circularMedian(v []float64) float64 {
	sins := make([]float64, len(v))
	coss := make([]float64, len(v))
	for i, a := range v {
		sins[i], coss[i] = math.Sincos(a)
	}
	centre := math.Atan2(stat.Mean(sins, nil), stat.Mean(coss, nil))

	wrapped := make([]float64, len(v))
	for i, a := range v {
		wrapped[i] = wrap(a - centre)
	}
	return wrap(centre + median(wrapped))
}

func wrap(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

func rmse(t Transform, corrs []match.Correspondence) float64 {
	var sum float64
	var n int
	for _, c := range corrs {
		qa, qb := c.Quads()
		for i := range qa {
			p := t.Apply(qa[i])
			sum += (p.X-qb[i].X)*(p.X-qb[i].X) + (p.Y-qb[i].Y)*(p.Y-qb[i].Y)
			n++
		}
	}
	return math.Sqrt(sum / float64(n))
}
