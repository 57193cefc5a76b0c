// Package detect finds point light sources in a luma raster by flood filling
// connected regions brighter than a threshold.
package detect

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"asterism/internal/params"
	"asterism/internal/raster"
	"asterism/internal/star"
)

// MinBlobPixels is the smallest fill kept as a star; anything smaller is noise.
const MinBlobPixels = 3

// ErrInsufficientSignal is returned at service boundaries when a frame is
// brighter on average than the threshold. Detect itself reports the
// condition through Result.InsufficientSignal.
var ErrInsufficientSignal = errors.New("insufficient signal: mean brightness exceeds threshold, use a higher threshold")

// Options controls a detection run.
type Options struct {
	// Threshold is the luma (0-255) a pixel must exceed to seed a blob.
	Threshold int
	// MaxStars keeps only the brightest stars when positive.
	MaxStars int
}

// Result is the outcome of a detection run.
type Result struct {
	Stars              []star.Star `json:"stars"`
	InsufficientSignal bool        `json:"insufficient_signal"`
	MeanLuma           float64     `json:"mean_luma"`
	Blobs              int         `json:"blobs"`
	Rejected           int         `json:"rejected"`
}

// Detect scans r in raster order and returns one star per 4-connected blob of
// at least MinBlobPixels pixels. The returned stars are sorted by (Y, X).
func Detect(ctx context.Context, r *raster.Raster, opts Options) (Result, error) {
	if err := params.ValidateThreshold(opts.Threshold); err != nil {
		return Result{}, err
	}
	if err := r.Validate(); err != nil {
		return Result{}, err
	}
	if opts.MaxStars < 0 {
		return Result{}, fmt.Errorf("%w: max stars must not be negative, got %d", params.ErrInvalidParameter, opts.MaxStars)
	}

	res := Result{MeanLuma: r.MeanLuma()}
	threshold := float64(opts.Threshold)
	if res.MeanLuma > threshold {
		res.InsufficientSignal = true
		return res, nil
	}

	f := newFiller(r, threshold)
	for y := 0; y < r.Height; y++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		row := y * r.Width
		for x := 0; x < r.Width; x++ {
			idx := row + x
			if f.visited[idx] || r.Luma[idx] <= threshold {
				continue
			}
			res.Blobs++
			s, ok := f.fill(idx)
			if !ok {
				res.Rejected++
				continue
			}
			res.Stars = append(res.Stars, s)
		}
	}

	if opts.MaxStars > 0 && len(res.Stars) > opts.MaxStars {
		res.Stars = brightest(res.Stars, opts.MaxStars)
	}
	star.SortByPosition(res.Stars)
	return res, nil
}

// filler owns the visited bitmap and the reusable pixel-index stack.
type filler struct {
	r         *raster.Raster
	threshold float64
	visited   []bool
	stack     []int
}

func newFiller(r *raster.Raster, threshold float64) *filler {
	return &filler{
		r:         r,
		threshold: threshold,
		visited:   make([]bool, r.Width*r.Height),
		stack:     make([]int, 0, 64),
	}
}

// fill grows the component containing seed over pixels with luma >= threshold.
func (f *filler) fill(seed int) (star.Star, bool) {
	w, h := f.r.Width, f.r.Height
	luma := f.r.Luma

	var count int
	var sumX, sumY, sumB float64

	f.visited[seed] = true
	f.stack = append(f.stack[:0], seed)
	for len(f.stack) > 0 {
		idx := f.stack[len(f.stack)-1]
		f.stack = f.stack[:len(f.stack)-1]

		x, y := idx%w, idx/w
		count++
		sumX += float64(x)
		sumY += float64(y)
		sumB += luma[idx]

		if x+1 < w {
			f.push(idx + 1)
		}
		if x > 0 {
			f.push(idx - 1)
		}
		if y+1 < h {
			f.push(idx + w)
		}
		if y > 0 {
			f.push(idx - w)
		}
	}

	if count < MinBlobPixels {
		return star.Star{}, false
	}
	n := float64(count)
	return star.Star{
		X: sumX / n,
		Y: sumY / n,
		R: math.Sqrt(n / math.Pi),
		B: sumB / n,
	}, true
}

func (f *filler) push(idx int) {
	if f.visited[idx] || f.r.Luma[idx] < f.threshold {
		return
	}
	f.visited[idx] = true
	f.stack = append(f.stack, idx)
}

// brightest returns the n stars with the highest mean brightness.
func brightest(stars []star.Star, n int) []star.Star {
	sorted := make([]star.Star, len(stars))
	copy(sorted, stars)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].B != sorted[j].B {
			return sorted[i].B > sorted[j].B
		}
		return star.Less(sorted[i], sorted[j])
	})
	return sorted[:n]
}
