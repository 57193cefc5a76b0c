// Package match pairs features from two frames whose shapes agree under a
// scale-normalised tolerance.
package match

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"asterism/internal/feature"
	"asterism/internal/params"
	"asterism/internal/star"
)

// Policy selects which candidate in the second list is paired with a feature
// from the first.
type Policy string

const (
	// FirstMatch takes the first candidate, in list order, within tolerance.
	FirstMatch Policy = "first"
	// BestMatch takes the candidate with the smallest residual; ties go to
	// the earliest one.
	BestMatch Policy = "best"
)

// ParsePolicy maps a flag or config value to a Policy. The empty string is
// FirstMatch.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(FirstMatch):
		return FirstMatch, nil
	case string(BestMatch):
		return BestMatch, nil
	default:
		return "", fmt.Errorf("%w: unknown match policy %q", params.ErrInvalidParameter, s)
	}
}

// Options controls a match run.
type Options struct {
	Tolerance float64
	Policy    Policy
	// Workers is the number of shards the first list is split into. Values
	// below 1 use GOMAXPROCS.
	Workers int
	// Progress, if set, is called with the number of features from the first
	// list processed so far. Calls are serialised but may come from any
	// goroutine.
	Progress func(done, total int)
}

// Correspondence is a feature from each frame judged to be the same asterism.
type Correspondence struct {
	A feature.Feature
	B feature.Feature
}

// Quads returns the canonical star order of both sides.
func (c Correspondence) Quads() (a, b star.Quad) {
	return c.A.Quad(), c.B.Quad()
}

// MarshalJSON encodes the correspondence as its two quads.
func (c Correspondence) MarshalJSON() ([]byte, error) {
	a, b := c.Quads()
	return json.Marshal(struct {
		A star.Quad `json:"a"`
		B star.Quad `json:"b"`
	}{a, b})
}

// UnmarshalJSON rebuilds both features from their encoded quads.
func (c *Correspondence) UnmarshalJSON(data []byte) error {
	var q struct {
		A star.Quad `json:"a"`
		B star.Quad `json:"b"`
	}
	if err := json.Unmarshal(data, &q); err != nil {
		return err
	}
	a, err := feature.Build(q.A[0], q.A[1], q.A[2], q.A[3])
	if err != nil {
		return fmt.Errorf("correspondence a: %w", err)
	}
	b, err := feature.Build(q.B[0], q.B[1], q.B[2], q.B[3])
	if err != nil {
		return fmt.Errorf("correspondence b: %w", err)
	}
	c.A, c.B = a, b
	return nil
}

// Result is the outcome of Match. Partial is set when the run was cut short
// by its context; Correspondences then holds whatever was found in time.
type Result struct {
	Correspondences []Correspondence
	FeaturesA       int
	FeaturesB       int
	Partial         bool
}

// Match compares every feature of fa against fb. The output keeps the order
// of fa and does not depend on the number of workers.
//
// On cancellation Match returns the correspondences found so far, with
// Result.Partial set, alongside the context error.
func Match(ctx context.Context, fa, fb []feature.Feature, opts Options) (Result, error) {
	if err := params.ValidateTolerance(opts.Tolerance); err != nil {
		return Result{}, err
	}
	policy, err := ParsePolicy(string(opts.Policy))
	if err != nil {
		return Result{}, err
	}

	res := Result{FeaturesA: len(fa), FeaturesB: len(fb)}
	if len(fa) == 0 || len(fb) == 0 {
		return res, ctx.Err()
	}

	workers := opts.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, len(fa))

	pick := firstCandidate
	if policy == BestMatch {
		pick = bestCandidate
	}

	rep := newReporter(len(fa), opts.Progress)
	shards := make([][]Correspondence, workers)
	size := (len(fa) + workers - 1) / workers

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		lo := w * size
		hi := min(lo+size, len(fa))
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if j := pick(fa[i], fb, opts.Tolerance); j >= 0 {
					shards[w] = append(shards[w], Correspondence{A: fa[i], B: fb[j]})
				}
				rep.step()
			}
			return nil
		})
	}
	err = g.Wait()

	for _, s := range shards {
		res.Correspondences = append(res.Correspondences, s...)
	}
	if err != nil {
		res.Partial = true
		return res, err
	}
	rep.finish()
	return res, nil
}

func firstCandidate(a feature.Feature, fb []feature.Feature, tol float64) int {
	for j := range fb {
		if feature.Similar(a, fb[j], tol) {
			return j
		}
	}
	return -1
}

func bestCandidate(a feature.Feature, fb []feature.Feature, tol float64) int {
	best := -1
	var bestRes float64
	for j := range fb {
		if !feature.Similar(a, fb[j], tol) {
			continue
		}
		if r := feature.Residual(a, fb[j]); best < 0 || r < bestRes {
			best, bestRes = j, r
		}
	}
	return best
}

// reporter throttles progress callbacks to roughly one per percent.
type reporter struct {
	mu    sync.Mutex
	fn    func(done, total int)
	total int
	every int
	done  int
	last  int
}

func newReporter(total int, fn func(done, total int)) *reporter {
	return &reporter{fn: fn, total: total, every: max(1, total/100)}
}

func (r *reporter) step() {
	if r.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
	if r.done-r.last >= r.every {
		r.last = r.done
		r.fn(r.done, r.total)
	}
}

func (r *reporter) finish() {
	if r.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last != r.total {
		r.last = r.total
		r.fn(r.total, r.total)
	}
}
