package match

import (
	"context"

	"asterism/internal/feature"
	"asterism/internal/grid"
	"asterism/internal/params"
	"asterism/internal/star"
)

// Frame is a star list together with the size of the image it came from.
type Frame struct {
	Stars  []star.Star
	Width  float64
	Height float64
}

// Stars grids both frames, enumerates their features and matches them.
// gridCells is the number of cells per side used for both frames.
func Stars(ctx context.Context, a, b Frame, gridCells int, opts Options) (Result, error) {
	if err := params.ValidateGridCells(gridCells); err != nil {
		return Result{}, err
	}
	if err := params.ValidateTolerance(opts.Tolerance); err != nil {
		return Result{}, err
	}

	ga, err := grid.Build(a.Stars, a.Width, a.Height, gridCells)
	if err != nil {
		return Result{}, err
	}
	gb, err := grid.Build(b.Stars, b.Width, b.Height, gridCells)
	if err != nil {
		return Result{}, err
	}

	fa, err := feature.Enumerate(ctx, ga)
	if err != nil {
		return Result{FeaturesA: len(fa), Partial: true}, err
	}
	fb, err := feature.Enumerate(ctx, gb)
	if err != nil {
		return Result{FeaturesA: len(fa), FeaturesB: len(fb), Partial: true}, err
	}
	return Match(ctx, fa, fb, opts)
}
