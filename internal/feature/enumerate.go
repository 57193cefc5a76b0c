package feature

import (
	"context"

	"asterism/internal/grid"
	"asterism/internal/star"
)

// Enumerate builds a feature for every 4-combination of stars in every grid
// neighborhood, visiting cells in row-major order. Degenerate quads are
// skipped. A star group shared by overlapping neighborhoods yields one
// feature per neighborhood.
//
// The context is checked between cells; on cancellation the features built
// so far are returned together with the context error.
func Enumerate(ctx context.Context, g *grid.Grid) ([]Feature, error) {
	var out []Feature
	n := g.CellsPerSide()
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			out = appendCombinations(out, g.Neighborhood(row, col))
		}
	}
	return out, nil
}

// FromStars builds features for every 4-combination of stars, without any
// grid restriction.
func FromStars(stars []star.Star) []Feature {
	return appendCombinations(nil, stars)
}

func appendCombinations(out []Feature, s []star.Star) []Feature {
	n := len(s)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			for k := j + 1; k < n; k++ {
				for l := k + 1; l < n; l++ {
					f, err := Build(s[i], s[j], s[k], s[l])
					if err != nil {
						continue
					}
					out = append(out, f)
				}
			}
		}
	}
	return out
}
