package feature

import (
	"context"
	"math"
	"testing"

	"asterism/internal/grid"
	"asterism/internal/star"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var generic = []star.Star{
	{X: 3, Y: 7},
	{X: 41, Y: 12},
	{X: 19, Y: 33},
	{X: 8, Y: 25},
}

func permutations(in []star.Star) [][]star.Star {
	if len(in) <= 1 {
		return [][]star.Star{append([]star.Star(nil), in...)}
	}
	var out [][]star.Star
	for i := range in {
		rest := make([]star.Star, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]star.Star{in[i]}, p...))
		}
	}
	return out
}

func TestBuildCanonicalOrder(t *testing.T) {
	f, err := Build(generic[0], generic[1], generic[2], generic[3])
	require.NoError(t, err)

	assert.Equal(t, star.Star{X: 3, Y: 7}, f.Far1)
	assert.Equal(t, star.Star{X: 41, Y: 12}, f.Far2)
	assert.Equal(t, star.Star{X: 8, Y: 25}, f.Other1)
	assert.Equal(t, star.Star{X: 19, Y: 33}, f.Other2)
	assert.InDelta(t, math.Hypot(38, 5), f.MaxDist, 1e-12)
	assert.LessOrEqual(t, f.Far1.X, f.Far2.X)
	assert.LessOrEqual(t, f.DistFromFar1[0], f.DistFromFar1[1])
	assert.InDelta(t, star.Distance(f.Far2, f.Other1), f.DistFromFar2[0], 1e-12)
	assert.InDelta(t, star.Distance(f.Far2, f.Other2), f.DistFromFar2[1], 1e-12)
	assert.GreaterOrEqual(t, f.Angle, MinAngle)
	assert.LessOrEqual(t, f.Angle, math.Pi/2)
}

func TestBuildIsPermutationInvariant(t *testing.T) {
	want, err := Build(generic[0], generic[1], generic[2], generic[3])
	require.NoError(t, err)

	perms := permutations(generic)
	require.Len(t, perms, 24)
	for _, p := range perms {
		got, err := Build(p[0], p[1], p[2], p[3])
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("feature differs for order %v (-want +got):\n%s", p, diff)
		}
	}
}

func TestBuildPermutationInvariantWithEquidistantOthers(t *testing.T) {
	// Kite: both remaining points are the same distance from either far point.
	pts := []star.Star{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 5, Y: 3}, {X: 5, Y: -3}}
	want, err := Build(pts[0], pts[1], pts[2], pts[3])
	require.NoError(t, err)
	assert.Equal(t, star.Star{X: 5, Y: -3}, want.Other1)

	for _, p := range permutations(pts) {
		got, err := Build(p[0], p[1], p[2], p[3])
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("feature differs for order %v (-want +got):\n%s", p, diff)
		}
	}
}

func TestBuildRejectsDegenerateQuads(t *testing.T) {
	cases := []struct {
		name string
		pts  [4]star.Star
	}{
		{"collinear", [4]star.Star{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}, {X: 3, Y: 0}}},
		{"collinear diagonal", [4]star.Star{{X: 0, Y: 0}, {X: 2, Y: 2}, {X: 5, Y: 5}, {X: 9, Y: 9}}},
		{"duplicate point", [4]star.Star{{X: 0, Y: 0}, {X: 0, Y: 0}, {X: 5, Y: 5}, {X: 9, Y: 1}}},
		{"all identical", [4]star.Star{{X: 4, Y: 4}, {X: 4, Y: 4}, {X: 4, Y: 4}, {X: 4, Y: 4}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(tc.pts[0], tc.pts[1], tc.pts[2], tc.pts[3])
			assert.ErrorIs(t, err, ErrDegenerate)
		})
	}
}

func TestSimilarToItself(t *testing.T) {
	f, err := Build(generic[0], generic[1], generic[2], generic[3])
	require.NoError(t, err)
	for _, tol := range []float64{0, 1e-9, 0.1, 5} {
		assert.True(t, Similar(f, f, tol), "tol %v", tol)
	}
	assert.Zero(t, Residual(f, f))
}

func transform(pts []star.Star, scale, theta, dx, dy float64) []star.Star {
	sin, cos := math.Sincos(theta)
	out := make([]star.Star, len(pts))
	for i, p := range pts {
		out[i] = star.Star{
			X: scale*(cos*p.X-sin*p.Y) + dx,
			Y: scale*(sin*p.X+cos*p.Y) + dy,
		}
	}
	return out
}

func TestSimilarUnderScaleRotationTranslation(t *testing.T) {
	a, err := Build(generic[0], generic[1], generic[2], generic[3])
	require.NoError(t, err)

	moved := transform(generic, 2.5, 0.3, 120, -40)
	b, err := Build(moved[0], moved[1], moved[2], moved[3])
	require.NoError(t, err)

	assert.InDelta(t, a.Angle, b.Angle, 1e-9)
	assert.True(t, Similar(a, b, 1e-9))
	assert.True(t, Similar(b, a, 1e-9*2.5))
}

func TestSimilarRejectsDifferentShapes(t *testing.T) {
	a, err := Build(generic[0], generic[1], generic[2], generic[3])
	require.NoError(t, err)

	bent := append([]star.Star(nil), generic...)
	bent[2].X += 4
	b, err := Build(bent[0], bent[1], bent[2], bent[3])
	require.NoError(t, err)

	assert.False(t, Similar(a, b, 0.1))
	assert.True(t, Similar(a, b, 10))
	assert.Greater(t, Residual(a, b), 0.1)
}

func TestSimilarGuardsZeroScale(t *testing.T) {
	a, err := Build(generic[0], generic[1], generic[2], generic[3])
	require.NoError(t, err)
	assert.False(t, Similar(a, Feature{}, 1))
	assert.True(t, math.IsInf(Residual(a, Feature{}), 1))
}

func TestEnumerateUsesNeighborhoods(t *testing.T) {
	stars := append([]star.Star(nil), generic...)
	stars = append(stars, star.Star{X: 30, Y: 20})

	// A single cell: every 4-combination of the 5 stars, once.
	g, err := grid.Build(stars, 50, 50, 1)
	require.NoError(t, err)
	features, err := Enumerate(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, FromStars(stars), features)
	assert.LessOrEqual(t, len(features), 5)
	assert.NotEmpty(t, features)

	// Two stars far away from the rest never share a quad with them.
	far := []star.Star{{X: 1, Y: 1}, {X: 4, Y: 2}, {X: 2, Y: 5}, {X: 990, Y: 990}, {X: 995, Y: 985}}
	g, err = grid.Build(far, 1000, 1000, 10)
	require.NoError(t, err)
	features, err = Enumerate(context.Background(), g)
	require.NoError(t, err)
	assert.Empty(t, features)
}

func TestEnumerateStopsOnCancel(t *testing.T) {
	g, err := grid.Build(generic, 50, 50, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	features, err := Enumerate(ctx, g)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, features)
}
