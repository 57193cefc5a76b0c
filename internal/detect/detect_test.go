package detect

import (
	"context"
	"math"
	"testing"

	"asterism/internal/params"
	"asterism/internal/raster"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func background(w, h int, level float64) *raster.Raster {
	r := raster.New(w, h)
	for i := range r.Luma {
		r.Luma[i] = level
	}
	return r
}

func paintDisk(r *raster.Raster, cx, cy, radius, level float64) {
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			if dx*dx+dy*dy <= radius*radius {
				r.Set(x, y, level)
			}
		}
	}
}

func TestDetectSyntheticDisk(t *testing.T) {
	r := background(64, 64, 10)
	paintDisk(r, 20, 25, 6, 200)

	res, err := Detect(context.Background(), r, Options{Threshold: 100})
	require.NoError(t, err)
	require.False(t, res.InsufficientSignal)
	require.Len(t, res.Stars, 1)

	s := res.Stars[0]
	assert.InDelta(t, 20.0, s.X, 0.5)
	assert.InDelta(t, 25.0, s.Y, 0.5)
	assert.InDelta(t, 6.0, s.R, 0.6)
	assert.InDelta(t, 200.0, s.B, 1e-9)
}

func TestDetectDiscardsSmallBlobs(t *testing.T) {
	r := background(16, 16, 0)
	// two-pixel blob
	r.Set(2, 2, 255)
	r.Set(3, 2, 255)
	// single pixel
	r.Set(10, 10, 255)
	// three-pixel L shape
	r.Set(12, 4, 255)
	r.Set(13, 4, 255)
	r.Set(12, 5, 255)

	res, err := Detect(context.Background(), r, Options{Threshold: 50})
	require.NoError(t, err)
	require.Len(t, res.Stars, 1)
	assert.Equal(t, 3, res.Blobs)
	assert.Equal(t, 2, res.Rejected)

	s := res.Stars[0]
	assert.InDelta(t, 37.0/3, s.X, 1e-9)
	assert.InDelta(t, 13.0/3, s.Y, 1e-9)
	assert.InDelta(t, math.Sqrt(3/math.Pi), s.R, 1e-9)
}

func TestDetectUsesFourConnectivity(t *testing.T) {
	r := background(12, 12, 0)
	// Two L shapes touching only at a corner.
	for _, p := range [][2]int{{2, 2}, {3, 2}, {2, 3}, {4, 3}, {4, 4}, {5, 4}} {
		r.Set(p[0], p[1], 255)
	}

	res, err := Detect(context.Background(), r, Options{Threshold: 100})
	require.NoError(t, err)
	assert.Len(t, res.Stars, 2)
}

func TestDetectFillIncludesPixelsAtThreshold(t *testing.T) {
	r := background(10, 10, 0)
	r.Set(4, 4, 200)
	r.Set(5, 4, 100)
	r.Set(6, 4, 100)

	res, err := Detect(context.Background(), r, Options{Threshold: 100})
	require.NoError(t, err)
	require.Len(t, res.Stars, 1)
	assert.InDelta(t, 5.0, res.Stars[0].X, 1e-9)

	// Pixels exactly at the threshold never seed a blob on their own.
	r = background(10, 10, 0)
	r.Set(1, 1, 100)
	r.Set(2, 1, 100)
	r.Set(3, 1, 100)
	res, err = Detect(context.Background(), r, Options{Threshold: 100})
	require.NoError(t, err)
	assert.Empty(t, res.Stars)
}

func TestDetectInsufficientSignal(t *testing.T) {
	r := background(8, 8, 220)
	res, err := Detect(context.Background(), r, Options{Threshold: 100})
	require.NoError(t, err)
	assert.True(t, res.InsufficientSignal)
	assert.Empty(t, res.Stars)
	assert.Zero(t, res.Blobs)
}

func TestDetectSortsByPosition(t *testing.T) {
	r := background(40, 40, 0)
	paintDisk(r, 30, 5, 2, 255)
	paintDisk(r, 5, 30, 2, 255)
	paintDisk(r, 10, 5, 2, 255)

	res, err := Detect(context.Background(), r, Options{Threshold: 100})
	require.NoError(t, err)
	require.Len(t, res.Stars, 3)
	for i := 1; i < len(res.Stars); i++ {
		prev, cur := res.Stars[i-1], res.Stars[i]
		assert.True(t, prev.Y < cur.Y || (prev.Y == cur.Y && prev.X <= cur.X), "stars out of order: %+v %+v", prev, cur)
	}
	assert.InDelta(t, 10.0, res.Stars[0].X, 0.5)
}

func TestDetectMaxStarsKeepsBrightest(t *testing.T) {
	r := background(40, 40, 0)
	paintDisk(r, 8, 8, 2, 150)
	paintDisk(r, 30, 8, 2, 250)
	paintDisk(r, 8, 30, 2, 200)

	res, err := Detect(context.Background(), r, Options{Threshold: 100, MaxStars: 2})
	require.NoError(t, err)
	require.Len(t, res.Stars, 2)
	for _, s := range res.Stars {
		assert.NotEqual(t, 150.0, s.B)
	}
}

func TestDetectRejectsInvalidParameters(t *testing.T) {
	r := background(4, 4, 0)
	_, err := Detect(context.Background(), r, Options{Threshold: 300})
	assert.ErrorIs(t, err, params.ErrInvalidParameter)

	_, err = Detect(context.Background(), &raster.Raster{Width: 4, Height: 4}, Options{Threshold: 10})
	assert.ErrorIs(t, err, params.ErrInvalidParameter)

	_, err = Detect(context.Background(), r, Options{Threshold: 10, MaxStars: -1})
	assert.ErrorIs(t, err, params.ErrInvalidParameter)
}

func TestDetectHonorsCancellation(t *testing.T) {
	r := background(32, 32, 0)
	paintDisk(r, 16, 16, 3, 255)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Detect(ctx, r, Options{Threshold: 100})
	assert.ErrorIs(t, err, context.Canceled)
}
