package align

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"asterism/internal/detect"
	"asterism/internal/params"
	"asterism/internal/raster"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var starField = [][2]int{{30, 40}, {90, 25}, {150, 60}, {50, 110}, {120, 140}, {40, 170}, {170, 160}}

func writeFrame(t *testing.T, dir, name string, bg uint8, centres [][2]int, dx, dy int) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 200, 200))
	for i := range img.Pix {
		img.Pix[i] = bg
	}
	for _, c := range centres {
		cx, cy := c[0]+dx, c[1]+dy
		for y := cy - 2; y <= cy+2; y++ {
			for x := cx - 2; x <= cx+2; x++ {
				if (x-cx)*(x-cx)+(y-cy)*(y-cy) <= 4 {
					img.SetGray(x, y, color.Gray{Y: 250})
				}
			}
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func newService() *Service {
	return &Service{Loader: raster.NativeLoader{}}
}

func TestDetectFile(t *testing.T) {
	path := writeFrame(t, t.TempDir(), "frame.png", 0, starField, 0, 0)

	rep, err := newService().DetectFile(context.Background(), DetectRequest{Path: path, Threshold: 128})
	require.NoError(t, err)
	assert.Equal(t, 200, rep.Width)
	assert.Equal(t, 200, rep.Height)
	require.Len(t, rep.Stars, len(starField))
	assert.InDelta(t, 90, rep.Stars[0].X, 1e-9)
	assert.InDelta(t, 25, rep.Stars[0].Y, 1e-9)
	assert.Equal(t, len(starField), rep.Meta()["stars"])
}

func TestDetectFileTooBright(t *testing.T) {
	path := writeFrame(t, t.TempDir(), "bright.png", 200, starField, 0, 0)

	rep, err := newService().DetectFile(context.Background(), DetectRequest{Path: path, Threshold: 128})
	require.ErrorIs(t, err, detect.ErrInsufficientSignal)
	assert.Contains(t, err.Error(), "bright.png")
	assert.Empty(t, rep.Stars)
	assert.Greater(t, rep.MeanLuma, 128.0)
}

func TestDetectFileMissing(t *testing.T) {
	_, err := newService().DetectFile(context.Background(), DetectRequest{Path: filepath.Join(t.TempDir(), "nope.png"), Threshold: 128})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMatchFiles(t *testing.T) {
	dir := t.TempDir()
	ref := writeFrame(t, dir, "ref.png", 0, starField, 0, 0)
	tgt := writeFrame(t, dir, "tgt.png", 0, starField, 7, 4)
	plotPath := filepath.Join(dir, "overlay.png")

	rep, err := newService().MatchFiles(context.Background(), MatchRequest{
		Reference: ref,
		Target:    tgt,
		Params:    params.Params{Threshold: 128, GridCells: 3, Tolerance: 0.1},
		Workers:   2,
		Overlay:   plotPath,
	})
	require.NoError(t, err)
	require.NotEmpty(t, rep.Correspondences)
	assert.False(t, rep.Partial)
	require.NotNil(t, rep.Transform)
	assert.InDelta(t, 7, rep.Transform.Translation[0], 1e-6)
	assert.InDelta(t, 4, rep.Transform.Translation[1], 1e-6)
	assert.InDelta(t, 1, rep.Transform.Scale, 1e-9)
	assert.Equal(t, plotPath, rep.Overlay)
	assert.FileExists(t, plotPath)

	meta := rep.Meta()
	assert.Equal(t, len(rep.Correspondences), meta["matches"])
	assert.Contains(t, meta, "dx")
}

func TestMatchFilesNamesBrightFrame(t *testing.T) {
	dir := t.TempDir()
	ref := writeFrame(t, dir, "ref.png", 0, starField, 0, 0)
	tgt := writeFrame(t, dir, "washed.png", 220, starField, 0, 0)

	_, err := newService().MatchFiles(context.Background(), MatchRequest{
		Reference: ref,
		Target:    tgt,
		Params:    params.Default(),
	})
	require.ErrorIs(t, err, detect.ErrInsufficientSignal)
	assert.Contains(t, err.Error(), "washed.png")
}

func TestMatchFilesRejectsBadParams(t *testing.T) {
	_, err := newService().MatchFiles(context.Background(), MatchRequest{
		Params: params.Params{Threshold: 300, GridCells: 3, Tolerance: 0.1},
	})
	assert.ErrorIs(t, err, params.ErrInvalidParameter)
}

func TestMatchFilesNoOverlap(t *testing.T) {
	dir := t.TempDir()
	ref := writeFrame(t, dir, "ref.png", 0, starField[:3], 0, 0)
	tgt := writeFrame(t, dir, "tgt.png", 0, starField[:3], 0, 0)

	rep, err := newService().MatchFiles(context.Background(), MatchRequest{
		Reference: ref,
		Target:    tgt,
		Params:    params.Default(),
	})
	require.NoError(t, err)
	assert.Empty(t, rep.Correspondences)
	assert.Nil(t, rep.Transform)
	assert.NotEmpty(t, rep.Warnings)
}

func TestNewRejectsUnknownLoader(t *testing.T) {
	_, err := New("photoshop")
	assert.Error(t, err)

	s, err := New("native")
	require.NoError(t, err)
	assert.Equal(t, "native", s.Loader.Name())
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsTimeout(fmt.Errorf("match: %w", context.DeadlineExceeded)))
	assert.False(t, IsTimeout(context.Canceled))
	assert.False(t, IsTimeout(nil))
}
