// Package overlay draws two frames' stars side by side with every matched
// quad traced on both panels.
package overlay

import (
	"fmt"
	"image/color"
	"io"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"asterism/internal/match"
	"asterism/internal/star"
)

// PanelSize is the edge length of one panel.
const PanelSize = 6 * vg.Inch

var starColor = color.RGBA{R: 40, G: 40, B: 40, A: 255}

// Panel is one frame's worth of stars. Coordinates are image pixels with the
// origin at the top left.
type Panel struct {
	Title  string
	Stars  []star.Star
	Width  float64
	Height float64
}

// Render writes a PNG with a on the left and b on the right. Each
// correspondence is drawn as the polyline Far1, Far2, Other1, Other2 in the
// same colour on both panels.
func Render(w io.Writer, a, b Panel, corrs []match.Correspondence) error {
	quadsA := make([]star.Quad, len(corrs))
	quadsB := make([]star.Quad, len(corrs))
	for i, c := range corrs {
		quadsA[i], quadsB[i] = c.Quads()
	}

	left, err := newPanel(a, quadsA)
	if err != nil {
		return err
	}
	right, err := newPanel(b, quadsB)
	if err != nil {
		return err
	}

	img := vgimg.New(2*PanelSize, PanelSize)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: 1,
		Cols: 2,
		PadX: vg.Millimeter * 4,
		PadY: vg.Millimeter * 2,
	}
	canvases := plot.Align([][]*plot.Plot{{left, right}}, tiles, dc)
	left.Draw(canvases[0][0])
	right.Draw(canvases[0][1])

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("write overlay: %w", err)
	}
	return nil
}

// RenderFile is Render to a file path.
func RenderFile(path string, a, b Panel, corrs []match.Correspondence) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Render(f, a, b, corrs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newPanel(p Panel, quads []star.Quad) (*plot.Plot, error) {
	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("%s (%d stars)", p.Title, len(p.Stars))
	pl.X.Label.Text = "x"
	pl.Y.Label.Text = "y"
	pl.BackgroundColor = color.White

	if len(p.Stars) > 0 {
		pts := make(plotter.XYs, len(p.Stars))
		for i, s := range p.Stars {
			pts[i] = flip(s, p.Height)
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = starColor
		sc.GlyphStyle.Radius = vg.Points(1.5)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		pl.Add(sc)
	}

	for i, q := range quads {
		pts := make(plotter.XYs, len(q))
		for k, s := range q {
			pts[k] = flip(s, p.Height)
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		pl.Add(line)
	}

	pl.X.Min, pl.X.Max = 0, p.Width
	pl.Y.Min, pl.Y.Max = 0, p.Height
	return pl, nil
}

// flip turns image rows into plot y so the panel reads like the frame.
func flip(s star.Star, height float64) plotter.XY {
	return plotter.XY{X: s.X, Y: height - s.Y}
}
