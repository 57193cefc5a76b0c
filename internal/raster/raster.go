// Package raster turns decoded frames into the plain luma buffer consumed by
// star detection. Decoding itself is delegated to a Loader.
package raster

import (
	"fmt"
	"image"

	"asterism/internal/params"

	"gonum.org/v1/gonum/stat"
)

// Raster is a read-only luma buffer on the 0-255 scale, stored row-major.
type Raster struct {
	Width  int
	Height int
	Luma   []float64
}

// Luma weights RGB with the Rec. 601 coefficients.
func Luma(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}

// New allocates a black raster.
func New(width, height int) *Raster {
	return &Raster{Width: width, Height: height, Luma: make([]float64, width*height)}
}

// FromRGBA builds a raster from interleaved 8-bit RGBA samples, the layout
// browser canvases and image.RGBA use.
func FromRGBA(width, height int, pix []uint8) (*Raster, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: raster size %dx%d", params.ErrInvalidParameter, width, height)
	}
	if len(pix) != width*height*4 {
		return nil, fmt.Errorf("%w: expected %d RGBA bytes, got %d", params.ErrInvalidParameter, width*height*4, len(pix))
	}
	r := New(width, height)
	for i := range r.Luma {
		o := i * 4
		r.Luma[i] = Luma(float64(pix[o]), float64(pix[o+1]), float64(pix[o+2]))
	}
	return r, nil
}

// FromImage converts any decoded image. 16-bit sources are scaled down to
// the 0-255 range so thresholds mean the same thing for every format.
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	r := New(b.Dx(), b.Dy())

	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < r.Height; y++ {
			row := g.Pix[y*g.Stride : y*g.Stride+r.Width]
			for x, v := range row {
				r.Luma[y*r.Width+x] = float64(v)
			}
		}
		return r
	}

	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			cr, cg, cb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			r.Luma[y*r.Width+x] = Luma(float64(cr)/257, float64(cg)/257, float64(cb)/257)
		}
	}
	return r
}

// Validate checks that the buffer matches the declared shape.
func (r *Raster) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil raster", params.ErrInvalidParameter)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: raster size %dx%d", params.ErrInvalidParameter, r.Width, r.Height)
	}
	if len(r.Luma) != r.Width*r.Height {
		return fmt.Errorf("%w: raster buffer holds %d samples, want %d", params.ErrInvalidParameter, len(r.Luma), r.Width*r.Height)
	}
	return nil
}

// At returns the luma at (x, y). Callers are expected to stay in bounds.
func (r *Raster) At(x, y int) float64 {
	return r.Luma[y*r.Width+x]
}

// Set writes luma at (x, y).
func (r *Raster) Set(x, y int, v float64) {
	r.Luma[y*r.Width+x] = v
}

// MeanLuma is the average brightness of the whole frame.
func (r *Raster) MeanLuma() float64 {
	if len(r.Luma) == 0 {
		return 0
	}
	return stat.Mean(r.Luma, nil)
}
