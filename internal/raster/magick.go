//go:build imagick

package raster

import (
	"fmt"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"
)

var magickInit sync.Once

// MagickAvailable reports whether ImageMagick support was compiled in.
func MagickAvailable() bool { return true }

// MagickLoader reads frames through the ImageMagick MagickWand API.
type MagickLoader struct{}

func (MagickLoader) Name() string { return "imagemagick" }

func (MagickLoader) Load(path string) (*Raster, error) {
	magickInit.Do(imagick.Initialize)

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(path); err != nil {
		return nil, fmt.Errorf("failed to read image: %v", err)
	}

	width := mw.GetImageWidth()
	height := mw.GetImageHeight()

	pixels, err := mw.ExportImagePixels(0, 0, width, height, "RGB", imagick.PIXEL_FLOAT)
	if err != nil {
		return nil, fmt.Errorf("failed to export pixels: %v", err)
	}
	samples, ok := pixels.([]float32)
	if !ok {
		return nil, fmt.Errorf("unexpected pixel buffer type %T", pixels)
	}

	r := New(int(width), int(height))
	for i := range r.Luma {
		o := i * 3
		r.Luma[i] = Luma(float64(samples[o])*255, float64(samples[o+1])*255, float64(samples[o+2])*255)
	}
	return r, nil
}
