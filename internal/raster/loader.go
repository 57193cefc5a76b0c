package raster

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Loader decodes an image file into a Raster.
type Loader interface {
	Name() string
	Load(path string) (*Raster, error)
}

// NativeLoader decodes PNG, JPEG, GIF, TIFF, BMP and WebP in pure Go.
type NativeLoader struct{}

func (NativeLoader) Name() string { return "native" }

func (NativeLoader) Load(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return FromImage(img), nil
}

// NewLoader picks a loader by name: native, imagemagick or auto. auto prefers
// ImageMagick when the binary was built with it, since it also reads RAW
// and FITS frames.
func NewLoader(name string) (Loader, error) {
	switch strings.ToLower(name) {
	case "", "auto":
		if MagickAvailable() {
			return MagickLoader{}, nil
		}
		return NativeLoader{}, nil
	case "native":
		return NativeLoader{}, nil
	case "imagemagick", "magick":
		if !MagickAvailable() {
			return nil, ErrMagickUnavailable
		}
		return MagickLoader{}, nil
	default:
		return nil, fmt.Errorf("unknown loader: %s", name)
	}
}
