//go:build !imagick

package raster

// MagickAvailable reports whether ImageMagick support was compiled in.
func MagickAvailable() bool { return false }

// MagickLoader is a placeholder when the binary is built without the
// imagick tag; Load always fails.
type MagickLoader struct{}

func (MagickLoader) Name() string { return "imagemagick" }

func (MagickLoader) Load(path string) (*Raster, error) {
	return nil, ErrMagickUnavailable
}
