package raster

import "errors"

// ErrMagickUnavailable is returned when the ImageMagick loader is requested
// from a build without the imagick tag.
var ErrMagickUnavailable = errors.New("imagemagick support not compiled in (build with -tags imagick)")
