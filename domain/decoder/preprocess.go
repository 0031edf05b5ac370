package decoder

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Upright undoes a clockwise rotation hint (0, 90, 180 or 270 degrees,
// negative values and full turns accepted) so the engine sees the scene the
// right way up.
func Upright(img image.Image, rotation int) (image.Image, error) {
	if rotation%90 != 0 {
		return nil, fmt.Errorf("%w: rotation %d is not a multiple of 90", ErrInvalidImage, rotation)
	}
	switch ((rotation % 360) + 360) % 360 {
	case 90:
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	default:
		return img, nil
	}
}

// Fit downsizes img so neither side exceeds maxDim, preserving aspect ratio.
// Smaller images and maxDim <= 0 pass through untouched.
func Fit(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}
