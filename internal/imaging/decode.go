// Package imaging decodes uploaded image files into the pipeline's raster
// form. Format support is whatever the registered decoders cover: the
// stdlib PNG/JPEG/GIF plus BMP, TIFF and WebP. JPEGs get their EXIF
// orientation applied so phone-camera uploads come out upright.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"paperwave/internal/convert"
)

// Decode reads one image from r. The format name is returned for logging.
func Decode(r io.Reader) (*convert.Raster, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("imaging: read: %w", err)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("imaging: decode: %w", err)
	}
	raster := convert.FromImage(img)
	return applyOrientation(raster, orientationOf(data)), format, nil
}

// orientationOf extracts the EXIF orientation tag, defaulting to 1 (upright).
// Cameras write it instead of rotating pixels; without it portrait photos
// render sideways. Missing or malformed EXIF is not an error.
func orientationOf(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// applyOrientation undoes the capture transform the orientation tag records,
// per the EXIF 2.3 table.
func applyOrientation(r *convert.Raster, orientation int) *convert.Raster {
	switch orientation {
	case 2:
		return convert.FlipH(r)
	case 3:
		return convert.Rotate(r, convert.Rotate180)
	case 4:
		return convert.FlipV(r)
	case 5:
		return convert.FlipH(convert.Rotate(r, convert.Rotate90))
	case 6:
		return convert.Rotate(r, convert.Rotate90)
	case 7:
		return convert.FlipV(convert.Rotate(r, convert.Rotate90))
	case 8:
		return convert.Rotate(r, convert.Rotate270)
	default:
		return r
	}
}
