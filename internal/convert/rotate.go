package convert

import "fmt"

// Rotation is a quarter-turn rotation applied to the resized raster before
// quantization.
type Rotation int

const (
	Rotate0 Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

// ParseRotation maps degrees to a Rotation. Values outside {0, 90, 180, 270}
// are a caller contract violation and are rejected.
func ParseRotation(deg int) (Rotation, error) {
	switch deg {
	case 0:
		return Rotate0, nil
	case 90:
		return Rotate90, nil
	case 180:
		return Rotate180, nil
	case 270:
		return Rotate270, nil
	default:
		return Rotate0, fmt.Errorf("convert: unsupported rotation %d, want 0, 90, 180 or 270", deg)
	}
}

// Degrees returns the rotation angle.
func (r Rotation) Degrees() int {
	return int(r) * 90
}

// Plus composes two rotations: a calibrated mount offset plus the rotation
// requested for a single image.
func (r Rotation) Plus(o Rotation) Rotation {
	return (r + o) % 4
}

// TargetDimensions returns the pre-rotation raster dimensions that rotate
// onto a width x height panel.
func (r Rotation) TargetDimensions(width, height int) (int, int) {
	if r == Rotate90 || r == Rotate270 {
		return height, width
	}
	return width, height
}

// Rotate returns a new raster turned clockwise by r. The transform is a pure
// index permutation; pixel values are untouched.
func Rotate(src *Raster, r Rotation) *Raster {
	switch r {
	case Rotate90:
		return rotate90(src)
	case Rotate180:
		return rotate180(src)
	case Rotate270:
		return rotate270(src)
	default:
		out := NewRaster(src.Width, src.Height)
		copy(out.Pix, src.Pix)
		return out
	}
}

func rotate90(src *Raster) *Raster {
	out := NewRaster(src.Height, src.Width)
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			out.Set(x, y, src.At(y, src.Height-1-x))
		}
	}
	return out
}

func rotate180(src *Raster) *Raster {
	out := NewRaster(src.Width, src.Height)
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			out.Set(x, y, src.At(src.Width-1-x, src.Height-1-y))
		}
	}
	return out
}

func rotate270(src *Raster) *Raster {
	out := NewRaster(src.Height, src.Width)
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			out.Set(x, y, src.At(src.Width-1-y, x))
		}
	}
	return out
}
