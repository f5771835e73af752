package convert

import (
	"fmt"

	"paperwave/internal/panel"
)

// FrameBuffer is a packed frame in device-native layout, one plane per
// controller chip, tagged with the variant it was packed for.
type FrameBuffer struct {
	Variant *panel.Variant
	Planes  [][]byte
}

// Pack encodes palette indices into the variant's native byte layout.
//
// A dimension mismatch is a caller contract violation: upstream resize
// guarantees the target resolution, so anything else indicates a pipeline
// bug and is reported as an error rather than truncated or wrapped.
func Pack(q *Quantized, v *panel.Variant) (*FrameBuffer, error) {
	if q.Width != v.Width || q.Height != v.Height {
		return nil, fmt.Errorf("convert: quantized image is %dx%d, variant %s wants %dx%d",
			q.Width, q.Height, v.Name, v.Width, v.Height)
	}
	if len(q.Index) != q.Width*q.Height {
		return nil, fmt.Errorf("convert: quantized image has %d indices, want %d",
			len(q.Index), q.Width*q.Height)
	}

	codes, err := deviceCodes(q, v.Palette)
	if err != nil {
		return nil, err
	}

	var planes [][]byte
	switch v.Controller {
	case panel.EL133UF1:
		planes = packSplitPlanes(codes, q.Width, q.Height)
	default:
		planes = [][]byte{packNibbles(codes)}
	}

	return &FrameBuffer{Variant: v, Planes: planes}, nil
}

// deviceCodes maps palette positions to the codes the controller expects.
func deviceCodes(q *Quantized, p panel.Palette) ([]uint8, error) {
	codes := make([]uint8, len(q.Index))
	for i, idx := range q.Index {
		if int(idx) >= len(p) {
			return nil, fmt.Errorf("convert: palette index %d out of range (palette size %d)", idx, len(p))
		}
		codes[i] = p[idx].Code
	}
	return codes, nil
}

// packNibbles packs two 4-bit codes per byte, first pixel in the high
// nibble, row-major.
func packNibbles(codes []uint8) []byte {
	packed := make([]byte, (len(codes)+1)/2)
	for i := 0; i+1 < len(codes); i += 2 {
		packed[i/2] = (codes[i]&0x0F)<<4 | codes[i+1]&0x0F
	}
	if len(codes)%2 == 1 {
		packed[len(packed)-1] = (codes[len(codes)-1] & 0x0F) << 4
	}
	return packed
}

// packSplitPlanes handles the dual-chip Spectra 6 layout: the code plane is
// rotated 270 degrees into the controller's scan orientation, split into
// left and right column halves, and each half nibble-packed for its chip.
func packSplitPlanes(codes []uint8, width, height int) [][]byte {
	// Rotate counterclockwise: rotated is height x width.
	rw, rh := height, width
	rotated := make([]uint8, len(codes))
	for y := 0; y < rh; y++ {
		for x := 0; x < rw; x++ {
			sx := width - 1 - y
			sy := x
			rotated[y*rw+x] = codes[sy*width+sx]
		}
	}

	split := rw / 2
	left := make([]uint8, 0, rh*split)
	right := make([]uint8, 0, rh*(rw-split))
	for y := 0; y < rh; y++ {
		row := rotated[y*rw : (y+1)*rw]
		left = append(left, row[:split]...)
		right = append(right, row[split:]...)
	}

	return [][]byte{packNibbles(left), packNibbles(right)}
}
