package convert

import (
	"paperwave/internal/panel"
)

// Quantized is a raster reduced to palette indices (positions into the
// variant's palette, not device codes). Dimensions always equal the target
// panel resolution; the packer rejects anything else.
type Quantized struct {
	Width  int
	Height int
	Index  []uint8
}

// Floyd-Steinberg forward diffusion weights: right, below-left, below,
// below-right. Out-of-bounds targets are dropped without redistributing
// their share.
var diffusionWeights = [4]struct {
	dx, dy int
	w      float64
}{
	{1, 0, 7.0 / 16.0},
	{-1, 1, 3.0 / 16.0},
	{0, 1, 5.0 / 16.0},
	{1, 1, 1.0 / 16.0},
}

// Dither reduces src to palette indices using error-diffusion dithering.
//
// Saturation in [0,1] blends each source pixel toward its luma-gray
// equivalent before matching: 1.0 leaves colors untouched, 0.0 collapses the
// image to grayscale. Out-of-range values are clamped. The pass is
// deterministic: identical input always produces identical output.
func Dither(src *Raster, p panel.Palette, saturation float64) *Quantized {
	sat := clamp01(saturation)

	// Working buffer carries the saturation-adjusted channels plus the
	// accumulated diffusion error. It is discarded when the pass ends.
	working := make([][3]float64, len(src.Pix))
	for i, px := range src.Pix {
		r, g, b := float64(px.R), float64(px.G), float64(px.B)
		gray := 0.299*r + 0.587*g + 0.114*b
		working[i] = [3]float64{
			r*sat + gray*(1-sat),
			g*sat + gray*(1-sat),
			b*sat + gray*(1-sat),
		}
	}

	out := &Quantized{
		Width:  src.Width,
		Height: src.Height,
		Index:  make([]uint8, len(src.Pix)),
	}

	// The diffusion is inherently sequential within a row: every pixel's
	// choice depends on error from already-visited neighbors.
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			i := y*src.Width + x
			adjusted := working[i]
			idx, chosen := nearestColor(p, adjusted)
			out.Index[i] = idx

			errR := adjusted[0] - float64(chosen.R)
			errG := adjusted[1] - float64(chosen.G)
			errB := adjusted[2] - float64(chosen.B)
			distributeError(working, src.Width, src.Height, x, y, errR, errG, errB)
		}
	}

	return out
}

// nearestColor selects the palette position with the smallest squared
// Euclidean distance in RGB space.
func nearestColor(p panel.Palette, c [3]float64) (uint8, panel.PaletteColor) {
	best := 0
	bestDist := -1.0
	for i, cand := range p {
		dr := c[0] - float64(cand.R)
		dg := c[1] - float64(cand.G)
		db := c[2] - float64(cand.B)
		dist := dr*dr + dg*dg + db*db
		if bestDist < 0 || dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	return uint8(best), p[best]
}

// distributeError spreads the quantization error to not-yet-visited
// neighbors. Accumulated values are clamped to the displayable range so
// error cannot run away at hard palette boundaries.
func distributeError(working [][3]float64, width, height, x, y int, errR, errG, errB float64) {
	for _, d := range diffusionWeights {
		nx, ny := x+d.dx, y+d.dy
		if nx < 0 || nx >= width || ny >= height {
			continue
		}
		i := ny*width + nx
		working[i][0] = clamp255(working[i][0] + errR*d.w)
		working[i][1] = clamp255(working[i][1] + errG*d.w)
		working[i][2] = clamp255(working[i][2] + errB*d.w)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clamp255(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
