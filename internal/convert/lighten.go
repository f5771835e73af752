package convert

import "math"

// Lighten applies a gamma lift to the raster: amount 0 is the identity,
// amount 1 maps to gamma 0.5. E-paper panels render midtones darker than an
// LCD, so operators can brighten shadow detail before quantization without
// clipping highlights the way a linear gain would. Out-of-range amounts are
// clamped. Returns src unchanged when the amount is zero.
func Lighten(src *Raster, amount float64) *Raster {
	a := clamp01(amount)
	if a <= 0 {
		return src
	}
	gamma := 1.0 - 0.5*a

	// The curve only depends on the channel value, so build it once.
	var lut [256]uint8
	for v := 0; v < 256; v++ {
		nv := math.Pow(float64(v)/255.0, gamma) * 255.0
		lut[v] = uint8(clamp255(math.Round(nv)))
	}

	out := NewRaster(src.Width, src.Height)
	for i, px := range src.Pix {
		out.Pix[i] = RGB{lut[px.R], lut[px.G], lut[px.B]}
	}
	return out
}
