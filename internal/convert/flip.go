package convert

// FlipH returns a new raster mirrored across its vertical axis.
func FlipH(src *Raster) *Raster {
	out := NewRaster(src.Width, src.Height)
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			out.Set(x, y, src.At(src.Width-1-x, y))
		}
	}
	return out
}

// FlipV returns a new raster mirrored across its horizontal axis.
func FlipV(src *Raster) *Raster {
	out := NewRaster(src.Width, src.Height)
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			out.Set(x, y, src.At(x, src.Height-1-y))
		}
	}
	return out
}
