package convert

import (
	"image"

	xdraw "golang.org/x/image/draw"

	"paperwave/internal/panel"
)

// FitToResolution scales src so it fits inside width x height while keeping
// its aspect ratio, then centers it on a letterbox canvas filled with the
// pad color. Scaling uses bilinear resampling; the result is deterministic
// for a given input. A raster already at the target size is returned as-is.
func FitToResolution(src *Raster, width, height int, pad panel.PaletteColor) *Raster {
	if src.Width == width && src.Height == height {
		return src
	}

	// Largest scale that keeps both dimensions inside the target.
	sw := float64(width) / float64(src.Width)
	sh := float64(height) / float64(src.Height)
	scale := sw
	if sh < sw {
		scale = sh
	}
	dw := int(float64(src.Width)*scale + 0.5)
	dh := int(float64(src.Height)*scale + 0.5)
	if dw < 1 {
		dw = 1
	}
	if dw > width {
		dw = width
	}
	if dh < 1 {
		dh = 1
	}
	if dh > height {
		dh = height
	}

	srcImg := src.ToRGBA()
	scaled := image.NewRGBA(image.Rect(0, 0, dw, dh))
	xdraw.BiLinear.Scale(scaled, scaled.Bounds(), srcImg, srcImg.Bounds(), xdraw.Src, nil)

	out := NewRaster(width, height)
	out.Fill(RGB{pad.R, pad.G, pad.B})

	offX := (width - dw) / 2
	offY := (height - dh) / 2
	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			c := scaled.RGBAAt(x, y)
			out.Set(offX+x, offY+y, RGB{c.R, c.G, c.B})
		}
	}
	return out
}
