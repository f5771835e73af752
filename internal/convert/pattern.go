package convert

import (
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"paperwave/internal/panel"
)

// StripePattern synthesizes the diagnostic test card: one vertical band per
// palette entry at the panel's native resolution, each labelled with its
// color name. The pattern is a plain raster and still goes through the real
// quantization path, so a demo render exercises the same dithering code as
// an upload.
func StripePattern(v *panel.Variant) *Raster {
	dc := gg.NewContext(v.Width, v.Height)

	n := len(v.Palette)
	bandW := float64(v.Width) / float64(n)
	for i, c := range v.Palette {
		dc.SetRGB255(int(c.R), int(c.G), int(c.B))
		dc.DrawRectangle(float64(i)*bandW, 0, bandW+1, float64(v.Height))
		dc.Fill()
	}

	if face := labelFace(v.Height); face != nil {
		dc.SetFontFace(face)
		for i, c := range v.Palette {
			// Label in whichever of black/white contrasts with the band.
			if luma(c) < 128 {
				dc.SetRGB255(255, 255, 255)
			} else {
				dc.SetRGB255(0, 0, 0)
			}
			cx := (float64(i) + 0.5) * bandW
			dc.DrawStringAnchored(c.Name, cx, float64(v.Height)*0.06, 0.5, 0.5)
		}
	}

	return FromImage(dc.Image())
}

// ArrowPattern draws a red arrow on white pointing "up" for the given
// rotation, used by the web calibration flow to let the operator identify
// the panel's physical orientation.
func ArrowPattern(width, height int, r Rotation) *Raster {
	w, h := r.TargetDimensions(width, height)
	dc := gg.NewContext(w, h)
	dc.SetRGB255(255, 255, 255)
	dc.Clear()

	cx := float64(w) / 2
	tipY := float64(h) * 0.12
	baseY := float64(h) * 0.62
	halfW := float64(w) * 0.35

	dc.SetRGB255(200, 20, 20)
	dc.MoveTo(cx, tipY)
	dc.LineTo(cx-halfW, baseY)
	dc.LineTo(cx+halfW, baseY)
	dc.ClosePath()
	dc.Fill()

	shaftW := float64(w) * 0.10
	dc.DrawRectangle(cx-shaftW/2, baseY, shaftW, float64(h)*0.90-baseY)
	dc.Fill()

	return Rotate(FromImage(dc.Image()), r)
}

// labelFace loads the bundled font scaled to the panel size. Returns nil if
// the font fails to parse; the pattern is still usable unlabelled.
func labelFace(panelHeight int) font.Face {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil
	}
	size := float64(panelHeight) / 24
	if size < 10 {
		size = 10
	}
	return truetype.NewFace(f, &truetype.Options{Size: size})
}

func luma(c panel.PaletteColor) float64 {
	return 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
}
