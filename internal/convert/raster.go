// Package convert is the pure image-to-framebuffer pipeline: aspect-fit
// resize, lossless rotation, palette quantization with error-diffusion
// dithering, and the controller-specific bit packing. It performs no I/O and
// never touches the bus; every stage consumes its input and produces a new
// owned artifact.
package convert

import (
	"image"
	"image/color"
)

// RGB is one raster pixel.
type RGB struct {
	R, G, B uint8
}

// Raster is a decoded image: RGB triples in row-major order.
type Raster struct {
	Width  int
	Height int
	Pix    []RGB
}

// NewRaster allocates a zeroed (black) raster.
func NewRaster(width, height int) *Raster {
	return &Raster{
		Width:  width,
		Height: height,
		Pix:    make([]RGB, width*height),
	}
}

func (r *Raster) At(x, y int) RGB {
	return r.Pix[y*r.Width+x]
}

func (r *Raster) Set(x, y int, c RGB) {
	r.Pix[y*r.Width+x] = c
}

// Fill sets every pixel to c.
func (r *Raster) Fill(c RGB) {
	for i := range r.Pix {
		r.Pix[i] = c
	}
}

// FromImage flattens any image.Image into a Raster, discarding alpha against
// an implicit white background so transparent uploads read as paper.
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	r := NewRaster(b.Dx(), b.Dy())
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			if c.A < 0xFF {
				c = blendOverWhite(c)
			}
			r.Set(x, y, RGB{c.R, c.G, c.B})
		}
	}
	return r
}

// ToRGBA converts the raster to an opaque image.RGBA for interop with
// image-processing libraries.
func (r *Raster) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			p := r.At(x, y)
			img.SetRGBA(x, y, color.RGBA{p.R, p.G, p.B, 0xFF})
		}
	}
	return img
}

func blendOverWhite(c color.NRGBA) color.NRGBA {
	a := uint16(c.A)
	blend := func(v uint8) uint8 {
		return uint8((uint16(v)*a + 255*(255-a)) / 255)
	}
	return color.NRGBA{R: blend(c.R), G: blend(c.G), B: blend(c.B), A: 0xFF}
}
