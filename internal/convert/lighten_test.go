package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLightenZeroIsIdentity(t *testing.T) {
	src := solid(2, 2, RGB{R: 30, G: 120, B: 200})

	got := Lighten(src, 0)
	assert.Same(t, src, got)

	got = Lighten(src, -0.4)
	assert.Same(t, src, got)
}

func TestLightenFullLiftIsGammaHalf(t *testing.T) {
	src := &Raster{Width: 4, Height: 1, Pix: []RGB{
		{0, 0, 0},
		{64, 64, 64},
		{128, 128, 128},
		{255, 255, 255},
	}}

	got := Lighten(src, 1)

	// sqrt(v/255)*255, rounded.
	assert.Equal(t, RGB{0, 0, 0}, got.At(0, 0))
	assert.Equal(t, RGB{128, 128, 128}, got.At(1, 0))
	assert.Equal(t, RGB{181, 181, 181}, got.At(2, 0))
	assert.Equal(t, RGB{255, 255, 255}, got.At(3, 0))
}

func TestLightenNeverDarkens(t *testing.T) {
	src := NewRaster(16, 16)
	for i := range src.Pix {
		v := uint8(i)
		src.Pix[i] = RGB{v, v, v}
	}

	for _, amount := range []float64{0.25, 0.5, 1} {
		got := Lighten(src, amount)
		for i := range src.Pix {
			assert.GreaterOrEqual(t, got.Pix[i].R, src.Pix[i].R, "amount %v index %d", amount, i)
		}
	}
}

func TestLightenClampsAmount(t *testing.T) {
	src := solid(1, 1, RGB{64, 64, 64})
	assert.Equal(t, Lighten(src, 1).At(0, 0), Lighten(src, 3.5).At(0, 0))
}

func TestLightenDoesNotMutateSource(t *testing.T) {
	src := solid(1, 1, RGB{64, 64, 64})
	Lighten(src, 1)
	assert.Equal(t, RGB{64, 64, 64}, src.At(0, 0))
}
