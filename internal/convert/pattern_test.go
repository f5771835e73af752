package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperwave/internal/panel"
)

func TestStripePatternCoversWholePalette(t *testing.T) {
	v := panel.ByDisplayVariant(14, 600, 448)
	require.NotNil(t, v)

	src := StripePattern(v)
	require.Equal(t, v.Width, src.Width)
	require.Equal(t, v.Height, src.Height)

	q := Dither(src, v.Palette, 1.0)
	seen := make(map[uint8]bool)
	for _, idx := range q.Index {
		seen[idx] = true
	}
	for i, c := range v.Palette {
		assert.True(t, seen[uint8(i)], "palette color %s missing from test card", c.Name)
	}
}

func TestStripePatternBandCenters(t *testing.T) {
	v := panel.ByDisplayVariant(14, 600, 448)
	require.NotNil(t, v)
	src := StripePattern(v)

	bandW := v.Width / len(v.Palette)
	for i, c := range v.Palette {
		// Sample mid-band below the label area.
		got := src.At(i*bandW+bandW/2, v.Height/2)
		assert.Equal(t, RGB{c.R, c.G, c.B}, got, "band %s", c.Name)
	}
}

func TestArrowPatternDimensions(t *testing.T) {
	for _, r := range []Rotation{Rotate0, Rotate90, Rotate180, Rotate270} {
		got := ArrowPattern(600, 448, r)
		assert.Equal(t, 600, got.Width, "rotation %d", r.Degrees())
		assert.Equal(t, 448, got.Height, "rotation %d", r.Degrees())
	}
}

func TestArrowPatternHasArrowOnWhite(t *testing.T) {
	got := ArrowPattern(200, 100, Rotate0)
	assert.Equal(t, RGB{255, 255, 255}, got.At(2, 2), "corner is background")
	// Arrow tip region is red-dominant.
	tip := got.At(100, 20)
	assert.Greater(t, int(tip.R), int(tip.G)+50)
	assert.Greater(t, int(tip.R), int(tip.B)+50)
}
