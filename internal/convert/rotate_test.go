package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numbered(width, height int) *Raster {
	r := NewRaster(width, height)
	for i := range r.Pix {
		r.Pix[i] = RGB{R: uint8(i)}
	}
	return r
}

func TestParseRotation(t *testing.T) {
	for deg, want := range map[int]Rotation{0: Rotate0, 90: Rotate90, 180: Rotate180, 270: Rotate270} {
		got, err := ParseRotation(deg)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, deg, got.Degrees())
	}
	for _, deg := range []int{45, -90, 360, 1} {
		_, err := ParseRotation(deg)
		assert.Error(t, err, "degrees %d", deg)
	}
}

func TestTargetDimensions(t *testing.T) {
	w, h := Rotate90.TargetDimensions(600, 448)
	assert.Equal(t, [2]int{448, 600}, [2]int{w, h})
	w, h = Rotate180.TargetDimensions(600, 448)
	assert.Equal(t, [2]int{600, 448}, [2]int{w, h})
}

func TestRotate90Explicit(t *testing.T) {
	// 2x3 source:      rotated clockwise becomes 3x2:
	//   0 1               4 2 0
	//   2 3               5 3 1
	//   4 5
	src := numbered(2, 3)
	got := Rotate(src, Rotate90)
	require.Equal(t, 3, got.Width)
	require.Equal(t, 2, got.Height)
	want := []uint8{4, 2, 0, 5, 3, 1}
	for i, w := range want {
		assert.Equal(t, w, got.Pix[i].R, "pixel %d", i)
	}
}

func TestRotate180Explicit(t *testing.T) {
	src := numbered(2, 2)
	got := Rotate(src, Rotate180)
	want := []uint8{3, 2, 1, 0}
	for i, w := range want {
		assert.Equal(t, w, got.Pix[i].R, "pixel %d", i)
	}
}

func TestRotationsCompose(t *testing.T) {
	src := numbered(4, 3)

	quad := Rotate(Rotate(Rotate(Rotate(src, Rotate90), Rotate90), Rotate90), Rotate90)
	assert.Equal(t, src.Pix, quad.Pix, "four quarter turns")

	inv := Rotate(Rotate(src, Rotate90), Rotate270)
	assert.Equal(t, src.Pix, inv.Pix, "90 then 270")

	half := Rotate(Rotate(src, Rotate180), Rotate180)
	assert.Equal(t, src.Pix, half.Pix, "180 twice")
}

func TestRotate0Copies(t *testing.T) {
	src := numbered(2, 2)
	got := Rotate(src, Rotate0)
	assert.Equal(t, src.Pix, got.Pix)
	got.Set(0, 0, RGB{R: 99})
	assert.NotEqual(t, src.At(0, 0), got.At(0, 0), "rotation must not alias the source")
}

func TestRotationPlus(t *testing.T) {
	assert.Equal(t, Rotate90, Rotate0.Plus(Rotate90))
	assert.Equal(t, Rotate0, Rotate90.Plus(Rotate270))
	assert.Equal(t, Rotate180, Rotate270.Plus(Rotate270))
	assert.Equal(t, Rotate270, Rotate180.Plus(Rotate90))
}

func TestRotationPlusMatchesSequentialRotation(t *testing.T) {
	src := numbered(4, 3)
	for _, a := range []Rotation{Rotate0, Rotate90, Rotate180, Rotate270} {
		for _, b := range []Rotation{Rotate0, Rotate90, Rotate180, Rotate270} {
			combined := Rotate(src, a.Plus(b))
			sequential := Rotate(Rotate(src, a), b)
			assert.Equal(t, sequential.Pix, combined.Pix, "%v plus %v", a, b)
		}
	}
}
