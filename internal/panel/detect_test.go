package panel

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEEPROM struct {
	data []byte
	err  error
}

func (f fakeEEPROM) ReadEEPROM(p []byte) error {
	if f.err != nil {
		return f.err
	}
	copy(p, f.data)
	return nil
}

func metadataBlock(width, height uint16, colorCode, pcb, variant uint8) []byte {
	buf := make([]byte, MetadataLen)
	binary.LittleEndian.PutUint16(buf[0:], width)
	binary.LittleEndian.PutUint16(buf[2:], height)
	buf[4] = colorCode
	buf[5] = pcb
	buf[6] = variant
	return buf
}

func TestDetectBlankEEPROM(t *testing.T) {
	for _, fill := range []byte{0x00, 0xFF} {
		buf := make([]byte, MetadataLen)
		for i := range buf {
			buf[i] = fill
		}
		res := Detect(fakeEEPROM{data: buf})
		assert.False(t, res.Detected())
		assert.Equal(t, ReasonNoMetadata, res.Reason)
	}
}

func TestDetectReadFailure(t *testing.T) {
	res := Detect(fakeEEPROM{err: errors.New("i2c: nak")})
	assert.False(t, res.Detected())
	assert.Contains(t, res.Reason, ReasonReadFailed)
	assert.Contains(t, res.Reason, "i2c: nak")
}

func TestDetectInvalidMetadata(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"zero width", metadataBlock(0, 448, 7, 12, 14)},
		{"zero height", metadataBlock(600, 0, 7, 12, 14)},
		{"width 0xFFFF", metadataBlock(0xFFFF, 448, 7, 12, 14)},
		{"height 0xFFFF", metadataBlock(600, 0xFFFF, 7, 12, 14)},
		{"variant 255", metadataBlock(600, 448, 7, 12, 0xFF)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Detect(fakeEEPROM{data: tc.data})
			assert.False(t, res.Detected())
			assert.Contains(t, res.Reason, ReasonInvalid)
			// Raw bytes are preserved for diagnostics.
			assert.Equal(t, tc.data, res.Metadata.Raw)
		})
	}
}

func TestDetectUnknownVariant(t *testing.T) {
	// Variant 4 (Black pHAT) is a real product but not a color panel this
	// program drives.
	res := Detect(fakeEEPROM{data: metadataBlock(212, 104, 1, 9, 4)})
	assert.False(t, res.Detected())
	assert.Contains(t, res.Reason, ReasonUnknownVariant)
	assert.Contains(t, res.Reason, "Black pHAT")
}

func TestDetectUC8159(t *testing.T) {
	res := Detect(fakeEEPROM{data: metadataBlock(600, 448, 7, 12, 14)})
	require.True(t, res.Detected())
	v := res.Variant
	assert.Equal(t, UC8159, v.Controller)
	assert.Equal(t, 600, v.Width)
	assert.Equal(t, 448, v.Height)
	assert.Len(t, v.Palette, 7)
	assert.Equal(t, 1, v.Planes())
	assert.Equal(t, 600*448/2, v.PlaneSize())
	assert.False(t, v.Experimental)
	assert.True(t, v.BusyIdleHigh)
}

func TestDetectUC8159SmallerSizes(t *testing.T) {
	for _, id := range []uint8{15, 16} {
		res := Detect(fakeEEPROM{data: metadataBlock(640, 400, 7, 12, id)})
		require.True(t, res.Detected(), "variant %d", id)
		assert.Equal(t, 640, res.Variant.Width)
		assert.Equal(t, 400, res.Variant.Height)
	}
}

func TestDetectSpectra6(t *testing.T) {
	res := Detect(fakeEEPROM{data: metadataBlock(1600, 1200, 6, 1, 21)})
	require.True(t, res.Detected())
	v := res.Variant
	assert.Equal(t, EL133UF1, v.Controller)
	assert.Equal(t, 1600, v.Width)
	assert.Equal(t, 1200, v.Height)
	assert.Len(t, v.Palette, 6)
	assert.Equal(t, 2, v.Planes())
	assert.Equal(t, 1600*1200/4, v.PlaneSize())
	assert.False(t, v.Experimental)
	assert.False(t, v.BusyIdleHigh)
}

func TestDetectExperimentalE673(t *testing.T) {
	res := Detect(fakeEEPROM{data: metadataBlock(800, 480, 6, 1, 22)})
	require.True(t, res.Detected())
	assert.True(t, res.Variant.Experimental)
	assert.Contains(t, res.Summary(), "untested")
}

func TestSummaryIncludesRawOnFailure(t *testing.T) {
	data := metadataBlock(600, 448, 7, 12, 0xFF)
	res := Detect(fakeEEPROM{data: data})
	sum := res.Summary()
	assert.True(t, strings.HasPrefix(sum, "no panel recognized"))
	assert.Contains(t, sum, "raw:")
}

func TestPaletteWhite(t *testing.T) {
	for _, p := range []Palette{uc8159Palette, el133Palette} {
		w := p.White()
		assert.Equal(t, "white", w.Name)
		assert.EqualValues(t, 255, w.R)
	}
}

func TestMetadataString(t *testing.T) {
	md := Metadata{Width: 600, Height: 448, ColorCode: 7, PCBVariant: 12, DisplayVariant: 14}
	s := md.String()
	assert.Contains(t, s, "600x448")
	assert.Contains(t, s, "pcb_variant=1.2")
	assert.Contains(t, s, "7-Colour (UC8159) 600x448")
}
