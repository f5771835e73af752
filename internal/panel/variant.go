// Package panel holds the static registry of supported e-paper controller
// variants and the EEPROM-based detector that resolves the attached hardware
// to one of them.
//
// A Variant is tagged data: resolution, palette, command tables and timing,
// consumed uniformly by the packer (internal/convert) and the protocol driver
// (internal/epd). Supporting a new controller means adding a registry entry,
// not new control flow.
package panel

import (
	"encoding/binary"
	"time"
)

// Controller identifies a driver chip family.
type Controller int

const (
	UC8159 Controller = iota
	EL133UF1
)

func (c Controller) String() string {
	switch c {
	case UC8159:
		return "UC8159"
	case EL133UF1:
		return "EL133UF1"
	default:
		return "unknown"
	}
}

// ChipSelect selects which controller chip(s) a bus write targets. The
// EL133UF1 family cascades two chips behind one SPI port.
type ChipSelect uint8

const (
	CS0 ChipSelect = 1 << iota
	CS1
)

const CSBoth = CS0 | CS1

// PaletteColor is one renderable reference color together with the code the
// controller expects in the framebuffer.
type PaletteColor struct {
	Name    string
	R, G, B uint8
	Code    uint8
}

// Palette is the ordered set of colors a panel can physically render.
type Palette []PaletteColor

// White returns the palette entry used for letterbox padding. Every
// supported palette carries a white entry; the zero value is returned only
// for malformed test palettes.
func (p Palette) White() PaletteColor {
	for _, c := range p {
		if c.Name == "white" {
			return c
		}
	}
	return PaletteColor{}
}

// Command is a single command/data write in an initialization sequence.
type Command struct {
	Sel  ChipSelect
	Op   byte
	Data []byte
}

// Phase is one post-transfer control step (power on, refresh, power off):
// a command write followed by a bounded busy wait. Strict phases treat the
// timeout as a hardware error; tolerant phases carry on.
type Phase struct {
	Sel    ChipSelect
	Op     byte
	Data   []byte
	Wait   time.Duration
	Strict bool
}

// Variant is the immutable descriptor of one supported controller family
// member. Instances come from the registry and are never mutated.
type Variant struct {
	Name       string
	Controller Controller
	Width      int
	Height     int
	Palette    Palette

	// Protocol tables consumed by the driver.
	DataOp   byte         // "load image data" opcode
	DataSels []ChipSelect // chip select per framebuffer plane, in plane order
	Init     func(border uint8) []Command
	PowerOn  Phase
	Refresh  Phase
	PowerOff Phase

	// Handshake timing.
	BusyIdleHigh  bool // level of the busy line when the panel is idle
	ResetHold     time.Duration
	ResetSettle   time.Duration
	PostResetWait time.Duration

	// Experimental marks recognized-but-not-yet-validated hardware; the
	// orchestrator surfaces it as an operator warning.
	Experimental bool
}

// Planes is the number of framebuffer planes the variant transfers.
func (v *Variant) Planes() int { return len(v.DataSels) }

// PlaneSize is the packed byte count of a single plane: two pixels per byte,
// split evenly across planes.
func (v *Variant) PlaneSize() int {
	return v.Width * v.Height / 2 / v.Planes()
}

// UC8159 command opcodes.
const (
	uc8159PSR  = 0x00
	uc8159PWR  = 0x01
	uc8159POF  = 0x02
	uc8159PFS  = 0x03
	uc8159PON  = 0x04
	uc8159DTM1 = 0x10
	uc8159DRF  = 0x12
	uc8159PLL  = 0x30
	uc8159TSE  = 0x41
	uc8159CDI  = 0x50
	uc8159TCON = 0x60
	uc8159TRES = 0x61
	uc8159DAM  = 0x65
	uc8159PWS  = 0xE3
)

// EL133UF1 command opcodes.
const (
	el133PSR     = 0x00
	el133PWR     = 0x01
	el133POF     = 0x02
	el133PON     = 0x04
	el133BTSTN   = 0x05
	el133BTSTP   = 0x06
	el133DTM     = 0x10
	el133DRF     = 0x12
	el133PLL     = 0x30
	el133CDI     = 0x50
	el133TCON    = 0x60
	el133TRES    = 0x61
	el133ANTM    = 0x74
	el133AGID    = 0x86
	el133BuckN   = 0xB0
	el133VcomPwr = 0xB1
	el133EnBuf   = 0xB6
	el133VddpEn  = 0xB7
	el133CCSET   = 0xE0
	el133PWS     = 0xE3
	el133CMD66   = 0xF0
)

var uc8159Palette = Palette{
	{Name: "black", R: 0, G: 0, B: 0, Code: 0},
	{Name: "white", R: 255, G: 255, B: 255, Code: 1},
	{Name: "green", R: 0, G: 255, B: 0, Code: 2},
	{Name: "blue", R: 0, G: 0, B: 255, Code: 3},
	{Name: "red", R: 255, G: 0, B: 0, Code: 4},
	{Name: "yellow", R: 255, G: 255, B: 0, Code: 5},
	{Name: "orange", R: 255, G: 140, B: 0, Code: 6},
}

// The Spectra 6 controller skips code 4 in its color map.
var el133Palette = Palette{
	{Name: "black", R: 0, G: 0, B: 0, Code: 0},
	{Name: "white", R: 255, G: 255, B: 255, Code: 1},
	{Name: "yellow", R: 255, G: 255, B: 0, Code: 2},
	{Name: "red", R: 255, G: 0, B: 0, Code: 3},
	{Name: "blue", R: 0, G: 0, B: 255, Code: 5},
	{Name: "green", R: 0, G: 255, B: 0, Code: 6},
}

// newUC8159 builds the descriptor for one UC8159 panel size. resBits is the
// PSR resolution select field (0b11 = 600x448, 0b10 = 640x400).
func newUC8159(name string, width, height int, resBits uint8) *Variant {
	return &Variant{
		Name:       name,
		Controller: UC8159,
		Width:      width,
		Height:     height,
		Palette:    uc8159Palette,
		DataOp:     uc8159DTM1,
		DataSels:   []ChipSelect{CS0},
		Init: func(border uint8) []Command {
			tres := make([]byte, 4)
			binary.BigEndian.PutUint16(tres[0:], uint16(width))
			binary.BigEndian.PutUint16(tres[2:], uint16(height))
			return []Command{
				{CS0, uc8159TRES, tres},
				{CS0, uc8159PSR, []byte{resBits<<6 | 0b101111, 0x08}},
				{CS0, uc8159PWR, []byte{0x06<<3 | 0x01<<2 | 0x01<<1 | 0x01, 0x00, 0x23, 0x23}},
				{CS0, uc8159PLL, []byte{0x3C}},
				{CS0, uc8159TSE, []byte{0x00}},
				{CS0, uc8159CDI, []byte{(border&0x07)<<5 | 0x17}},
				{CS0, uc8159TCON, []byte{0x22}},
				{CS0, uc8159DAM, []byte{0x00}},
				{CS0, uc8159PWS, []byte{0xAA}},
				{CS0, uc8159PFS, []byte{0x00}},
			}
		},
		PowerOn:  Phase{Sel: CS0, Op: uc8159PON, Wait: 200 * time.Millisecond},
		Refresh:  Phase{Sel: CS0, Op: uc8159DRF, Wait: 32 * time.Second, Strict: true},
		PowerOff: Phase{Sel: CS0, Op: uc8159POF, Wait: 200 * time.Millisecond},

		// Busy is pulled low while the controller works; idle is high.
		BusyIdleHigh:  true,
		ResetHold:     100 * time.Millisecond,
		ResetSettle:   100 * time.Millisecond,
		PostResetWait: 1 * time.Second,
	}
}

// newEL133UF1 builds the descriptor for a Spectra 6 panel. The two cascaded
// chips each receive one vertical half of the (rotated) frame.
func newEL133UF1(name string, width, height int, experimental bool) *Variant {
	return &Variant{
		Name:       name,
		Controller: EL133UF1,
		Width:      width,
		Height:     height,
		Palette:    el133Palette,
		DataOp:     el133DTM,
		DataSels:   []ChipSelect{CS0, CS1},
		Init: func(_ uint8) []Command {
			return []Command{
				{CS0, el133ANTM, []byte{0xC0, 0x1C, 0x1C, 0xCC, 0xCC, 0xCC, 0x15, 0x15, 0x55}},
				{CSBoth, el133CMD66, []byte{0x49, 0x55, 0x13, 0x5D, 0x05, 0x10}},
				{CSBoth, el133PSR, []byte{0xDF, 0x69}},
				{CSBoth, el133PLL, []byte{0x08}},
				{CSBoth, el133CDI, []byte{0xF7}},
				{CSBoth, el133TCON, []byte{0x03, 0x03}},
				{CSBoth, el133AGID, []byte{0x10}},
				{CSBoth, el133PWS, []byte{0x22}},
				{CSBoth, el133CCSET, []byte{0x01}},
				{CSBoth, el133TRES, []byte{0x04, 0xB0, 0x03, 0x20}},
				{CS0, el133PWR, []byte{0x0F, 0x00, 0x28, 0x2C, 0x28, 0x38}},
				{CS0, el133EnBuf, []byte{0x07}},
				{CS0, el133BTSTP, []byte{0xD8, 0x18}},
				{CS0, el133VddpEn, []byte{0x01}},
				{CS0, el133BTSTN, []byte{0xD8, 0x18}},
				{CS0, el133BuckN, []byte{0x01}},
				{CS0, el133VcomPwr, []byte{0x02}},
			}
		},
		PowerOn:  Phase{Sel: CSBoth, Op: el133PON, Wait: 200 * time.Millisecond},
		Refresh:  Phase{Sel: CSBoth, Op: el133DRF, Data: []byte{0x00}, Wait: 32 * time.Second, Strict: true},
		PowerOff: Phase{Sel: CSBoth, Op: el133POF, Data: []byte{0x00}, Wait: 200 * time.Millisecond},

		// Busy is driven high while the controller works; idle is low.
		BusyIdleHigh:  false,
		ResetHold:     30 * time.Millisecond,
		ResetSettle:   30 * time.Millisecond,
		PostResetWait: 300 * time.Millisecond,

		Experimental: experimental,
	}
}

// ByDisplayVariant resolves an EEPROM display variant ID to a Variant. The
// EEPROM-reported dimensions are used for families that ship in multiple
// sizes under one ID. Returns nil for unsupported IDs; the caller must not
// substitute a default.
func ByDisplayVariant(id uint8, width, height int) *Variant {
	switch id {
	case 14:
		return newUC8159("7-Colour (UC8159) 600x448", 600, 448, 0b11)
	case 15, 16:
		return newUC8159("7-Colour 640x400 (UC8159)", 640, 400, 0b10)
	case 21:
		return newEL133UF1("Spectra 6 13.3 (EL133UF1)", width, height, false)
	case 22:
		// Recognized but not yet validated against real hardware; reuses
		// the EL133UF1 command set with the EEPROM-reported resolution.
		return newEL133UF1("Spectra 6 7.3 (E673)", width, height, true)
	default:
		return nil
	}
}
