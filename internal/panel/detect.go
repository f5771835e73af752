package panel

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// MetadataLen is the size of the identification block on the panel EEPROM.
const MetadataLen = 29

// Display variant names as stored at byte 6 of the EEPROM block. Kept for
// diagnostics even where the variant is not driveable by this program.
var displayVariantNames = [...]string{
	"Unknown",
	"Red pHAT (High-Temp)",
	"Yellow wHAT",
	"Black wHAT",
	"Black pHAT",
	"Yellow pHAT",
	"Red wHAT",
	"Red wHAT (High-Temp)",
	"Red wHAT",
	"Unknown",
	"Black pHAT (SSD1608)",
	"Red pHAT (SSD1608)",
	"Yellow pHAT (SSD1608)",
	"Unknown",
	"7-Colour (UC8159) 600x448",
	"7-Colour 640x400 (UC8159)",
	"7-Colour 640x400 (UC8159)",
	"Black wHAT (SSD1683)",
	"Red wHAT (SSD1683)",
	"Yellow wHAT (SSD1683)",
	"7-Colour 800x480 (AC073TC1A)",
	"Spectra 6 13.3 1600x1200 (EL133UF1)",
	"Spectra 6 7.3 800x480 (E673)",
	"Red/Yellow pHAT (JD79661)",
	"Red/Yellow wHAT (JD79668)",
}

// Metadata is the parsed EEPROM identification block.
type Metadata struct {
	Width          uint16
	Height         uint16
	ColorCode      uint8
	PCBVariant     uint8
	DisplayVariant uint8
	Raw            []byte
}

// VariantName is the human-readable name of the display variant field.
func (m Metadata) VariantName() string {
	if int(m.DisplayVariant) < len(displayVariantNames) {
		return displayVariantNames[m.DisplayVariant]
	}
	return "Unknown"
}

func (m Metadata) String() string {
	return fmt.Sprintf("%dx%d colour=%d pcb_variant=%.1f display_variant=%d (%s)",
		m.Width, m.Height, m.ColorCode, float64(m.PCBVariant)/10.0,
		m.DisplayVariant, m.VariantName())
}

// Detection failure reasons.
const (
	ReasonNoMetadata     = "no metadata"
	ReasonInvalid        = "metadata failed validation"
	ReasonUnknownVariant = "unknown variant id"
	ReasonReadFailed     = "metadata read failed"
)

// ProbeResult is the outcome of one detection attempt. Either Variant is
// non-nil and Metadata describes the attached board, or Reason explains why
// no panel was recognized.
type ProbeResult struct {
	Variant  *Variant
	Metadata Metadata
	Reason   string
}

// Detected reports whether the probe resolved to a driveable variant.
func (r ProbeResult) Detected() bool { return r.Variant != nil }

// Summary is a human-readable probe report for CLI output and the web UI.
func (r ProbeResult) Summary() string {
	var b strings.Builder
	if !r.Detected() {
		fmt.Fprintf(&b, "no panel recognized: %s", r.Reason)
		if len(r.Metadata.Raw) > 0 {
			fmt.Fprintf(&b, " (raw: % x)", r.Metadata.Raw)
		}
		return b.String()
	}
	v := r.Variant
	fmt.Fprintf(&b, "%s: %dx%d, %d-colour palette", v.Name, v.Width, v.Height, len(v.Palette))
	if v.Experimental {
		b.WriteString(" [initial support, untested]")
	}
	fmt.Fprintf(&b, "\neeprom: %s\nraw: % x", r.Metadata, r.Metadata.Raw)
	return b.String()
}

// MetadataReader is the single bus capability detection needs. Detection is
// read-only by construction: it cannot reach reset or command primitives.
type MetadataReader interface {
	ReadEEPROM(p []byte) error
}

// Detect reads and validates the EEPROM identification block and resolves it
// against the registry. It never fabricates a default variant: a silent
// misconfiguration would corrupt every downstream pack operation.
func Detect(r MetadataReader) ProbeResult {
	buf := make([]byte, MetadataLen)
	if err := r.ReadEEPROM(buf); err != nil {
		return ProbeResult{Reason: fmt.Sprintf("%s: %v", ReasonReadFailed, err)}
	}

	if blank(buf) {
		return ProbeResult{Reason: ReasonNoMetadata, Metadata: Metadata{Raw: buf}}
	}

	md, err := parseMetadata(buf)
	if err != nil {
		return ProbeResult{
			Reason:   fmt.Sprintf("%s: %v", ReasonInvalid, err),
			Metadata: Metadata{Raw: buf},
		}
	}

	v := ByDisplayVariant(md.DisplayVariant, int(md.Width), int(md.Height))
	if v == nil {
		return ProbeResult{
			Reason:   fmt.Sprintf("%s %d (%s)", ReasonUnknownVariant, md.DisplayVariant, md.VariantName()),
			Metadata: md,
		}
	}

	return ProbeResult{Variant: v, Metadata: md}
}

func parseMetadata(data []byte) (Metadata, error) {
	md := Metadata{
		Width:          binary.LittleEndian.Uint16(data[0:]),
		Height:         binary.LittleEndian.Uint16(data[2:]),
		ColorCode:      data[4],
		PCBVariant:     data[5],
		DisplayVariant: data[6],
		Raw:            data,
	}

	if md.Width == 0 || md.Height == 0 || md.Width == 0xFFFF || md.Height == 0xFFFF {
		return Metadata{}, fmt.Errorf("width/height out of range (%dx%d)", md.Width, md.Height)
	}
	if md.DisplayVariant == 0xFF {
		return Metadata{}, fmt.Errorf("display variant invalid (255)")
	}
	return md, nil
}

// blank reports whether the block looks like an absent or erased EEPROM.
func blank(data []byte) bool {
	for _, b := range data {
		if b != 0x00 && b != 0xFF {
			return false
		}
	}
	return true
}
