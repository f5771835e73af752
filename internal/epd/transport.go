// Package epd implements the hardware side of paperwave: the line-level bus
// transport (SPI + GPIO + I2C via periph.io) and the single-use protocol
// driver that pushes one frame to the panel.
package epd

import (
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"paperwave/internal/panel"
)

// eepromAddr is the I2C address of the identification EEPROM on all
// supported boards.
const eepromAddr = 0x50

// defaultChunkSize bounds a single SPI write when the port does not report
// its own transfer limit.
const defaultChunkSize = 4096

// Transport is the narrow capability set the driver and detector consume:
// reset line control, command/data writes, busy line reads, and the EEPROM
// byte read used for detection. Everything above this interface is free of
// periph.io types, which is what makes the driver testable against a
// recording fake.
type Transport interface {
	// SetReset drives the reset line; true releases it, false asserts it.
	SetReset(level bool) error
	// WriteCommand writes a single opcode with DC low to the selected chip(s).
	WriteCommand(sel panel.ChipSelect, op byte) error
	// WriteData streams payload bytes with DC high to the selected chip(s).
	WriteData(sel panel.ChipSelect, data []byte) error
	// ReadBusy returns the raw busy line level (true = high).
	ReadBusy() (bool, error)
	// ReadEEPROM fills p from the identification EEPROM starting at offset 0.
	ReadEEPROM(p []byte) error
	Close() error
}

// Config selects the bus endpoints and pins for a periph-backed Transport.
// Zero-value string fields fall back to the platform default device; pin
// names resolve via periph's gpioreg ("GPIO8", "8", ...).
type Config struct {
	SPIPort  string
	I2CBus   string
	SPISpeed physic.Frequency

	CS0Pin   string
	CS1Pin   string // empty on single-chip families
	DCPin    string
	ResetPin string
	BusyPin  string
}

// DefaultConfig returns the conventional Raspberry Pi wiring for a
// controller family.
func DefaultConfig(c panel.Controller) Config {
	switch c {
	case panel.EL133UF1:
		return Config{
			SPISpeed: 10 * physic.MegaHertz,
			CS0Pin:   "GPIO26",
			CS1Pin:   "GPIO16",
			DCPin:    "GPIO22",
			ResetPin: "GPIO27",
			BusyPin:  "GPIO17",
		}
	default:
		return Config{
			SPISpeed: 3 * physic.MegaHertz,
			CS0Pin:   "GPIO8",
			DCPin:    "GPIO22",
			ResetPin: "GPIO27",
			BusyPin:  "GPIO17",
		}
	}
}

// Dev is the periph.io-backed Transport for real hardware.
type Dev struct {
	spiPort   spi.PortCloser
	spiConn   spi.Conn
	i2cBus    i2c.BusCloser
	chunkSize int

	cs0   gpio.PinOut
	cs1   gpio.PinOut // nil on single-chip families
	dc    gpio.PinOut
	reset gpio.PinOut
	busy  gpio.PinIn
}

var _ Transport = (*Dev)(nil)

// Open initializes the periph host, opens the SPI and I2C endpoints and
// claims all GPIO lines named in cfg.
func Open(cfg Config) (*Dev, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph host init failed: %w", err)
	}

	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("epd: failed to open SPI port %q: %w", cfg.SPIPort, err)
	}
	speed := cfg.SPISpeed
	if speed == 0 {
		speed = 3 * physic.MegaHertz
	}
	// CS is driven manually below, NoCS keeps the kernel driver's CS0 out
	// of the way.
	c, err := port.Connect(speed, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("epd: failed to connect SPI: %w", err)
	}

	chunk := defaultChunkSize
	if limits, ok := c.(conn.Limits); ok && limits.MaxTxSize() > 0 {
		chunk = limits.MaxTxSize()
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("epd: failed to open I2C bus %q: %w", cfg.I2CBus, err)
	}

	d := &Dev{spiPort: port, spiConn: c, i2cBus: bus, chunkSize: chunk}

	pinOut := func(name string, initial gpio.Level) (gpio.PinOut, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("epd: gpio %q not found", name)
		}
		if err := p.Out(initial); err != nil {
			return nil, fmt.Errorf("epd: gpio %q Out failed: %w", name, err)
		}
		return p, nil
	}

	claim := func() error {
		if d.cs0, err = pinOut(cfg.CS0Pin, gpio.High); err != nil {
			return err
		}
		if cfg.CS1Pin != "" {
			if d.cs1, err = pinOut(cfg.CS1Pin, gpio.High); err != nil {
				return err
			}
		}
		if d.dc, err = pinOut(cfg.DCPin, gpio.Low); err != nil {
			return err
		}
		if d.reset, err = pinOut(cfg.ResetPin, gpio.High); err != nil {
			return err
		}
		p := gpioreg.ByName(cfg.BusyPin)
		if p == nil {
			return fmt.Errorf("epd: gpio %q not found", cfg.BusyPin)
		}
		if err := p.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return fmt.Errorf("epd: gpio %q In failed: %w", cfg.BusyPin, err)
		}
		d.busy = p
		return nil
	}
	if err := claim(); err != nil {
		_ = d.Close()
		return nil, err
	}

	return d, nil
}

func (d *Dev) SetReset(level bool) error {
	if err := d.reset.Out(gpio.Level(level)); err != nil {
		return fmt.Errorf("epd: reset line write failed: %w", err)
	}
	return nil
}

func (d *Dev) WriteCommand(sel panel.ChipSelect, op byte) error {
	return d.write(sel, gpio.Low, []byte{op})
}

func (d *Dev) WriteData(sel panel.ChipSelect, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return d.write(sel, gpio.High, data)
}

// write asserts the selected chip select lines around a DC-qualified SPI
// transfer, chunked to the port's limit.
func (d *Dev) write(sel panel.ChipSelect, dc gpio.Level, payload []byte) error {
	if err := d.dc.Out(dc); err != nil {
		return fmt.Errorf("epd: dc line write failed: %w", err)
	}
	if err := d.setSelect(sel, gpio.Low); err != nil {
		return err
	}

	var txErr error
	for off := 0; off < len(payload); off += d.chunkSize {
		end := off + d.chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		if txErr = d.spiConn.Tx(payload[off:end], nil); txErr != nil {
			break
		}
	}

	// Deassert even on failure so the bus is left in a sane state.
	if err := d.setSelect(sel, gpio.High); err != nil && txErr == nil {
		txErr = err
	}
	if txErr != nil {
		return fmt.Errorf("epd: spi write failed: %w", txErr)
	}
	return nil
}

func (d *Dev) setSelect(sel panel.ChipSelect, level gpio.Level) error {
	if sel&panel.CS0 != 0 {
		if err := d.cs0.Out(level); err != nil {
			return fmt.Errorf("epd: cs0 line write failed: %w", err)
		}
	}
	if sel&panel.CS1 != 0 {
		if d.cs1 == nil {
			return fmt.Errorf("epd: cs1 selected but not configured")
		}
		if err := d.cs1.Out(level); err != nil {
			return fmt.Errorf("epd: cs1 line write failed: %w", err)
		}
	}
	return nil
}

func (d *Dev) ReadBusy() (bool, error) {
	return d.busy.Read() == gpio.High, nil
}

// ReadEEPROM issues the SMBus-style two-byte register select then reads the
// identification block.
func (d *Dev) ReadEEPROM(p []byte) error {
	if err := d.i2cBus.Tx(eepromAddr, []byte{0x00, 0x00}, p); err != nil {
		return fmt.Errorf("epd: eeprom read failed: %w", err)
	}
	return nil
}

func (d *Dev) Close() error {
	var first error
	if d.i2cBus != nil {
		if err := d.i2cBus.Close(); err != nil {
			first = err
		}
	}
	if d.spiPort != nil {
		if err := d.spiPort.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Detector is a minimal I2C-only Transport slice used for the startup probe,
// before the SPI/GPIO wiring for the detected family is known.
type Detector struct {
	bus i2c.BusCloser
}

// OpenDetector opens just the I2C bus carrying the identification EEPROM.
func OpenDetector(busName string) (*Detector, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph host init failed: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("epd: failed to open I2C bus %q: %w", busName, err)
	}
	return &Detector{bus: bus}, nil
}

func (d *Detector) ReadEEPROM(p []byte) error {
	if err := d.bus.Tx(eepromAddr, []byte{0x00, 0x00}, p); err != nil {
		return fmt.Errorf("epd: eeprom read failed: %w", err)
	}
	return nil
}

func (d *Detector) Close() error { return d.bus.Close() }
