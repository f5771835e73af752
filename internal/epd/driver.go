package epd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paperwave/internal/convert"
	"paperwave/internal/log"
	"paperwave/internal/panel"
)

// State tracks where a Driver is in the update sequence. It exists mostly
// for error reporting: a timeout during DRF and a bus fault during init are
// very different failures and the State pins down which phase died.
type State int

const (
	StateIdle State = iota
	StateResetting
	StateInitializing
	StateTransferringCommand
	StateTransferringData
	StateAwaitingBusyClear
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResetting:
		return "resetting"
	case StateInitializing:
		return "initializing"
	case StateTransferringCommand:
		return "transferring-command"
	case StateTransferringData:
		return "transferring-data"
	case StateAwaitingBusyClear:
		return "awaiting-busy-clear"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrKind classifies driver failures coarsely enough for callers to decide
// whether a retry could help.
type ErrKind int

const (
	// ErrKindBusFault covers SPI or GPIO level failures. The bus or wiring
	// is suspect and retrying without intervention rarely helps.
	ErrKindBusFault ErrKind = iota
	// ErrKindTimeout means the panel held its busy line past the deadline.
	ErrKindTimeout
	// ErrKindInvalid covers bad arguments: wrong frame, reused driver.
	ErrKindInvalid
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindBusFault:
		return "bus fault"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("errkind(%d)", int(k))
	}
}

// Error is the failure type returned by Drive. It records the phase the
// sequence was in when it failed.
type Error struct {
	Kind  ErrKind
	State State
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("epd: %s during %s: %v", e.Kind, e.State, e.Err)
	}
	return fmt.Sprintf("epd: %s during %s", e.Kind, e.State)
}

func (e *Error) Unwrap() error { return e.Err }

const busyPollInterval = 10 * time.Millisecond

var errBusyTimeout = errors.New("busy did not clear")

// Driver executes one full panel update. It is single use: construct, call
// Drive once, discard. The transport stays open and can back any number of
// successive drivers.
type Driver struct {
	t      Transport
	v      *panel.Variant
	border uint8
	state  State
	used   bool
}

func NewDriver(t Transport, v *panel.Variant, border uint8) *Driver {
	return &Driver{t: t, v: v, border: border, state: StateIdle}
}

// State reports the phase the last (or current) Drive call reached.
func (d *Driver) State() State { return d.state }

// Drive pushes fb to the panel and runs the refresh. The context is honored
// only up to the hardware reset: once the panel's update waveform starts,
// interrupting it would leave the pigment in an indeterminate state, so the
// sequence runs to completion regardless of cancellation.
func (d *Driver) Drive(ctx context.Context, fb *convert.FrameBuffer) error {
	if d.used {
		return d.fail(ErrKindInvalid, fmt.Errorf("driver already used"))
	}
	d.used = true

	if err := d.checkFrame(fb); err != nil {
		return d.fail(ErrKindInvalid, err)
	}
	if err := ctx.Err(); err != nil {
		return d.fail(ErrKindInvalid, err)
	}

	if err := d.reset(); err != nil {
		return err
	}
	if err := d.initialize(); err != nil {
		return err
	}
	if err := d.transferFrame(fb); err != nil {
		return err
	}

	if err := d.runPhase("power-on", d.v.PowerOn); err != nil {
		return err
	}
	if err := d.runPhase("refresh", d.v.Refresh); err != nil {
		return err
	}
	if err := d.runPhase("power-off", d.v.PowerOff); err != nil {
		return err
	}

	d.state = StateComplete
	log.Debug("panel update complete", "variant", d.v.Name)
	return nil
}

func (d *Driver) checkFrame(fb *convert.FrameBuffer) error {
	if fb == nil {
		return fmt.Errorf("nil frame")
	}
	if fb.Variant.Name != d.v.Name {
		return fmt.Errorf("frame packed for %q, driver is %q", fb.Variant.Name, d.v.Name)
	}
	if len(fb.Planes) != d.v.Planes() {
		return fmt.Errorf("frame has %d planes, want %d", len(fb.Planes), d.v.Planes())
	}
	for i, p := range fb.Planes {
		if len(p) != d.v.PlaneSize() {
			return fmt.Errorf("plane %d is %d bytes, want %d", i, len(p), d.v.PlaneSize())
		}
	}
	return nil
}

// reset pulses the reset line and waits out the panel's wake-up. The busy
// poll here is tolerant: some panels never toggle busy after reset and the
// timing numbers alone are enough.
func (d *Driver) reset() error {
	d.state = StateResetting
	if err := d.t.SetReset(false); err != nil {
		return d.fail(ErrKindBusFault, err)
	}
	time.Sleep(d.v.ResetHold)
	if err := d.t.SetReset(true); err != nil {
		return d.fail(ErrKindBusFault, err)
	}
	time.Sleep(d.v.ResetSettle)
	d.busyWaitTolerant(d.v.PostResetWait)
	return nil
}

func (d *Driver) initialize() error {
	d.state = StateInitializing
	for _, cmd := range d.v.Init(d.border) {
		if err := d.writeCommand(cmd.Sel, cmd.Op, cmd.Data); err != nil {
			return err
		}
	}
	return nil
}

// transferFrame writes each pixel plane to its chip. UC8159 has a single
// plane on the sole chip select; EL133UF1 sends one half-frame per CS.
func (d *Driver) transferFrame(fb *convert.FrameBuffer) error {
	for i, plane := range fb.Planes {
		sel := d.v.DataSels[i]
		d.state = StateTransferringCommand
		if err := d.t.WriteCommand(sel, d.v.DataOp); err != nil {
			return d.fail(ErrKindBusFault, err)
		}
		d.state = StateTransferringData
		if err := d.t.WriteData(sel, plane); err != nil {
			return d.fail(ErrKindBusFault, err)
		}
	}
	return nil
}

// runPhase issues a phase command and waits for busy to clear. Strict
// phases (the refresh itself) fail on deadline; tolerant phases treat a
// stuck busy line as "done waiting" because the panel is known to be slow
// to report around power transitions.
func (d *Driver) runPhase(name string, p panel.Phase) error {
	if err := d.writeCommand(p.Sel, p.Op, p.Data); err != nil {
		return err
	}
	d.state = StateAwaitingBusyClear
	if p.Strict {
		if err := d.busyWait(p.Wait); err != nil {
			kind := ErrKindTimeout
			if !errors.Is(err, errBusyTimeout) {
				kind = ErrKindBusFault
			}
			return d.fail(kind, fmt.Errorf("%s: %w", name, err))
		}
		return nil
	}
	d.busyWaitTolerant(p.Wait)
	return nil
}

func (d *Driver) writeCommand(sel panel.ChipSelect, op uint8, data []byte) error {
	d.state = StateTransferringCommand
	if err := d.t.WriteCommand(sel, op); err != nil {
		return d.fail(ErrKindBusFault, err)
	}
	if len(data) > 0 {
		d.state = StateTransferringData
		if err := d.t.WriteData(sel, data); err != nil {
			return d.fail(ErrKindBusFault, err)
		}
	}
	return nil
}

// busyWait polls until the busy line returns to its idle level or the
// deadline passes.
func (d *Driver) busyWait(deadline time.Duration) error {
	end := time.Now().Add(deadline)
	for {
		level, err := d.t.ReadBusy()
		if err != nil {
			return err
		}
		if level == d.v.BusyIdleHigh {
			return nil
		}
		if time.Now().After(end) {
			return fmt.Errorf("%w after %s", errBusyTimeout, deadline)
		}
		time.Sleep(busyPollInterval)
	}
}

func (d *Driver) busyWaitTolerant(deadline time.Duration) {
	if err := d.busyWait(deadline); err != nil {
		log.Debug("busy wait elapsed, continuing", "variant", d.v.Name, "wait", deadline.String())
	}
}

func (d *Driver) fail(kind ErrKind, err error) error {
	e := &Error{Kind: kind, State: d.state, Err: err}
	d.state = StateError
	return e
}
