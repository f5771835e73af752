package epd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"paperwave/internal/convert"
	"paperwave/internal/panel"
)

type event struct {
	kind  string // "reset", "cmd", "data"
	level bool
	sel   panel.ChipSelect
	op    byte
	data  []byte
}

// fakeTransport records every bus interaction and plays back a scripted
// busy line.
type fakeTransport struct {
	events []event

	busyLevel bool // constant ReadBusy return
	busyErr   error

	failCmd byte // WriteCommand for this opcode fails, 0 = never
}

func (f *fakeTransport) SetReset(level bool) error {
	f.events = append(f.events, event{kind: "reset", level: level})
	return nil
}

func (f *fakeTransport) WriteCommand(sel panel.ChipSelect, op byte) error {
	if f.failCmd != 0 && op == f.failCmd {
		return errors.New("spi: transfer failed")
	}
	f.events = append(f.events, event{kind: "cmd", sel: sel, op: op})
	return nil
}

func (f *fakeTransport) WriteData(sel panel.ChipSelect, data []byte) error {
	f.events = append(f.events, event{kind: "data", sel: sel, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeTransport) ReadBusy() (bool, error) {
	return f.busyLevel, f.busyErr
}

func (f *fakeTransport) ReadEEPROM(p []byte) error { return nil }
func (f *fakeTransport) Close() error              { return nil }

// testVariant is a tiny single-chip descriptor with near-zero waits so
// transcripts stay readable and tests stay fast.
func testVariant() *panel.Variant {
	return &panel.Variant{
		Name:       "test 4x2",
		Controller: panel.UC8159,
		Width:      4,
		Height:     2,
		Palette: panel.Palette{
			{Name: "black", Code: 0},
			{Name: "white", R: 255, G: 255, B: 255, Code: 1},
		},
		DataOp:   0x10,
		DataSels: []panel.ChipSelect{panel.CS0},
		Init: func(border uint8) []panel.Command {
			return []panel.Command{
				{Sel: panel.CS0, Op: 0x61, Data: []byte{0x00, 0x04, 0x00, 0x02}},
				{Sel: panel.CS0, Op: 0x50, Data: []byte{(border & 0x07) << 5}},
			}
		},
		PowerOn:       panel.Phase{Sel: panel.CS0, Op: 0x04, Wait: time.Millisecond},
		Refresh:       panel.Phase{Sel: panel.CS0, Op: 0x12, Wait: 50 * time.Millisecond, Strict: true},
		PowerOff:      panel.Phase{Sel: panel.CS0, Op: 0x02, Wait: time.Millisecond},
		BusyIdleHigh:  true,
		ResetHold:     time.Millisecond,
		ResetSettle:   time.Millisecond,
		PostResetWait: time.Millisecond,
	}
}

func testFrame(v *panel.Variant) *convert.FrameBuffer {
	planes := make([][]byte, v.Planes())
	for i := range planes {
		planes[i] = make([]byte, v.PlaneSize())
	}
	return &convert.FrameBuffer{Variant: v, Planes: planes}
}

func transcriptOpts() []cmp.Option {
	return []cmp.Option{cmpopts.EquateEmpty(), cmp.AllowUnexported(event{})}
}

func TestDriveTranscript(t *testing.T) {
	v := testVariant()
	ft := &fakeTransport{busyLevel: true} // idle
	fb := testFrame(v)
	fb.Planes[0] = []byte{0x01, 0x10, 0x01, 0x10}

	d := NewDriver(ft, v, 1)
	if err := d.Drive(context.Background(), fb); err != nil {
		t.Fatalf("Drive() failed: %v", err)
	}
	if got := d.State(); got != StateComplete {
		t.Errorf("State() = %v, want %v", got, StateComplete)
	}

	want := []event{
		{kind: "reset", level: false},
		{kind: "reset", level: true},
		{kind: "cmd", sel: panel.CS0, op: 0x61},
		{kind: "data", sel: panel.CS0, data: []byte{0x00, 0x04, 0x00, 0x02}},
		{kind: "cmd", sel: panel.CS0, op: 0x50},
		{kind: "data", sel: panel.CS0, data: []byte{0x20}},
		{kind: "cmd", sel: panel.CS0, op: 0x10},
		{kind: "data", sel: panel.CS0, data: []byte{0x01, 0x10, 0x01, 0x10}},
		{kind: "cmd", sel: panel.CS0, op: 0x04},
		{kind: "cmd", sel: panel.CS0, op: 0x12},
		{kind: "cmd", sel: panel.CS0, op: 0x02},
	}
	if diff := cmp.Diff(ft.events, want, transcriptOpts()...); diff != "" {
		t.Errorf("Drive() transcript difference (-got +want):\n%s", diff)
	}
}

func TestDriveDualChipTranscript(t *testing.T) {
	v := testVariant()
	v.Name = "test dual"
	v.Controller = panel.EL133UF1
	v.DataSels = []panel.ChipSelect{panel.CS0, panel.CS1}
	v.Init = func(uint8) []panel.Command {
		return []panel.Command{{Sel: panel.CSBoth, Op: 0x00, Data: []byte{0xDF}}}
	}
	v.Refresh = panel.Phase{Sel: panel.CSBoth, Op: 0x12, Data: []byte{0x00}, Wait: 50 * time.Millisecond, Strict: true}
	v.BusyIdleHigh = false

	ft := &fakeTransport{busyLevel: false} // idle is low for this family
	fb := testFrame(v)
	fb.Planes[0] = []byte{0xAA, 0xAA}
	fb.Planes[1] = []byte{0x55, 0x55}

	if err := NewDriver(ft, v, 0).Drive(context.Background(), fb); err != nil {
		t.Fatalf("Drive() failed: %v", err)
	}

	want := []event{
		{kind: "reset", level: false},
		{kind: "reset", level: true},
		{kind: "cmd", sel: panel.CSBoth, op: 0x00},
		{kind: "data", sel: panel.CSBoth, data: []byte{0xDF}},
		{kind: "cmd", sel: panel.CS0, op: 0x10},
		{kind: "data", sel: panel.CS0, data: []byte{0xAA, 0xAA}},
		{kind: "cmd", sel: panel.CS1, op: 0x10},
		{kind: "data", sel: panel.CS1, data: []byte{0x55, 0x55}},
		{kind: "cmd", sel: panel.CS0, op: 0x04},
		{kind: "cmd", sel: panel.CSBoth, op: 0x12},
		{kind: "data", sel: panel.CSBoth, data: []byte{0x00}},
		{kind: "cmd", sel: panel.CS0, op: 0x02},
	}
	if diff := cmp.Diff(ft.events, want, transcriptOpts()...); diff != "" {
		t.Errorf("Drive() transcript difference (-got +want):\n%s", diff)
	}
}

func TestDriveBusFaultDuringInitStopsBeforeData(t *testing.T) {
	v := testVariant()
	ft := &fakeTransport{busyLevel: true, failCmd: 0x50}

	err := NewDriver(ft, v, 0).Drive(context.Background(), testFrame(v))
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("Drive() error = %v, want *Error", err)
	}
	if de.Kind != ErrKindBusFault {
		t.Errorf("Kind = %v, want %v", de.Kind, ErrKindBusFault)
	}
	for _, ev := range ft.events {
		if ev.kind == "cmd" && ev.op == v.DataOp {
			t.Error("pixel data was sent after an init fault")
		}
	}
}

func TestDriveStrictBusyTimeout(t *testing.T) {
	v := testVariant()
	v.Refresh.Wait = 30 * time.Millisecond
	// Busy line stuck at the active level; tolerant phases (short waits)
	// carry on, the strict refresh phase must report a timeout.
	ft := &fakeTransport{busyLevel: false}

	err := NewDriver(ft, v, 0).Drive(context.Background(), testFrame(v))
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("Drive() error = %v, want *Error", err)
	}
	if de.Kind != ErrKindTimeout {
		t.Errorf("Kind = %v, want %v", de.Kind, ErrKindTimeout)
	}
	if de.State != StateAwaitingBusyClear {
		t.Errorf("State = %v, want %v", de.State, StateAwaitingBusyClear)
	}
}

func TestDriveBusyReadFaultIsBusFault(t *testing.T) {
	v := testVariant()
	ft := &fakeTransport{busyLevel: false, busyErr: errors.New("gpio: read failed")}

	err := NewDriver(ft, v, 0).Drive(context.Background(), testFrame(v))
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("Drive() error = %v, want *Error", err)
	}
	if de.Kind != ErrKindBusFault {
		t.Errorf("Kind = %v, want %v", de.Kind, ErrKindBusFault)
	}
}

func TestDriveSingleUse(t *testing.T) {
	v := testVariant()
	ft := &fakeTransport{busyLevel: true}
	d := NewDriver(ft, v, 0)

	if err := d.Drive(context.Background(), testFrame(v)); err != nil {
		t.Fatalf("first Drive() failed: %v", err)
	}
	err := d.Drive(context.Background(), testFrame(v))
	var de *Error
	if !errors.As(err, &de) || de.Kind != ErrKindInvalid {
		t.Errorf("second Drive() = %v, want invalid-use error", err)
	}
}

func TestDriveRejectsWrongFrame(t *testing.T) {
	v := testVariant()
	ft := &fakeTransport{busyLevel: true}

	fb := testFrame(v)
	fb.Planes[0] = fb.Planes[0][:1] // wrong plane size

	err := NewDriver(ft, v, 0).Drive(context.Background(), fb)
	var de *Error
	if !errors.As(err, &de) || de.Kind != ErrKindInvalid {
		t.Fatalf("Drive() = %v, want invalid-frame error", err)
	}
	if len(ft.events) != 0 {
		t.Errorf("hardware was touched before frame validation: %v", ft.events)
	}
}

func TestDriveHonorsCancelBeforeReset(t *testing.T) {
	v := testVariant()
	ft := &fakeTransport{busyLevel: true}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewDriver(ft, v, 0).Drive(ctx, testFrame(v))
	if err == nil {
		t.Fatal("Drive() succeeded with canceled context")
	}
	if len(ft.events) != 0 {
		t.Errorf("hardware was touched after cancellation: %v", ft.events)
	}
}
