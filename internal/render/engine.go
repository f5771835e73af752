// Package render ties detection, image conversion and the panel driver
// into single update operations. At most one update runs at a time; a
// second request while the panel is mid-refresh is rejected rather than
// queued, since a queued frame would be stale by the time a 30 second
// refresh finishes.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"paperwave/internal/convert"
	"paperwave/internal/epd"
	"paperwave/internal/log"
	"paperwave/internal/panel"
)

// ErrBusy is returned when an update is already in flight.
var ErrBusy = errors.New("render: update already in progress")

// Kind classifies update failures for the web layer's status mapping.
type Kind int

const (
	// KindDetect means no usable panel was found on the bus.
	KindDetect Kind = iota
	// KindInput means the request itself was unusable.
	KindInput
	// KindHardware means the drive sequence failed on the wire.
	KindHardware
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure class, defaulting to hardware.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindHardware
}

// Request describes one panel update. A nil Source renders the built-in
// stripe test card instead of an uploaded image.
type Request struct {
	Source     *convert.Raster
	Rotation   convert.Rotation
	Saturation float64
	Lighten    float64
}

// Result reports what an update did.
type Result struct {
	ID      string
	Variant string
	Width   int
	Height  int
	Elapsed time.Duration
}

// Engine owns the transport and serializes updates over it.
type Engine struct {
	t      epd.Transport
	border uint8

	mu sync.Mutex // held for the duration of an update

	lastMu sync.Mutex
	last   *Request
}

func New(t epd.Transport, border uint8) *Engine {
	return &Engine{t: t, border: border}
}

// Busy reports whether an update is currently running.
func (e *Engine) Busy() bool {
	if e.mu.TryLock() {
		e.mu.Unlock()
		return false
	}
	return true
}

// Probe re-reads the EEPROM and returns the current detection result. It
// does not touch the panel itself and is safe during an update.
func (e *Engine) Probe() panel.ProbeResult {
	return panel.Detect(e.t)
}

// Update runs one full render. It re-detects the panel per call so a
// swapped panel is picked up without a restart.
func (e *Engine) Update(ctx context.Context, req Request) (*Result, error) {
	if !e.mu.TryLock() {
		return nil, ErrBusy
	}
	defer e.mu.Unlock()

	id := uuid.NewString()
	start := time.Now()

	// Out-of-range saturation and lighten are clamped rather than rejected;
	// strict validation belongs to the callers that parse operator input.
	if req.Saturation < 0 {
		req.Saturation = 0
	}
	if req.Saturation > 1 {
		req.Saturation = 1
	}
	if req.Lighten < 0 {
		req.Lighten = 0
	}
	if req.Lighten > 1 {
		req.Lighten = 1
	}

	probe := panel.Detect(e.t)
	if !probe.Detected() {
		return nil, &Error{Kind: KindDetect, Err: fmt.Errorf("render: %s", probe.Summary())}
	}
	v := probe.Variant
	if v.Experimental {
		log.Info("driving experimental panel, colors may be off", "update", id, "variant", v.Name)
	}
	log.Info("update started", "update", id, "variant", v.Name,
		"width", v.Width, "height", v.Height, "saturation", req.Saturation,
		"lighten", req.Lighten, "rotation", req.Rotation.Degrees())

	src := req.Source
	if src == nil {
		src = convert.StripePattern(v)
	} else {
		// Fit to the pre-rotation dimensions so the rotated result
		// lands exactly on the native resolution.
		tw, th := req.Rotation.TargetDimensions(v.Width, v.Height)
		src = convert.FitToResolution(src, tw, th, v.Palette.White())
		src = convert.Rotate(src, req.Rotation)
		src = convert.Lighten(src, req.Lighten)
	}

	q := convert.Dither(src, v.Palette, req.Saturation)
	fb, err := convert.Pack(q, v)
	if err != nil {
		return nil, &Error{Kind: KindInput, Err: err}
	}

	if err := epd.NewDriver(e.t, v, e.border).Drive(ctx, fb); err != nil {
		log.Error("panel drive failed", err, "update", id, "variant", v.Name)
		return nil, &Error{Kind: KindHardware, Err: err}
	}

	e.lastMu.Lock()
	e.last = &req
	e.lastMu.Unlock()

	res := &Result{
		ID:      id,
		Variant: v.Name,
		Width:   v.Width,
		Height:  v.Height,
		Elapsed: time.Since(start),
	}
	log.Info("update complete", "update", id, "variant", v.Name, "elapsed", res.Elapsed.String())
	return res, nil
}

// RefreshLast redraws the most recent frame. E-paper ghosts if left on the
// same image for long stretches, so the scheduler calls this periodically.
// A no-op when nothing has been rendered yet.
func (e *Engine) RefreshLast(ctx context.Context) (*Result, error) {
	e.lastMu.Lock()
	req := e.last
	e.lastMu.Unlock()
	if req == nil {
		return nil, nil
	}
	return e.Update(ctx, *req)
}
