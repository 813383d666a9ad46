package kms

import "errors"

var (
	// ErrPageFlipPending is returned by Present while the previous frame has
	// not been acknowledged by the kernel.
	ErrPageFlipPending = errors.New("page flip still pending")
	// ErrNotPresentable is returned for buffers without a framebuffer id.
	ErrNotPresentable = errors.New("buffer has no framebuffer")
	// ErrOutputDisabled is returned when presenting to an output that is off
	// or powering down.
	ErrOutputDisabled = errors.New("output is not on")
	// ErrSessionInactive is returned while the seat session is switched away.
	ErrSessionInactive = errors.New("session is inactive")
	// ErrNoPlanes means atomic mode was requested but no usable plane exists.
	ErrNoPlanes = errors.New("no usable planes")
	// ErrIdleTimeout means WaitIdle gave up without a completion event.
	ErrIdleTimeout = errors.New("timed out waiting for page flips")

	ErrModeNotFound     = errors.New("no matching mode")
	ErrGammaUnsupported = errors.New("gamma ramps need atomic mode and a GAMMA_LUT property")
	ErrNoDPMS           = errors.New("connector has no DPMS property")
	ErrNoOverscan       = errors.New("connector has no overscan property")
	ErrCursorTooLarge   = errors.New("cursor image exceeds hardware cursor size")
)
