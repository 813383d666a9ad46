package kms

import (
	"errors"
	"fmt"
	"time"

	"github.com/bnema/scanout/internal/drm"
	"github.com/bnema/scanout/internal/frameclock"
	"github.com/bnema/scanout/internal/logger"
)

// DPMSMode is the power state of an output.
type DPMSMode int

const (
	DPMSOn DPMSMode = iota
	DPMSStandby
	DPMSSuspend
	DPMSOff
)

func (m DPMSMode) String() string {
	switch m {
	case DPMSOn:
		return "on"
	case DPMSStandby:
		return "standby"
	case DPMSSuspend:
		return "suspend"
	case DPMSOff:
		return "off"
	}
	return fmt.Sprintf("DPMSMode(%d)", int(m))
}

// ParseDPMSMode accepts the names printed by DPMSMode.String.
func ParseDPMSMode(s string) (DPMSMode, error) {
	for m := DPMSOn; m <= DPMSOff; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return DPMSOn, fmt.Errorf("unknown power mode %q", s)
}

func (m DPMSMode) drmValue() uint64 {
	switch m {
	case DPMSStandby:
		return drm.DPMSStandby
	case DPMSSuspend:
		return drm.DPMSSuspend
	case DPMSOff:
		return drm.DPMSOff
	}
	return drm.DPMSOn
}

// Transform is the orientation content is shown in.
type Transform int

const (
	TransformNormal Transform = iota
	TransformRotated90
	TransformRotated180
	TransformRotated270
	TransformFlipped
	TransformFlipped90
	TransformFlipped180
	TransformFlipped270
)

var transformNames = [...]string{"normal", "90", "180", "270", "flipped", "flipped-90", "flipped-180", "flipped-270"}

func (t Transform) String() string {
	if t < 0 || int(t) >= len(transformNames) {
		return fmt.Sprintf("Transform(%d)", int(t))
	}
	return transformNames[t]
}

// ParseTransform accepts the names printed by Transform.String.
func ParseTransform(s string) (Transform, error) {
	for i, name := range transformNames {
		if name == s {
			return Transform(i), nil
		}
	}
	return TransformNormal, fmt.Errorf("unknown transform %q", s)
}

func (t Transform) portrait() bool {
	switch t {
	case TransformRotated90, TransformRotated270, TransformFlipped90, TransformFlipped270:
		return true
	}
	return false
}

func (t Transform) planeTransformation() Transformation {
	var r Transformation
	switch t {
	case TransformNormal, TransformFlipped:
		r = Rotate0
	case TransformRotated90, TransformFlipped90:
		r = Rotate90
	case TransformRotated180, TransformFlipped180:
		r = Rotate180
	case TransformRotated270, TransformFlipped270:
		r = Rotate270
	}
	if t >= TransformFlipped {
		r |= ReflectX
	}
	return r
}

type workingState struct {
	valid     bool
	mode      Mode
	transform Transform
	plane     Transformation
}

// Output drives one connected display through its pipeline. All methods must
// be called from the goroutine that dispatches the GPU's events.
type Output struct {
	gpu        *GPU
	pipeline   *Pipeline
	token      uint64
	renderLoop *frameclock.RenderLoop

	enabled          bool
	dpms             DPMSMode
	dpmsPending      DPMSMode
	atomicOffPending bool
	pageFlipPending  bool
	deleted          bool
	finalized        bool
	inhibited        bool

	transform     Transform
	lastWorking   workingState
	lastTimestamp time.Duration

	cursors       [2]*DumbBuffer
	cursorIndex   int
	hasNewCursor  bool
	cursorVisible bool
	cursorX       int32
	cursorY       int32

	onScreen, pending Buffer

	released []func()
}

func newOutput(g *GPU, p *Pipeline) *Output {
	o := &Output{
		gpu:        g,
		pipeline:   p,
		renderLoop: frameclock.New(),
	}
	o.token = g.registerOutput(o)
	p.userData = o.token
	o.renderLoop.SetRefreshRate(p.Mode().RefreshRate())
	return o
}

// init blanks the output in its preferred mode. A failure means this
// connector/CRTC pair does not work.
func (o *Output) init() error {
	if o.gpu.atomic && o.pipeline.primary == nil {
		return fmt.Errorf("output %s: no primary plane", o.Name())
	}
	if err := o.pipeline.Blank(); err != nil {
		return fmt.Errorf("blank %s: %w", o.Name(), err)
	}
	o.enabled = true
	o.dpms, o.dpmsPending = DPMSOn, DPMSOn
	o.storeWorkingState()
	return nil
}

func (o *Output) initCursor(width, height uint32) error {
	for i := range o.cursors {
		b := NewDumbBuffer(o.gpu.dev, width, height, drm.FormatARGB8888)
		if !b.IsValid() {
			o.destroyCursors()
			return fmt.Errorf("allocate %dx%d cursor: %w", width, height, ErrNotPresentable)
		}
		o.cursors[i] = b
		if err := b.Map(); err != nil {
			o.destroyCursors()
			return err
		}
	}
	return nil
}

func (o *Output) destroyCursors() {
	for i, b := range o.cursors {
		if b == nil {
			continue
		}
		if err := b.Destroy(); err != nil {
			logger.Debug("destroying cursor buffer failed", "output", o.Name(), "err", err)
		}
		o.cursors[i] = nil
	}
}

func (o *Output) Name() string                       { return o.pipeline.connector.Name() }
func (o *Output) Token() uint64                      { return o.token }
func (o *Output) GPU() *GPU                          { return o.gpu }
func (o *Output) Connector() *Connector              { return o.pipeline.connector }
func (o *Output) Crtc() *Crtc                        { return o.pipeline.crtc }
func (o *Output) PrimaryPlane() *Plane               { return o.pipeline.primary }
func (o *Output) Pipeline() *Pipeline                { return o.pipeline }
func (o *Output) Mode() Mode                         { return o.pipeline.Mode() }
func (o *Output) Modes() []Mode                      { return o.pipeline.connector.Modes() }
func (o *Output) RefreshRate() uint32                { return o.pipeline.Mode().RefreshRate() }
func (o *Output) PhysicalSize() (uint32, uint32)     { return o.pipeline.connector.PhysicalSize() }
func (o *Output) IsInternal() bool                   { return o.pipeline.connector.IsInternal() }
func (o *Output) ModelName() string                  { return o.pipeline.connector.ModelName() }
func (o *Output) EDID() EDID                         { return o.pipeline.connector.EDID() }
func (o *Output) IsEnabled() bool                    { return o.enabled }
func (o *Output) DPMSMode() DPMSMode                 { return o.dpms }
func (o *Output) DPMSModePending() DPMSMode          { return o.dpmsPending }
func (o *Output) PageFlipPending() bool              { return o.pageFlipPending }
func (o *Output) RenderLoop() *frameclock.RenderLoop { return o.renderLoop }
func (o *Output) Transform() Transform               { return o.transform }
func (o *Output) GammaSize() uint32                  { return o.pipeline.crtc.GammaSize() }
func (o *Output) LastTimestamp() time.Duration       { return o.lastTimestamp }
func (o *Output) CursorSize() (width, height uint32) { return o.gpu.caps.CursorWidth, o.gpu.caps.CursorHeight }
func (o *Output) HasHardwareCursor() bool            { return o.cursors[0] != nil }
func (o *Output) Overscan() uint32                   { return o.pipeline.connector.Overscan() }
func (o *Output) IsDeleted() bool                    { return o.deleted }
func (o *Output) OnScreen() Buffer                   { return o.onScreen }
func (o *Output) CursorPosition() (x, y int32)       { return o.cursorX, o.cursorY }
func (o *Output) CursorVisible() bool                { return o.cursorVisible }
func (o *Output) PresentationClock() ClockID         { return o.gpu.caps.PresentationClock }
func (o *Output) AtomicModeSetting() bool            { return o.gpu.atomic }

func (o *Output) String() string {
	return fmt.Sprintf("%s (%s)", o.Name(), o.pipeline.Mode())
}

// HardwareTransforms reports whether the primary plane applies the current
// transform itself.
func (o *Output) HardwareTransforms() bool {
	if o.pipeline.primary == nil {
		return o.transform == TransformNormal
	}
	return o.pipeline.primary.Transformation() == o.transform.planeTransformation()
}

func (o *Output) storeWorkingState() {
	o.lastWorking = workingState{
		valid:     true,
		mode:      o.pipeline.Mode(),
		transform: o.transform,
	}
	if p := o.pipeline.primary; p != nil {
		o.lastWorking.plane = p.Transformation()
	}
}

func (o *Output) restoreWorkingState() {
	lw := o.lastWorking
	if !lw.valid {
		return
	}
	logger.Warn("restoring last working state", "output", o.Name(), "mode", lw.mode.String(), "transform", lw.transform)
	o.pipeline.restoreMode(lw.mode)
	o.transform = lw.transform
	if p := o.pipeline.primary; p != nil && p.hasProp(propRotation) {
		p.setTransformation(lw.plane)
	}
	o.renderLoop.SetRefreshRate(lw.mode.RefreshRate())
	if o.cursorVisible {
		if err := o.showCursor(); err != nil {
			logger.Debug("re-showing cursor failed", "output", o.Name(), "err", err)
		}
	}
}

// Present queues buf for scanout at the next vblank. At most one frame is in
// flight; completion is reported through the render loop.
func (o *Output) Present(buf Buffer) error {
	switch {
	case buf == nil || !buf.IsValid():
		return ErrNotPresentable
	case o.deleted, !o.enabled, o.dpmsPending != DPMSOn:
		return ErrOutputDisabled
	case !o.gpu.sessionActive():
		return ErrSessionInactive
	case o.pageFlipPending:
		return ErrPageFlipPending
	}

	modeset := o.pipeline.ModesetPending()
	if err := o.pipeline.Present(buf); err != nil {
		if o.gpu.atomic && modeset {
			o.restoreWorkingState()
		}
		return fmt.Errorf("present on %s: %w", o.Name(), err)
	}
	if modeset {
		o.dpms = o.dpmsPending
		o.storeWorkingState()
		o.renderLoop.SetRefreshRate(o.RefreshRate())
	}
	o.pending = buf
	o.pageFlipPending = true
	return nil
}

func (o *Output) pageFlipped() {
	o.pageFlipPending = false
	if o.deleted {
		o.finalize()
		return
	}
	o.pipeline.pageFlipped()
	o.onScreen, o.pending = o.pending, nil
	if o.atomicOffPending {
		if err := o.dpmsAtomicOff(); err != nil {
			logger.Warn("powering off output failed", "output", o.Name(), "err", err)
		}
	}
}

// SetDPMSMode changes the power state. In atomic mode a power-down waits for
// the frame in flight; power-up takes effect with the next frame.
func (o *Output) SetDPMSMode(mode DPMSMode) error {
	if o.deleted || !o.enabled {
		return ErrOutputDisabled
	}
	if !o.gpu.atomic && !o.pipeline.connector.HasDPMS() {
		return ErrNoDPMS
	}
	if mode == o.dpmsPending {
		return nil
	}
	logger.Debug("setting power mode", "output", o.Name(), "mode", mode)
	o.dpmsPending = mode

	if !o.gpu.atomic {
		return o.dpmsLegacyApply()
	}
	if mode == DPMSOn {
		return o.atomicEnable()
	}
	return o.atomicDisable()
}

func (o *Output) atomicEnable() error {
	o.atomicOffPending = false
	if err := o.pipeline.SetEnablement(true); err != nil {
		o.dpmsPending = o.dpms
		return fmt.Errorf("enable %s: %w", o.Name(), err)
	}
	o.dpmsFinishOn()
	return nil
}

func (o *Output) atomicDisable() error {
	o.atomicOffPending = true
	if o.pageFlipPending {
		return nil
	}
	return o.dpmsAtomicOff()
}

func (o *Output) dpmsAtomicOff() error {
	o.atomicOffPending = false
	if err := o.pipeline.SetEnablement(false); err != nil {
		o.dpmsPending = o.dpms
		if o.dpms != DPMSOn {
			o.dpmsFinishOff()
		}
		return fmt.Errorf("disable %s: %w", o.Name(), err)
	}
	o.dpms = o.dpmsPending
	o.dpmsFinishOff()
	return nil
}

func (o *Output) dpmsLegacyApply() error {
	if err := o.pipeline.setLegacyDPMS(o.dpmsPending.drmValue()); err != nil {
		o.dpmsPending = o.dpms
		return err
	}
	o.dpms = o.dpmsPending
	if o.dpms == DPMSOn {
		o.pipeline.requestModeset()
		o.dpmsFinishOn()
	} else {
		o.dpmsFinishOff()
	}
	return nil
}

func (o *Output) dpmsFinishOn() {
	if o.inhibited {
		o.inhibited = false
		o.renderLoop.Uninhibit()
		return
	}
	o.renderLoop.ScheduleRepaint()
}

func (o *Output) dpmsFinishOff() {
	if !o.inhibited {
		o.inhibited = true
		o.renderLoop.Inhibit()
	}
}

// UpdateEnablement turns the output on or off as a user setting, as opposed
// to a transient power state.
func (o *Output) UpdateEnablement(enable bool) error {
	if o.deleted {
		return ErrOutputDisabled
	}
	if enable == o.enabled {
		return nil
	}
	prev := o.enabled
	o.enabled = true
	var err error
	if enable && !o.gpu.atomic && !o.pipeline.connector.HasDPMS() {
		o.pipeline.requestModeset()
		o.dpms, o.dpmsPending = DPMSOn, DPMSOn
		o.dpmsFinishOn()
	} else if enable {
		err = o.SetDPMSMode(DPMSOn)
	} else if o.gpu.atomic {
		o.dpmsPending = DPMSOff
		err = o.atomicDisable()
	} else if o.pipeline.connector.HasDPMS() {
		o.dpmsPending = DPMSOff
		err = o.dpmsLegacyApply()
	} else {
		err = o.pipeline.disableLegacy()
		if err == nil {
			o.dpms, o.dpmsPending = DPMSOff, DPMSOff
			o.dpmsFinishOff()
		}
	}
	if err != nil {
		o.enabled = prev
		return err
	}
	o.enabled = enable
	return nil
}

// SetMode switches to the connector mode with the given size and vertical
// refresh in Hz; refreshHz 0 matches any rate.
func (o *Output) SetMode(width, height int, refreshHz uint32) error {
	if o.deleted {
		return ErrOutputDisabled
	}
	for _, m := range o.pipeline.connector.Modes() {
		if m.Width() != width || m.Height() != height {
			continue
		}
		if refreshHz != 0 && m.Vrefresh != refreshHz {
			continue
		}
		return o.ApplyMode(m)
	}
	logger.Warn("requested mode not offered by connector", "output", o.Name(), "width", width, "height", height, "refresh", refreshHz)
	return ErrModeNotFound
}

// ApplyMode validates m and makes it current. The old mode stays in place
// when the hardware rejects it.
func (o *Output) ApplyMode(m Mode) error {
	if o.pipeline.Mode().Equal(m) {
		return nil
	}
	if err := o.pipeline.Modeset(m); err != nil {
		return fmt.Errorf("mode %s on %s: %w", m, o.Name(), err)
	}
	logger.Info("mode changed", "output", o.Name(), "mode", m.String())
	o.renderLoop.SetRefreshRate(m.RefreshRate())
	if !o.gpu.atomic {
		o.storeWorkingState()
	}
	o.renderLoop.ScheduleRepaint()
	return nil
}

// SetTransform selects the content orientation. Portrait orientations are
// never rotated by the plane; the renderer must rotate them.
func (o *Output) SetTransform(t Transform) error {
	if o.deleted {
		return ErrOutputDisabled
	}
	if p := o.pipeline.primary; p != nil {
		want := t.planeTransformation()
		if t.portrait() || p.SupportedTransformations()&want != want {
			want = Rotate0
		}
		if p.SupportedTransformations()&want == want {
			if err := o.pipeline.SetTransformation(want); err != nil {
				return err
			}
		}
	}
	o.transform = t
	o.pipeline.requestModeset()
	if o.cursorVisible {
		if err := o.showCursor(); err != nil {
			logger.Debug("re-showing cursor failed", "output", o.Name(), "err", err)
		}
	}
	o.renderLoop.ScheduleRepaint()
	return nil
}

// SetOverscan sets the connector's overscan percentage.
func (o *Output) SetOverscan(percent uint32) error {
	c := o.pipeline.connector
	if !c.HasOverscan() {
		return ErrNoOverscan
	}
	if percent > 100 {
		return fmt.Errorf("overscan %d%% out of range", percent)
	}
	if o.gpu.atomic {
		c.setValue(propOverscan, uint64(percent))
		o.pipeline.requestModeset()
		o.renderLoop.ScheduleRepaint()
		return nil
	}
	prop := c.prop(propOverscan)
	if err := o.gpu.dev.SetConnectorProperty(c.id, prop.id, uint64(percent)); err != nil {
		return fmt.Errorf("set overscan on %s: %w", o.Name(), err)
	}
	prop.value = uint64(percent)
	return nil
}

// SetGamma uploads a gamma ramp, one entry per GammaSize step.
func (o *Output) SetGamma(red, green, blue []uint16) error {
	if o.deleted {
		return ErrOutputDisabled
	}
	if size := o.GammaSize(); size != 0 && uint32(len(red)) != size {
		return fmt.Errorf("gamma ramp has %d entries, crtc expects %d", len(red), size)
	}
	if err := o.pipeline.SetGamma(red, green, blue); err != nil {
		return err
	}
	o.renderLoop.ScheduleRepaint()
	return nil
}

// UpdateCursor copies an ARGB8888 image into the cursor buffer that is not
// on screen. It becomes visible with the next ShowCursor.
func (o *Output) UpdateCursor(pixels []byte, width, height, stride int) error {
	if o.deleted {
		return ErrOutputDisabled
	}
	buf := o.cursors[o.cursorIndex]
	if buf == nil {
		return errors.New("no hardware cursor")
	}
	bw, bh := buf.Size()
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid cursor size %dx%d", width, height)
	}
	if width > int(bw) || height > int(bh) {
		return ErrCursorTooLarge
	}
	if len(pixels) < (height-1)*stride+width*4 {
		return fmt.Errorf("cursor image too short: %d bytes", len(pixels))
	}
	data, pitch := buf.Data(), int(buf.Pitch())
	clear(data)
	for y := 0; y < height; y++ {
		copy(data[y*pitch:y*pitch+width*4], pixels[y*stride:y*stride+width*4])
	}
	o.hasNewCursor = true
	return nil
}

func (o *Output) ShowCursor() error {
	if o.deleted {
		return ErrOutputDisabled
	}
	if !o.gpu.sessionActive() {
		return ErrSessionInactive
	}
	return o.showCursor()
}

func (o *Output) showCursor() error {
	buf := o.cursors[o.cursorIndex]
	if buf == nil {
		return errors.New("no hardware cursor")
	}
	if err := o.pipeline.SetCursor(buf); err != nil {
		return err
	}
	o.cursorVisible = true
	if o.hasNewCursor {
		o.cursorIndex = (o.cursorIndex + 1) % len(o.cursors)
		o.hasNewCursor = false
	}
	return nil
}

func (o *Output) HideCursor() error {
	if o.deleted {
		return ErrOutputDisabled
	}
	if err := o.pipeline.SetCursor(nil); err != nil {
		return err
	}
	o.cursorVisible = false
	return nil
}

func (o *Output) MoveCursor(x, y int32) error {
	if o.deleted {
		return ErrOutputDisabled
	}
	if err := o.pipeline.MoveCursor(x, y); err != nil {
		return err
	}
	o.cursorX, o.cursorY = x, y
	return nil
}

// normalizeTimestamp brings a kernel flip timestamp into the monotonic
// domain. A usable stamp is passed through as converted; the "now" fallback
// never goes behind the last stamp reported.
func (o *Output) normalizeTimestamp(ts time.Duration) time.Duration {
	read := o.gpu.clock()
	converted := ConvertTimestamp(read, o.gpu.caps.PresentationClock, ClockMonotonic, ts)
	if converted <= 0 {
		logger.Debug("unusable flip timestamp, using current time", "output", o.Name(), "timestamp", ts)
		converted = read(ClockMonotonic)
		if converted < o.lastTimestamp {
			converted = o.lastTimestamp
		}
	}
	o.lastTimestamp = converted
	return converted
}

// setPipeline moves the output onto a new pipeline after a reshuffle.
func (o *Output) setPipeline(p *Pipeline) {
	o.pipeline = p
	p.userData = o.token
	o.onScreen, o.pending = nil, nil
	if !o.enabled || o.dpmsPending != DPMSOn {
		p.mode.enabled = false
	} else if !o.gpu.atomic && p.connector.HasDPMS() {
		if err := p.setLegacyDPMS(drm.DPMSOn); err != nil {
			logger.Warn("could not power rebound output", "output", o.Name(), "err", err)
		}
	}
	if o.transform != TransformNormal {
		if err := o.SetTransform(o.transform); err != nil {
			logger.Debug("reapplying transform failed", "output", o.Name(), "err", err)
		}
	}
	if o.cursorVisible {
		if err := o.showCursor(); err != nil {
			logger.Debug("re-showing cursor failed", "output", o.Name(), "err", err)
		}
	}
	o.lastWorking.valid = false
	o.renderLoop.SetRefreshRate(p.Mode().RefreshRate())
	o.renderLoop.ScheduleRepaint()
}

func (o *Output) sessionChanged(active bool) {
	if o.deleted {
		return
	}
	if !active {
		o.renderLoop.Inhibit()
		return
	}
	o.pipeline.requestModeset()
	if o.cursorVisible {
		if err := o.showCursor(); err != nil {
			logger.Debug("re-showing cursor failed", "output", o.Name(), "err", err)
		}
	}
	o.renderLoop.Uninhibit()
}

// teardown disables the output. Resources go once the frame in flight, if
// any, has completed.
func (o *Output) teardown() {
	if o.deleted {
		return
	}
	o.deleted = true
	o.renderLoop.Inhibit()

	if o.cursorVisible {
		if err := o.pipeline.SetCursor(nil); err != nil {
			logger.Debug("hiding cursor failed", "output", o.Name(), "err", err)
		}
		o.cursorVisible = false
	}
	if o.gpu.sessionActive() {
		var err error
		if o.gpu.atomic {
			err = o.pipeline.SetEnablement(false)
		} else {
			err = o.pipeline.disableLegacy()
		}
		if err != nil {
			logger.Debug("disabling removed output failed", "output", o.Name(), "err", err)
		}
	}
	if !o.pageFlipPending {
		o.finalize()
	}
}

func (o *Output) finalize() {
	if o.finalized {
		return
	}
	o.finalized = true
	o.destroyCursors()
	o.pipeline.destroy()
	o.onScreen, o.pending = nil, nil
	o.gpu.finalizeOutput(o)
	logger.Debug("output released", "output", o.Name())

	released := o.released
	o.released = nil
	for _, fn := range released {
		fn()
	}
}

// OnReleased runs fn once the output has let go of its buffers, which for a
// removed output may be after OutputRemoved when a flip was still in flight.
// fn runs right away if that already happened.
func (o *Output) OnReleased(fn func()) {
	if o.finalized {
		fn()
		return
	}
	o.released = append(o.released, fn)
}
