package kms

import (
	"fmt"
	"strings"
	"time"

	"github.com/bnema/scanout/internal/drm"
	"github.com/bnema/scanout/internal/logger"
)

const (
	defaultCursorSize  = 64
	defaultIdleTimeout = 30 * time.Second
)

// SessionState reports whether this process currently owns the seat.
type SessionState interface {
	IsActive() bool
}

type alwaysActive struct{}

func (alwaysActive) IsActive() bool { return true }

// Listener is told about outputs appearing and disappearing.
type Listener interface {
	OutputAdded(*Output)
	OutputRemoved(*Output)
}

// Options tune device setup. Zero values select the defaults.
type Options struct {
	// DisableModifiers never registers framebuffers with explicit modifiers.
	DisableModifiers bool
	// IdleTimeout bounds WaitIdle. Defaults to 30s.
	IdleTimeout    time.Duration
	ShufflePolicy  ShufflePolicy
	SoftwareCursor bool
	Session        SessionState
	Listener       Listener
	Clock          ClockReader
}

// Capabilities are probed once when the device is opened.
type Capabilities struct {
	Driver            string
	CursorWidth       uint32
	CursorHeight      uint32
	PresentationClock ClockID
	AddFB2Modifiers   bool
	DumbBuffers       bool
	ProprietaryDriver bool
	UniversalPlanes   bool
	AtomicModeSetting bool
	PlaneCount        int
}

// GPU owns one DRM device: its planes, its outputs and the bookkeeping that
// keeps every CRTC and plane bound to at most one output.
type GPU struct {
	dev  drm.Device
	path string
	opts Options
	caps Capabilities

	atomic       bool
	planes       []*Plane
	unusedPlanes []*Plane
	outputs      []*Output
	dying        []*Output
	tokens       map[uint64]*Output
	nextToken    uint64
	rejected     map[pairKey]struct{}
	testBuffers  map[[2]uint32]*DumbBuffer
	closed       bool

	softwareCursorForced bool
}

// NewGPU wraps an opened device and probes its capabilities. Atomic mode is
// not enabled until EnableAtomicMode is called.
func NewGPU(dev drm.Device, path string, opts Options) *GPU {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.Session == nil {
		opts.Session = alwaysActive{}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	g := &GPU{
		dev:         dev,
		path:        path,
		opts:        opts,
		tokens:      make(map[uint64]*Output),
		rejected:    make(map[pairKey]struct{}),
		testBuffers: make(map[[2]uint32]*DumbBuffer),
	}
	g.probeCapabilities()
	return g
}

func (g *GPU) probeCapabilities() {
	caps := Capabilities{
		CursorWidth:       defaultCursorSize,
		CursorHeight:      defaultCursorSize,
		PresentationClock: ClockRealtime,
	}
	if v, err := g.dev.GetCap(drm.CapCursorWidth); err == nil && v > 0 {
		caps.CursorWidth = uint32(v)
	}
	if v, err := g.dev.GetCap(drm.CapCursorHeight); err == nil && v > 0 {
		caps.CursorHeight = uint32(v)
	}
	if v, err := g.dev.GetCap(drm.CapTimestampMonotonic); err == nil && v == 1 {
		caps.PresentationClock = ClockMonotonic
	}
	if v, err := g.dev.GetCap(drm.CapDumbBuffer); err == nil && v == 1 {
		caps.DumbBuffers = true
	}
	if !g.opts.DisableModifiers {
		if v, err := g.dev.GetCap(drm.CapAddFB2Modifiers); err == nil && v == 1 {
			caps.AddFB2Modifiers = true
		}
	}
	if name, err := g.dev.DriverName(); err == nil {
		caps.Driver = name
		caps.ProprietaryDriver = strings.Contains(name, "nvidia-drm")
	} else {
		logger.Debug("could not query driver name", "device", g.path, "err", err)
	}
	g.caps = caps

	logger.Debug("device capabilities",
		"device", g.path,
		"driver", caps.Driver,
		"cursor", fmt.Sprintf("%dx%d", caps.CursorWidth, caps.CursorHeight),
		"clock", caps.PresentationClock,
		"modifiers", caps.AddFB2Modifiers,
	)
}

// EnableAtomicMode switches the device to atomic modesetting. It returns
// false and stays on the legacy API when the kernel refuses or no plane can
// be used.
func (g *GPU) EnableAtomicMode() bool {
	g.atomic = false
	if err := g.dev.SetClientCap(drm.ClientCapAtomic, 1); err != nil {
		logger.Info("atomic modesetting unavailable, using legacy API", "device", g.path, "err", err)
		return false
	}
	g.caps.UniversalPlanes = true

	ids, err := g.dev.PlaneResources()
	if err != nil {
		logger.Warn("could not list planes, using legacy API", "device", g.path, "err", err)
		g.leaveAtomic()
		return false
	}
	var planes []*Plane
	for _, id := range ids {
		p, err := newPlane(g.dev, id)
		if err != nil {
			logger.Debug("skipping plane", "plane", id, "err", err)
			continue
		}
		planes = append(planes, p)
	}
	if len(planes) == 0 {
		logger.Warn("atomic modesetting has no usable planes, using legacy API", "device", g.path, "err", ErrNoPlanes)
		g.leaveAtomic()
		return false
	}

	g.planes = planes
	g.unusedPlanes = append([]*Plane(nil), planes...)
	g.atomic = true
	g.caps.AtomicModeSetting = true
	g.caps.PlaneCount = len(planes)
	logger.Info("atomic modesetting enabled", "device", g.path, "planes", len(planes))
	return true
}

func (g *GPU) leaveAtomic() {
	if err := g.dev.SetClientCap(drm.ClientCapAtomic, 0); err != nil {
		logger.Debug("could not clear atomic client cap", "err", err)
	}
	g.caps.AtomicModeSetting = false
}

func (g *GPU) AtomicModeSetting() bool    { return g.atomic }
func (g *GPU) Path() string               { return g.path }
func (g *GPU) Device() drm.Device         { return g.dev }
func (g *GPU) Capabilities() Capabilities { return g.caps }
func (g *GPU) SoftwareCursorForced() bool { return g.softwareCursorForced }
func (g *GPU) SetListener(l Listener)     { g.opts.Listener = l }
func (g *GPU) PresentationClock() ClockID { return g.caps.PresentationClock }
func (g *GPU) Planes() []*Plane           { return append([]*Plane(nil), g.planes...) }
func (g *GPU) UnusedPlanes() []*Plane     { return append([]*Plane(nil), g.unusedPlanes...) }
func (g *GPU) Outputs() []*Output         { return append([]*Output(nil), g.outputs...) }
func (g *GPU) sessionActive() bool        { return g.opts.Session.IsActive() }
func (g *GPU) clock() ClockReader         { return g.opts.Clock }
func (g *GPU) idleTimeout() time.Duration { return g.opts.IdleTimeout }
func (g *GPU) listener() Listener         { return g.opts.Listener }

func (g *GPU) rejectPair(c *Connector, r *Crtc) {
	g.rejected[pairKey{c.id, r.id}] = struct{}{}
}

// NewDumbBuffer allocates an XRGB8888 buffer for software rendering.
func (g *GPU) NewDumbBuffer(width, height uint32) *DumbBuffer {
	return NewDumbBuffer(g.dev, width, height, drm.FormatXRGB8888)
}

func (g *GPU) testBuffer(width, height uint32) *DumbBuffer {
	key := [2]uint32{width, height}
	if b, ok := g.testBuffers[key]; ok && b.IsValid() {
		return b
	}
	b := NewDumbBuffer(g.dev, width, height, drm.FormatXRGB8888)
	g.testBuffers[key] = b
	return b
}

func (g *GPU) registerOutput(o *Output) uint64 {
	g.nextToken++
	g.tokens[g.nextToken] = o
	return g.nextToken
}

func (g *GPU) findOutput(connectorID uint32) *Output {
	for _, list := range [][]*Output{g.outputs, g.dying} {
		for _, o := range list {
			if o.pipeline.connector.id == connectorID {
				return o
			}
		}
	}
	return nil
}

func (g *GPU) crtcInUse(crtcID uint32) bool {
	for _, list := range [][]*Output{g.outputs, g.dying} {
		for _, o := range list {
			if o.pipeline.crtc.id == crtcID {
				return true
			}
		}
	}
	return false
}

// RescanOutputs reconciles outputs with the connectors the kernel reports:
// disconnected outputs are torn down and newly connected ones get a
// pipeline if the hardware can drive them.
func (g *GPU) RescanOutputs() error {
	res, err := g.dev.Resources()
	if err != nil {
		return fmt.Errorf("query resources on %s: %w", g.path, err)
	}

	for _, o := range g.Outputs() {
		if o.pipeline.connector.IsConnected() {
			continue
		}
		logger.Info("output disconnected", "output", o.Name())
		g.removeOutput(o)
	}

	var connectors []*Connector
	for _, id := range res.Connectors {
		if g.findOutput(id) != nil {
			continue
		}
		c, err := newConnector(g.dev, id)
		if err != nil {
			logger.Warn("skipping connector", "connector", id, "err", err)
			continue
		}
		if c.info.Connection != drm.Connected || len(c.info.Modes) == 0 {
			continue
		}
		if c.IsNonDesktop() {
			logger.Debug("ignoring non-desktop connector", "connector", c.Name())
			continue
		}
		connectors = append(connectors, c)
	}
	if len(connectors) == 0 {
		return nil
	}

	var crtcs []*Crtc
	for i, id := range res.Crtcs {
		if g.crtcInUse(id) {
			continue
		}
		c, err := newCrtc(g.dev, id, i)
		if err != nil {
			logger.Warn("skipping crtc", "crtc", id, "err", err)
			continue
		}
		crtcs = append(crtcs, c)
	}

	g.rejected = make(map[pairKey]struct{})
	for len(connectors) > 0 {
		pipelines := g.findWorkingCombination(connectors, crtcs, g.unusedPlanes)
		if len(pipelines) < len(connectors) && len(g.outputs) > 0 {
			destroyAll(pipelines)
			pipelines = g.shufflePipelines(connectors, &crtcs)
		}
		if len(pipelines) == 0 {
			break
		}

		retry := false
		for _, p := range pipelines {
			if err := g.addOutput(p); err != nil {
				logger.Warn("output failed to come up, excluding this CRTC", "connector", p.connector.Name(), "crtc", p.crtc.id, "err", err)
				g.rejectPair(p.connector, p.crtc)
				p.destroy()
				retry = true
				continue
			}
			connectors = without(connectors, p.connector)
			crtcs = without(crtcs, p.crtc)
			if p.primary != nil {
				g.unusedPlanes = without(g.unusedPlanes, p.primary)
			}
		}
		if !retry {
			break
		}
	}
	for _, c := range connectors {
		logger.Warn("connector left without a pipeline", "connector", c.Name())
	}
	return nil
}

func (g *GPU) addOutput(p *Pipeline) error {
	o := newOutput(g, p)
	if err := o.init(); err != nil {
		delete(g.tokens, o.token)
		return err
	}
	if g.opts.SoftwareCursor {
		g.softwareCursorForced = true
	} else if err := o.initCursor(g.caps.CursorWidth, g.caps.CursorHeight); err != nil {
		logger.Warn("hardware cursor unavailable, falling back to software cursor", "output", o.Name(), "err", err)
		g.softwareCursorForced = true
	}

	g.outputs = append(g.outputs, o)
	mode := p.Mode()
	logger.Info("output added",
		"output", o.Name(),
		"model", p.connector.ModelName(),
		"mode", mode.String(),
		"crtc", p.crtc.id,
		"atomic", g.atomic,
	)
	if l := g.listener(); l != nil {
		l.OutputAdded(o)
	}
	return nil
}

func (g *GPU) removeOutput(o *Output) {
	g.outputs = without(g.outputs, o)
	o.teardown()
	if o.pageFlipPending {
		g.dying = append(g.dying, o)
	}
	if l := g.listener(); l != nil {
		l.OutputRemoved(o)
	}
}

// finalizeOutput returns the output's plane to the pool once no flip can
// still reference it.
func (g *GPU) finalizeOutput(o *Output) {
	delete(g.tokens, o.token)
	g.dying = without(g.dying, o)
	if p := o.pipeline.primary; p != nil {
		g.unusedPlanes = append(g.unusedPlanes, p)
	}
}

// DispatchEvents reads completion events and routes each one to its
// output. Nothing is read while the session is inactive.
func (g *GPU) DispatchEvents() error {
	if !g.sessionActive() {
		return nil
	}
	return g.handleEvents()
}

func (g *GPU) handleEvents() error {
	events, err := g.dev.ReadEvents()
	if err != nil {
		return fmt.Errorf("read events on %s: %w", g.path, err)
	}
	for _, ev := range events {
		if ev.Type != drm.EventFlipComplete {
			continue
		}
		o, ok := g.tokens[ev.UserData]
		if !ok {
			logger.Debug("page flip for unknown output", "token", ev.UserData, "crtc", ev.CrtcID)
			continue
		}
		ts := o.normalizeTimestamp(eventTimestamp(ev.Sec, ev.Usec))
		// bookkeeping first: completing the frame requests the next one
		o.pageFlipped()
		if !o.deleted {
			o.renderLoop.NotifyFrameCompleted(ts)
		}
	}
	return nil
}

func (g *GPU) idle() bool {
	for _, list := range [][]*Output{g.outputs, g.dying} {
		for _, o := range list {
			if o.pageFlipPending {
				return false
			}
		}
	}
	return true
}

// WaitIdle blocks until no output has a page flip in flight. Events are
// consumed even while the session is inactive.
func (g *GPU) WaitIdle() error {
	for !g.idle() {
		ready, err := g.dev.Poll(g.idleTimeout())
		if err != nil {
			logger.Warn("polling for page flips failed", "device", g.path, "err", err)
			return fmt.Errorf("poll %s: %w", g.path, err)
		}
		if !ready {
			logger.Warn("no page flip completed in time", "device", g.path, "timeout", g.idleTimeout())
			return ErrIdleTimeout
		}
		if err := g.handleEvents(); err != nil {
			return err
		}
	}
	return nil
}

// SetSessionActive tells outputs that the seat was switched away or back.
// On return every output redoes its full modeset with the next frame.
func (g *GPU) SetSessionActive(active bool) {
	for _, o := range g.outputs {
		o.sessionChanged(active)
	}
}

// Close waits for pending flips, tears down every output and closes the
// device.
func (g *GPU) Close() error {
	if g.closed {
		return nil
	}
	if err := g.WaitIdle(); err != nil {
		logger.Warn("closing device with page flips pending", "device", g.path, "err", err)
	}
	for _, o := range g.Outputs() {
		g.removeOutput(o)
	}
	for _, o := range append([]*Output(nil), g.dying...) {
		o.finalize()
	}
	for key, b := range g.testBuffers {
		if err := b.Destroy(); err != nil {
			logger.Debug("destroying test buffer failed", "err", err)
		}
		delete(g.testBuffers, key)
	}
	g.planes, g.unusedPlanes = nil, nil
	g.closed = true
	return g.dev.Close()
}

func (g *GPU) String() string {
	api := "legacy"
	if g.atomic {
		api = "atomic"
	}
	return fmt.Sprintf("%s (%s, %s)", g.path, g.caps.Driver, api)
}
