package kms

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/bnema/scanout/internal/drm"
	"github.com/bnema/scanout/internal/logger"
)

// CommitMode selects between a dry-run validation and a real commit built
// from the same state.
type CommitMode int

const (
	CommitTest CommitMode = iota
	CommitReal
)

func (m CommitMode) String() string {
	if m == CommitTest {
		return "test"
	}
	return "real"
}

type pipelineMode struct {
	mode       Mode
	srcW, srcH uint32
	enabled    bool
	changed    bool
	blobID     uint32
}

type pipelineCursor struct {
	buffer *DumbBuffer
	x, y   int32
}

// Pipeline binds one connector, one CRTC and, in atomic mode, a primary
// plane. While it exists it exclusively owns those objects.
type Pipeline struct {
	gpu       *GPU
	connector *Connector
	crtc      *Crtc
	primary   *Plane
	userData  uint64

	mode          pipelineMode
	gammaBlob     uint32
	cursor        pipelineCursor
	primaryBuffer Buffer
	testBuffer    *DumbBuffer
}

func newPipeline(gpu *GPU, conn *Connector, crtc *Crtc, primary *Plane) (*Pipeline, error) {
	mode, ok := conn.PreferredMode()
	if !ok {
		return nil, fmt.Errorf("connector %s has no modes", conn.Name())
	}
	p := &Pipeline{
		gpu:       gpu,
		connector: conn,
		crtc:      crtc,
		primary:   primary,
		mode: pipelineMode{
			mode:    mode,
			srcW:    uint32(mode.Width()),
			srcH:    uint32(mode.Height()),
			enabled: true,
			changed: true,
		},
	}
	if gpu.atomic {
		blob, err := p.createModeBlob(mode)
		if err != nil {
			return nil, err
		}
		p.mode.blobID = blob
	}
	return p, nil
}

func (p *Pipeline) Connector() *Connector { return p.connector }
func (p *Pipeline) Crtc() *Crtc           { return p.crtc }
func (p *Pipeline) PrimaryPlane() *Plane  { return p.primary }
func (p *Pipeline) Mode() Mode            { return p.mode.mode }
func (p *Pipeline) Enabled() bool         { return p.mode.enabled }

// ModesetPending reports whether the next commit will change the mode.
func (p *Pipeline) ModesetPending() bool { return p.mode.changed }

func (p *Pipeline) dev() drm.Device { return p.gpu.dev }

func (p *Pipeline) createModeBlob(mode Mode) (uint32, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, mode.ModeInfo); err != nil {
		return 0, err
	}
	id, err := p.dev().CreatePropertyBlob(buf.Bytes())
	if err != nil {
		return 0, fmt.Errorf("mode blob for %s: %w", mode, err)
	}
	return id, nil
}

func (p *Pipeline) destroyBlob(id uint32) {
	if id == 0 {
		return
	}
	if err := p.dev().DestroyPropertyBlob(id); err != nil {
		logger.Debug("destroying property blob failed", "blob", id, "err", err)
	}
}

// Test validates the pipeline against the kernel without touching the
// screen. Legacy mode has no such primitive and always passes.
func (p *Pipeline) Test() error {
	if !p.gpu.atomic {
		return nil
	}
	return p.atomicCommit(nil, CommitTest, true)
}

// Commit applies the staged state. CommitTest is a dry run in atomic mode
// and a no-op in legacy mode.
func (p *Pipeline) Commit(mode CommitMode) error {
	if p.gpu.atomic {
		return p.atomicCommit(p.primaryBuffer, mode, true)
	}
	if mode == CommitTest {
		return nil
	}
	buf := p.primaryBuffer
	if buf == nil {
		p.checkTestBuffer()
		buf = p.testBuffer
	}
	if err := p.setCrtcLegacy(buf); err != nil {
		return err
	}
	return nil
}

// atomicCommit always runs a test first; a real commit follows only when it
// passes. A nil buf in test mode is replaced by a blank test buffer.
func (p *Pipeline) atomicCommit(buf Buffer, mode CommitMode, event bool) error {
	if mode == CommitTest && buf == nil {
		p.checkTestBuffer()
		buf = p.testBuffer
	}
	req := drm.NewAtomicRequest()
	flags := p.populate(req, buf)
	if !event {
		flags &^= drm.PageFlipEvent | drm.AtomicNonBlock
	}

	testFlags := flags&^drm.PageFlipEvent | drm.AtomicTestOnly
	if err := p.dev().AtomicCommit(req, testFlags, p.userData); err != nil {
		return fmt.Errorf("atomic test on %s/%s: %w", p.connector, p.crtc, err)
	}
	if mode == CommitTest {
		return nil
	}
	if err := p.dev().AtomicCommit(req, flags, p.userData); err != nil {
		logger.Error("atomic commit failed after passing its test", "connector", p.connector.Name(), "crtc", p.crtc.id, "err", err)
		return fmt.Errorf("atomic commit on %s/%s: %w", p.connector, p.crtc, err)
	}
	p.mode.changed = false
	if p.primary != nil {
		p.primary.setNext(buf)
		if !event {
			// blocking commit without an event: already on screen
			p.primary.flipBuffer()
		}
	}
	return nil
}

func (p *Pipeline) populate(req *drm.AtomicRequest, buf Buffer) uint32 {
	var flags uint32
	enabled := p.mode.enabled
	if enabled {
		flags |= drm.PageFlipEvent
	}
	if p.mode.changed {
		flags |= drm.AtomicAllowModeset
	} else {
		flags |= drm.AtomicNonBlock
	}

	onlyIf := func(v uint64) uint64 {
		if enabled {
			return v
		}
		return 0
	}

	p.connector.setValue(propCrtcID, onlyIf(uint64(p.crtc.id)))
	p.connector.populate(req)

	p.crtc.setValue(propModeID, onlyIf(uint64(p.mode.blobID)))
	p.crtc.setValue(propActive, onlyIf(1))
	if p.crtc.hasGammaProp() {
		p.crtc.setValue(propGammaLUT, onlyIf(uint64(p.gammaBlob)))
	}
	p.crtc.populate(req)

	if p.primary != nil {
		modeW, modeH := uint32(p.mode.mode.Width()), uint32(p.mode.mode.Height())
		srcW, srcH := modeW, modeH
		var fb uint64
		if buf != nil {
			srcW, srcH = buf.Size()
			fb = uint64(buf.ID())
		}
		p.primary.setValue(propFbID, onlyIf(fb))
		p.primary.setScaled(srcW, srcH, modeW, modeH, p.crtc.id, enabled)
		p.primary.populate(req)
	}
	return flags
}

// Present queues buf for the next vblank and requests a completion event.
func (p *Pipeline) Present(buf Buffer) error {
	if p.gpu.atomic {
		if err := p.atomicCommit(buf, CommitReal, true); err != nil {
			return err
		}
		p.primaryBuffer = buf
		return nil
	}
	return p.presentLegacy(buf)
}

func (p *Pipeline) presentLegacy(buf Buffer) error {
	if p.crtc.next != nil {
		return ErrPageFlipPending
	}
	if p.mode.changed || p.crtc.current == nil || needsModeChange(p.crtc.current, buf) {
		if err := p.setCrtcLegacy(buf); err != nil {
			return err
		}
	}
	if err := p.dev().PageFlip(p.crtc.id, buf.ID(), drm.PageFlipEvent, p.userData); err != nil {
		return fmt.Errorf("page flip on %s: %w", p.crtc, err)
	}
	p.crtc.next = buf
	p.primaryBuffer = buf
	return nil
}

func needsModeChange(current, next Buffer) bool {
	cw, ch := current.Size()
	nw, nh := next.Size()
	if cw != nw || ch != nh {
		return true
	}
	cd, ok1 := current.(*DumbBuffer)
	nd, ok2 := next.(*DumbBuffer)
	if ok1 && ok2 {
		return cd.pitch != nd.pitch
	}
	return false
}

func (p *Pipeline) setCrtcLegacy(buf Buffer) error {
	mode := p.mode.mode.ModeInfo
	if err := p.dev().SetCrtc(p.crtc.id, buf.ID(), 0, 0, []uint32{p.connector.id}, &mode); err != nil {
		return fmt.Errorf("modeset on %s: %w", p.crtc, err)
	}
	p.crtc.current = buf
	p.mode.changed = false
	return nil
}

// disableLegacy switches the CRTC off and detaches its connectors.
func (p *Pipeline) disableLegacy() error {
	if err := p.dev().SetCrtc(p.crtc.id, 0, 0, 0, nil, nil); err != nil {
		return fmt.Errorf("disable %s: %w", p.crtc, err)
	}
	p.crtc.current, p.crtc.next = nil, nil
	return nil
}

// Blank scans out a black frame in the current mode and returns once the
// kernel accepted it; no completion event is requested.
func (p *Pipeline) Blank() error {
	p.checkTestBuffer()
	if !p.gpu.atomic {
		return p.setCrtcLegacy(p.testBuffer)
	}
	return p.atomicCommit(p.testBuffer, CommitReal, false)
}

// Modeset switches to mode after validating it; on failure the previous
// mode stays in place.
func (p *Pipeline) Modeset(mode Mode) error {
	old := p.mode
	p.mode.mode = mode
	p.mode.srcW, p.mode.srcH = uint32(mode.Width()), uint32(mode.Height())

	if p.gpu.atomic {
		p.mode.changed = true
		blob, err := p.createModeBlob(mode)
		if err != nil {
			p.mode = old
			return err
		}
		p.mode.blobID = blob
		if err := p.atomicCommit(nil, CommitTest, true); err != nil {
			p.destroyBlob(blob)
			p.mode = old
			return err
		}
		if old.blobID != 0 && old.blobID != blob {
			p.destroyBlob(old.blobID)
		}
		return nil
	}

	p.checkTestBuffer()
	if err := p.setCrtcLegacy(p.testBuffer); err != nil {
		p.mode = old
		return err
	}
	return nil
}

// restoreMode reinstates a previously working mode without testing it.
func (p *Pipeline) restoreMode(mode Mode) {
	p.mode.changed = true
	if p.mode.mode.Equal(mode) {
		return
	}
	p.mode.mode = mode
	p.mode.srcW, p.mode.srcH = uint32(mode.Width()), uint32(mode.Height())
	if p.gpu.atomic {
		blob, err := p.createModeBlob(mode)
		if err != nil {
			logger.Warn("could not restore mode", "connector", p.connector.Name(), "err", err)
			return
		}
		p.destroyBlob(p.mode.blobID)
		p.mode.blobID = blob
	}
}

// requestModeset forces the next present to perform a full modeset, e.g.
// after the session was switched back in.
func (p *Pipeline) requestModeset() {
	p.mode.changed = true
	if !p.gpu.atomic {
		p.crtc.current = nil
	}
}

// SetEnablement turns the pipeline on or off. Disabling commits at once
// since no present will follow; enabling is only validated and takes
// effect with the next present.
func (p *Pipeline) SetEnablement(enabled bool) error {
	old := p.mode
	oldBuffer := p.primaryBuffer
	p.mode.enabled = enabled
	p.primaryBuffer = nil

	if p.gpu.atomic {
		p.mode.changed = true
		var err error
		if enabled {
			err = p.atomicCommit(nil, CommitTest, true)
		} else {
			err = p.atomicCommit(nil, CommitReal, false)
		}
		if err != nil {
			p.mode = old
			p.primaryBuffer = oldBuffer
			return err
		}
		return nil
	}

	value := uint64(drm.DPMSOff)
	if enabled {
		value = drm.DPMSOn
	}
	if err := p.setLegacyDPMS(value); err != nil {
		p.mode = old
		p.primaryBuffer = oldBuffer
		return err
	}
	return nil
}

func (p *Pipeline) setLegacyDPMS(value uint64) error {
	dpms := p.connector.prop(propDPMS)
	if dpms == nil {
		return ErrNoDPMS
	}
	if err := p.dev().SetConnectorProperty(p.connector.id, dpms.id, value); err != nil {
		return fmt.Errorf("set DPMS on %s: %w", p.connector, err)
	}
	dpms.value = value
	return nil
}

// SetCursor shows buf as the hardware cursor; nil hides it.
func (p *Pipeline) SetCursor(buf *DumbBuffer) error {
	var handle, w, h uint32
	if buf != nil {
		handle = buf.Handle()
		w, h = buf.Size()
	}
	if err := p.dev().SetCursor(p.crtc.id, handle, w, h); err != nil {
		return fmt.Errorf("set cursor on %s: %w", p.crtc, err)
	}
	p.cursor.buffer = buf
	return nil
}

func (p *Pipeline) MoveCursor(x, y int32) error {
	if err := p.dev().MoveCursor(p.crtc.id, x, y); err != nil {
		return fmt.Errorf("move cursor on %s: %w", p.crtc, err)
	}
	p.cursor.x, p.cursor.y = x, y
	return nil
}

// SetGamma uploads a gamma ramp through GAMMA_LUT. The ramp is validated
// now and applied with the next commit.
func (p *Pipeline) SetGamma(red, green, blue []uint16) error {
	if !p.gpu.atomic || !p.crtc.hasGammaProp() {
		return ErrGammaUnsupported
	}
	if len(red) == 0 || len(red) != len(green) || len(red) != len(blue) {
		return fmt.Errorf("gamma ramp channels must be non-empty and equal in length")
	}
	data := make([]byte, 8*len(red))
	for i := range red {
		binary.NativeEndian.PutUint16(data[i*8:], red[i])
		binary.NativeEndian.PutUint16(data[i*8+2:], green[i])
		binary.NativeEndian.PutUint16(data[i*8+4:], blue[i])
	}
	blob, err := p.dev().CreatePropertyBlob(data)
	if err != nil {
		return fmt.Errorf("gamma blob: %w", err)
	}
	old := p.gammaBlob
	p.gammaBlob = blob
	if err := p.atomicCommit(nil, CommitTest, true); err != nil {
		p.destroyBlob(blob)
		p.gammaBlob = old
		return err
	}
	p.destroyBlob(old)
	return nil
}

// SetTransformation programs a hardware rotation on the primary plane.
func (p *Pipeline) SetTransformation(t Transformation) error {
	if p.primary == nil || p.primary.SupportedTransformations()&t != t {
		return fmt.Errorf("transformation %#x not supported", uint32(t))
	}
	if !p.primary.hasProp(propRotation) {
		return nil
	}
	p.primary.setTransformation(t)
	p.mode.changed = true
	return nil
}

func (p *Pipeline) pageFlipped() {
	if p.gpu.atomic && p.primary != nil {
		p.primary.flipBuffer()
		return
	}
	p.crtc.flipBuffer()
}

func (p *Pipeline) checkTestBuffer() {
	if p.testBuffer != nil {
		w, h := p.testBuffer.Size()
		if w == p.mode.srcW && h == p.mode.srcH {
			return
		}
	}
	p.testBuffer = p.gpu.testBuffer(p.mode.srcW, p.mode.srcH)
}

func (p *Pipeline) releaseBuffers() {
	p.crtc.current, p.crtc.next = nil, nil
	if p.primary != nil {
		p.primary.current, p.primary.next = nil, nil
	}
	p.primaryBuffer = nil
}

// destroy frees the pipeline's property blobs. The device-side state must
// already be disabled or taken over by another pipeline.
func (p *Pipeline) destroy() {
	p.releaseBuffers()
	p.destroyBlob(p.mode.blobID)
	p.mode.blobID = 0
	p.destroyBlob(p.gammaBlob)
	p.gammaBlob = 0
	p.testBuffer = nil
}

func (p *Pipeline) String() string {
	if p.primary != nil {
		return fmt.Sprintf("%s -> %s -> %s", p.connector, p.crtc, p.primary)
	}
	return fmt.Sprintf("%s -> %s", p.connector, p.crtc)
}
