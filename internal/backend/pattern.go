package backend

import (
	"fmt"

	"github.com/bnema/scanout/internal/drm"
	"github.com/bnema/scanout/internal/kms"
	"github.com/bnema/scanout/internal/logger"
)

// patternChain is the swapchain one output draws into, plus the framebuffers
// still locking its images: the one on screen and the one before it.
type patternChain struct {
	width, height uint32
	sc            *kms.DumbSwapchain
	shown, prev   *kms.HardwareBuffer
	frame         uint64
}

func releaseFramebuffer(hw *kms.HardwareBuffer) {
	if hw == nil {
		return
	}
	if err := hw.Destroy(); err != nil {
		logger.Debug("destroying pattern framebuffer failed", "fb", hw.ID(), "err", err)
	}
}

func (c *patternChain) destroy() {
	releaseFramebuffer(c.prev)
	releaseFramebuffer(c.shown)
	c.prev, c.shown = nil, nil
	if c.sc != nil {
		if err := c.sc.Destroy(); err != nil {
			logger.Debug("destroying pattern swapchain failed", "err", err)
		}
		c.sc = nil
	}
}

// PatternPainter draws a moving test pattern with software rendering into a
// two-image dumb swapchain per output.
type PatternPainter struct {
	chains map[*kms.Output]*patternChain
	// MaxFrames stops painting an output after that many frames when set.
	MaxFrames uint64
}

func NewPatternPainter() *PatternPainter {
	return &PatternPainter{chains: make(map[*kms.Output]*patternChain)}
}

// Frames reports how many frames were presented on o.
func (p *PatternPainter) Frames(o *kms.Output) uint64 {
	if c, ok := p.chains[o]; ok {
		return c.frame
	}
	return 0
}

// Paint runs once the previous frame completed, so the framebuffer presented
// before it is off screen and its image can be drawn again.
func (p *PatternPainter) Paint(o *kms.Output) error {
	mode := o.Mode()
	w, h := uint32(mode.Width()), uint32(mode.Height())

	c := p.chains[o]
	if c != nil && (c.width != w || c.height != h) {
		c.destroy()
		c = nil
	}
	if c == nil {
		sc, err := kms.NewDumbSwapchain(o.GPU().Device(), w, h, drm.FormatXRGB8888, 2)
		if err != nil {
			delete(p.chains, o)
			return fmt.Errorf("allocate %dx%d swapchain: %w", w, h, err)
		}
		c = &patternChain{width: w, height: h, sc: sc}
		p.chains[o] = c
	}
	if p.MaxFrames > 0 && c.frame >= p.MaxFrames {
		return nil
	}

	releaseFramebuffer(c.prev)
	c.prev = nil

	bo, err := c.sc.Acquire()
	if err != nil {
		return err
	}
	drawPattern(bo.Data, bo.Planes[0].Pitch, w, h, c.frame)
	c.sc.Queue(bo)

	hw, err := kms.NewSwapchainBuffer(o.GPU(), c.sc)
	if err != nil {
		return err
	}
	if err := o.Present(hw); err != nil {
		releaseFramebuffer(hw)
		return err
	}
	c.prev, c.shown = c.shown, hw
	c.frame++
	return nil
}

// Forget drops the output's swapchain. The backend calls it once the output
// released its buffers.
func (p *PatternPainter) Forget(o *kms.Output) {
	if c, ok := p.chains[o]; ok {
		c.destroy()
		delete(p.chains, o)
	}
}

// Done reports whether every output reached MaxFrames.
func (p *PatternPainter) Done() bool {
	if p.MaxFrames == 0 || len(p.chains) == 0 {
		return false
	}
	for _, c := range p.chains {
		if c.frame < p.MaxFrames {
			return false
		}
	}
	return true
}

// Close releases every buffer.
func (p *PatternPainter) Close() {
	for o := range p.chains {
		p.Forget(o)
	}
}

// drawPattern paints eight vertical colour bars with a white column that
// sweeps across the screen, one step per frame.
func drawPattern(data []byte, pitch, w, h uint32, frame uint64) {
	bars := [8]uint32{
		0xffffffff, 0xffffff00, 0xff00ffff, 0xff00ff00,
		0xffff00ff, 0xffff0000, 0xff0000ff, 0xff000000,
	}
	if w == 0 || h == 0 || uint64(len(data)) < uint64(pitch)*uint64(h) {
		return
	}
	sweep := uint32(frame*8) % w
	for y := uint32(0); y < h; y++ {
		row := data[y*pitch:]
		for x := uint32(0); x < w; x++ {
			px := bars[x*8/w]
			if x >= sweep && x < sweep+8 {
				px = 0xffffffff
			}
			row[x*4] = byte(px)
			row[x*4+1] = byte(px >> 8)
			row[x*4+2] = byte(px >> 16)
			row[x*4+3] = byte(px >> 24)
		}
	}
}
