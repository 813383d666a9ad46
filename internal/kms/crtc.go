package kms

import (
	"fmt"

	"github.com/bnema/scanout/internal/drm"
)

const (
	propModeID       = "MODE_ID"
	propActive       = "ACTIVE"
	propGammaLUT     = "GAMMA_LUT"
	propGammaLUTSize = "GAMMA_LUT_SIZE"
)

// Crtc is a scanout engine. Its pipe index is its position in the card's
// resource list and selects its bit in encoder and plane masks.
type Crtc struct {
	object
	pipe      int
	gammaSize uint32

	// legacy mode tracks scanout buffers here instead of on planes
	current, next Buffer
}

func newCrtc(dev drm.Device, id uint32, pipe int) (*Crtc, error) {
	info, err := dev.Crtc(id)
	if err != nil {
		return nil, fmt.Errorf("crtc %d: %w", id, err)
	}
	c := &Crtc{
		object:    object{dev: dev, id: id, objType: drm.ObjectCRTC},
		pipe:      pipe,
		gammaSize: info.GammaSize,
	}
	if err := c.initProps([]string{propModeID, propActive, propGammaLUT, propGammaLUTSize}); err != nil {
		return nil, err
	}
	if c.hasProp(propGammaLUTSize) {
		c.gammaSize = uint32(c.value(propGammaLUTSize))
	}
	return c, nil
}

func (c *Crtc) PipeIndex() int { return c.pipe }

func (c *Crtc) GammaSize() uint32 { return c.gammaSize }

func (c *Crtc) hasGammaProp() bool { return c.hasProp(propGammaLUT) }

func (c *Crtc) flipBuffer() {
	c.current = c.next
	c.next = nil
}

func (c *Crtc) String() string {
	return fmt.Sprintf("crtc %d (pipe %d)", c.id, c.pipe)
}
