package kms

import (
	"errors"
	"fmt"

	"github.com/bnema/scanout/internal/drm"
	"github.com/bnema/scanout/internal/logger"
)

// Buffer is one displayable frame. ID is the framebuffer id; a buffer whose
// registration failed reports IsValid false and must not be presented.
type Buffer interface {
	ID() uint32
	Size() (width, height uint32)
	IsValid() bool
	Destroy() error
}

const dumbBpp = 32

// DumbBuffer is a CPU-mapped scanout buffer for software rendering.
type DumbBuffer struct {
	dev           drm.Device
	width, height uint32
	format        uint32

	handle uint32
	pitch  uint32
	size   uint64
	fbID   uint32
	data   []byte
}

// NewDumbBuffer allocates and registers a 32 bpp dumb buffer. A failed
// allocation or registration is logged and leaves the buffer invalid.
func NewDumbBuffer(dev drm.Device, width, height uint32, format uint32) *DumbBuffer {
	b := &DumbBuffer{dev: dev, width: width, height: height, format: format}
	if !b.create() {
		logger.Warn("dumb buffer allocation failed", "width", width, "height", height)
	}
	return b
}

func (b *DumbBuffer) create() bool {
	info, err := b.dev.CreateDumb(b.width, b.height, dumbBpp)
	if err != nil {
		logger.Debug("CREATE_DUMB failed", "err", err)
		return false
	}
	b.handle, b.pitch, b.size = info.Handle, info.Pitch, info.Size

	spec := &drm.FramebufferSpec{
		Width:   b.width,
		Height:  b.height,
		Format:  b.format,
		Handles: [4]uint32{b.handle},
		Pitches: [4]uint32{b.pitch},
	}
	if id, err := b.dev.AddFB2(spec); err == nil {
		b.fbID = id
		return true
	}
	id, err := b.dev.AddFB(b.width, b.height, 24, dumbBpp, b.pitch, b.handle)
	if err != nil {
		logger.Warn("AddFB failed for dumb buffer", "err", err)
		return false
	}
	b.fbID = id
	return true
}

func (b *DumbBuffer) ID() uint32                   { return b.fbID }
func (b *DumbBuffer) Size() (width, height uint32) { return b.width, b.height }
func (b *DumbBuffer) IsValid() bool                { return b.fbID != 0 }
func (b *DumbBuffer) Handle() uint32               { return b.handle }
func (b *DumbBuffer) Pitch() uint32                { return b.pitch }
func (b *DumbBuffer) ByteSize() uint64             { return b.size }
func (b *DumbBuffer) Format() uint32               { return b.format }

// Map makes the pixels CPU-writable. Mapping twice is a no-op.
func (b *DumbBuffer) Map() error {
	if b.handle == 0 || b.fbID == 0 {
		return ErrNotPresentable
	}
	if b.data != nil {
		return nil
	}
	offset, err := b.dev.MapDumb(b.handle)
	if err != nil {
		return fmt.Errorf("map dumb %d: %w", b.handle, err)
	}
	data, err := b.dev.Mmap(offset, int(b.size))
	if err != nil {
		return fmt.Errorf("mmap dumb %d: %w", b.handle, err)
	}
	b.data = data
	return nil
}

// Data returns the mapped pixels, nil before Map.
func (b *DumbBuffer) Data() []byte { return b.data }

// Fill paints every pixel with one 32-bit value.
func (b *DumbBuffer) Fill(pixel uint32) {
	if b.data == nil {
		return
	}
	for y := uint32(0); y < b.height; y++ {
		row := b.data[y*b.pitch:]
		for x := uint32(0); x < b.width; x++ {
			putPixel(row[x*4:], pixel)
		}
	}
}

func putPixel(dst []byte, pixel uint32) {
	dst[0] = byte(pixel)
	dst[1] = byte(pixel >> 8)
	dst[2] = byte(pixel >> 16)
	dst[3] = byte(pixel >> 24)
}

// Destroy unregisters the framebuffer before the memory goes away.
func (b *DumbBuffer) Destroy() error {
	var errs []error
	if b.fbID != 0 {
		if err := b.dev.RmFB(b.fbID); err != nil {
			errs = append(errs, fmt.Errorf("rmfb %d: %w", b.fbID, err))
		}
		b.fbID = 0
	}
	if b.data != nil {
		if err := b.dev.Munmap(b.data); err != nil {
			errs = append(errs, err)
		}
		b.data = nil
	}
	if b.handle != 0 {
		if err := b.dev.DestroyDumb(b.handle); err != nil {
			errs = append(errs, fmt.Errorf("destroy dumb %d: %w", b.handle, err))
		}
		b.handle = 0
	}
	return errors.Join(errs...)
}
