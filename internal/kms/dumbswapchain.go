package kms

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/scanout/internal/drm"
)

var errSwapchainBusy = errors.New("all swapchain images are in use")

type dumbSlot struct {
	bo     *BufferObject
	handle uint32
	locked bool
}

// DumbSwapchain rotates a fixed set of CPU-mapped dumb allocations. Images
// are drawn after Acquire, made current with Queue and scanned out through a
// HardwareBuffer created from the chain.
type DumbSwapchain struct {
	mu    sync.Mutex
	dev   drm.Device
	slots []*dumbSlot
	front *dumbSlot
}

// NewDumbSwapchain allocates count images of the given size.
func NewDumbSwapchain(dev drm.Device, width, height, format uint32, count int) (*DumbSwapchain, error) {
	if count < 2 {
		count = 2
	}
	sc := &DumbSwapchain{dev: dev}
	for i := 0; i < count; i++ {
		slot, err := sc.allocate(width, height, format)
		if err != nil {
			sc.Destroy()
			return nil, err
		}
		sc.slots = append(sc.slots, slot)
	}
	return sc, nil
}

func (sc *DumbSwapchain) allocate(width, height, format uint32) (*dumbSlot, error) {
	info, err := sc.dev.CreateDumb(width, height, dumbBpp)
	if err != nil {
		return nil, fmt.Errorf("create dumb %dx%d: %w", width, height, err)
	}
	offset, err := sc.dev.MapDumb(info.Handle)
	if err != nil {
		_ = sc.dev.DestroyDumb(info.Handle)
		return nil, fmt.Errorf("map dumb %d: %w", info.Handle, err)
	}
	data, err := sc.dev.Mmap(offset, int(info.Size))
	if err != nil {
		_ = sc.dev.DestroyDumb(info.Handle)
		return nil, fmt.Errorf("mmap dumb %d: %w", info.Handle, err)
	}
	return &dumbSlot{
		handle: info.Handle,
		bo: &BufferObject{
			Width:    width,
			Height:   height,
			Format:   format,
			Modifier: drm.ModifierLinear,
			Planes:   []BufferPlane{{Handle: info.Handle, Pitch: info.Pitch}},
			Data:     data,
		},
	}, nil
}

// Acquire hands out an image that is neither scanned out nor current.
func (sc *DumbSwapchain) Acquire() (*BufferObject, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, s := range sc.slots {
		if !s.locked && s != sc.front {
			return s.bo, nil
		}
	}
	return nil, errSwapchainBusy
}

// Queue makes bo the image LockFront returns next.
func (sc *DumbSwapchain) Queue(bo *BufferObject) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if s := sc.slot(bo); s != nil {
		sc.front = s
	}
}

func (sc *DumbSwapchain) LockFront() (*BufferObject, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.front == nil {
		return nil, errors.New("nothing queued")
	}
	sc.front.locked = true
	return sc.front.bo, nil
}

func (sc *DumbSwapchain) Release(bo *BufferObject) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if s := sc.slot(bo); s != nil {
		s.locked = false
	}
}

func (sc *DumbSwapchain) slot(bo *BufferObject) *dumbSlot {
	for _, s := range sc.slots {
		if s.bo == bo {
			return s
		}
	}
	return nil
}

// Destroy unmaps and frees every image. Framebuffers created from the chain
// must be destroyed first.
func (sc *DumbSwapchain) Destroy() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	var errs []error
	for _, s := range sc.slots {
		if s.bo.Data != nil {
			if err := sc.dev.Munmap(s.bo.Data); err != nil {
				errs = append(errs, err)
			}
			s.bo.Data = nil
		}
		if err := sc.dev.DestroyDumb(s.handle); err != nil {
			errs = append(errs, fmt.Errorf("destroy dumb %d: %w", s.handle, err))
		}
	}
	sc.slots = nil
	sc.front = nil
	return errors.Join(errs...)
}
