package kms

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/scanout/internal/drm"
	"github.com/bnema/scanout/internal/logger"
)

// BufferPlane describes one memory plane of a buffer object.
type BufferPlane struct {
	Handle uint32
	Pitch  uint32
	Offset uint32
}

// BufferObject is a GPU-allocated image handed out by a swapchain.
type BufferObject struct {
	Width, Height uint32
	Format        uint32
	Modifier      uint64
	Planes        []BufferPlane

	// Data is set when the allocator maps the memory for the CPU.
	Data []byte
}

// Swapchain produces buffer objects for scanout. LockFront returns the most
// recently queued image and keeps it locked until Release.
type Swapchain interface {
	LockFront() (*BufferObject, error)
	Release(*BufferObject)
}

// ExternalBuffer is a client-provided buffer whose lifetime is shared between
// the producer and every consumer that acquired it. The producer holds the
// initial reference.
type ExternalBuffer struct {
	mu       sync.Mutex
	bo       *BufferObject
	refs     int
	release  func(*BufferObject)
	watchers map[int]func()
	nextID   int
	released bool
}

// NewExternalBuffer wraps bo; release runs once the last reference is gone.
func NewExternalBuffer(bo *BufferObject, release func(*BufferObject)) *ExternalBuffer {
	return &ExternalBuffer{
		bo:       bo,
		refs:     1,
		release:  release,
		watchers: make(map[int]func()),
	}
}

func (e *ExternalBuffer) BufferObject() *BufferObject { return e.bo }

// Acquire takes an extra reference. It fails once the buffer was released.
func (e *ExternalBuffer) Acquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return false
	}
	e.refs++
	return true
}

// Release drops one reference.
func (e *ExternalBuffer) Release() {
	e.mu.Lock()
	if e.released || e.refs == 0 {
		e.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		e.mu.Unlock()
		return
	}
	e.released = true
	release := e.release
	e.mu.Unlock()

	if release != nil {
		release(e.bo)
	}
}

// Refs reports the live reference count.
func (e *ExternalBuffer) Refs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refs
}

// OnAboutToBeDestroyed registers fn to run when the producer destroys the
// buffer. The returned func unregisters it.
func (e *ExternalBuffer) OnAboutToBeDestroyed(fn func()) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.watchers[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.watchers, id)
		e.mu.Unlock()
	}
}

// Destroy is called by the producer. Watchers get a chance to drop their
// references first, then the producer's own reference goes.
func (e *ExternalBuffer) Destroy() {
	e.mu.Lock()
	watchers := make([]func(), 0, len(e.watchers))
	for _, fn := range e.watchers {
		watchers = append(watchers, fn)
	}
	e.watchers = make(map[int]func())
	e.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
	e.Release()
}

// HardwareBuffer registers a buffer object as a framebuffer. It keeps the
// object alive until Destroy.
type HardwareBuffer struct {
	dev   drm.Device
	bo    *BufferObject
	fbID  uint32
	free  func()
	mu    sync.Mutex
	dying bool
}

// NewSwapchainBuffer locks the swapchain's front image and registers it. A
// failed registration still returns the buffer, holding the lock until
// Destroy; it reports IsValid false and must not be presented.
func NewSwapchainBuffer(g *GPU, sc Swapchain) (*HardwareBuffer, error) {
	bo, err := sc.LockFront()
	if err != nil {
		return nil, fmt.Errorf("lock front buffer: %w", err)
	}
	b := &HardwareBuffer{dev: g.dev, bo: bo, free: func() { sc.Release(bo) }}
	if err := b.register(g.caps.AddFB2Modifiers); err != nil {
		logger.Warn("buffer object is not presentable", "device", g.path, "err", err)
	}
	return b, nil
}

// NewExternalHardwareBuffer registers a client buffer. The buffer holds a
// reference on ext until Destroy; if the producer destroys ext first the
// buffer is only marked Orphaned. As with NewSwapchainBuffer a registration
// failure leaves an invalid buffer that still holds its reference.
func NewExternalHardwareBuffer(g *GPU, ext *ExternalBuffer) (*HardwareBuffer, error) {
	if !ext.Acquire() {
		return nil, errors.New("external buffer already released")
	}
	b := &HardwareBuffer{dev: g.dev, bo: ext.BufferObject()}
	var once sync.Once
	cancel := ext.OnAboutToBeDestroyed(func() {
		b.mu.Lock()
		b.dying = true
		b.mu.Unlock()
	})
	b.free = func() {
		once.Do(func() {
			cancel()
			ext.Release()
		})
	}
	if err := b.register(g.caps.AddFB2Modifiers); err != nil {
		logger.Warn("external buffer is not presentable", "device", g.path, "err", err)
	}
	return b, nil
}

// register tries AddFB2 with modifiers, then plain AddFB2, then AddFB.
// Without modifier support only the first plane is registered.
func (b *HardwareBuffer) register(modifiers bool) error {
	planes := b.bo.Planes
	if len(planes) == 0 || len(planes) > 4 {
		return fmt.Errorf("buffer object has %d planes", len(planes))
	}
	if !modifiers && len(planes) > 1 {
		logger.Debug("modifiers disabled, registering the first plane only", "format", drm.FormatName(b.bo.Format), "planes", len(planes))
		planes = planes[:1]
	}
	spec := &drm.FramebufferSpec{
		Width:  b.bo.Width,
		Height: b.bo.Height,
		Format: b.bo.Format,
	}
	for i, p := range planes {
		spec.Handles[i] = p.Handle
		spec.Pitches[i] = p.Pitch
		spec.Offsets[i] = p.Offset
	}

	if modifiers && b.bo.Modifier != drm.ModifierInvalid {
		withMods := *spec
		withMods.Flags = drm.FBModifiers
		for i := range planes {
			withMods.Modifiers[i] = b.bo.Modifier
		}
		id, err := b.dev.AddFB2(&withMods)
		if err == nil {
			b.fbID = id
			return nil
		}
		logger.Debug("AddFB2 with modifiers failed", "format", drm.FormatName(b.bo.Format), "modifier", fmt.Sprintf("%#x", b.bo.Modifier), "err", err)
	}

	id, err := b.dev.AddFB2(spec)
	if err == nil {
		b.fbID = id
		return nil
	}
	if len(planes) > 1 {
		return fmt.Errorf("register multi-planar %s framebuffer: %w", drm.FormatName(b.bo.Format), err)
	}
	logger.Debug("AddFB2 failed", "format", drm.FormatName(b.bo.Format), "err", err)

	p := planes[0]
	id, err = b.dev.AddFB(b.bo.Width, b.bo.Height, 24, 32, p.Pitch, p.Handle)
	if err != nil {
		return fmt.Errorf("register %dx%d %s framebuffer: %w", b.bo.Width, b.bo.Height, drm.FormatName(b.bo.Format), err)
	}
	b.fbID = id
	return nil
}

func (b *HardwareBuffer) ID() uint32                   { return b.fbID }
func (b *HardwareBuffer) Size() (width, height uint32) { return b.bo.Width, b.bo.Height }
func (b *HardwareBuffer) IsValid() bool                { return b.fbID != 0 }
func (b *HardwareBuffer) BufferObject() *BufferObject  { return b.bo }

// Orphaned reports whether the producer destroyed the backing buffer while
// it was still registered.
func (b *HardwareBuffer) Orphaned() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dying
}

// Destroy removes the framebuffer and only then gives the memory back.
func (b *HardwareBuffer) Destroy() error {
	var err error
	if b.fbID != 0 {
		if rmErr := b.dev.RmFB(b.fbID); rmErr != nil {
			err = fmt.Errorf("rmfb %d: %w", b.fbID, rmErr)
		}
		b.fbID = 0
	}
	if b.free != nil {
		b.free()
		b.free = nil
	}
	return err
}
