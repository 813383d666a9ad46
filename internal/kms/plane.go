package kms

import (
	"fmt"

	"github.com/bnema/scanout/internal/drm"
)

// PlaneType is the value of a plane's "type" property.
type PlaneType int

const (
	PlaneOverlay PlaneType = iota
	PlanePrimary
	PlaneCursor
)

func (t PlaneType) String() string {
	switch t {
	case PlanePrimary:
		return "primary"
	case PlaneCursor:
		return "cursor"
	default:
		return "overlay"
	}
}

// Transformation is a set of DRM_MODE_ROTATE_* and DRM_MODE_REFLECT_* bits.
type Transformation uint32

const (
	Rotate0 Transformation = 1 << iota
	Rotate90
	Rotate180
	Rotate270
	ReflectX
	ReflectY
)

const (
	propType     = "type"
	propSrcX     = "SRC_X"
	propSrcY     = "SRC_Y"
	propSrcW     = "SRC_W"
	propSrcH     = "SRC_H"
	propCrtcX    = "CRTC_X"
	propCrtcY    = "CRTC_Y"
	propCrtcW    = "CRTC_W"
	propCrtcH    = "CRTC_H"
	propFbID     = "FB_ID"
	propRotation = "rotation"
)

var planeTypeNames = map[string]PlaneType{
	"Overlay": PlaneOverlay,
	"Primary": PlanePrimary,
	"Cursor":  PlaneCursor,
}

// Plane is a scanout surface.
type Plane struct {
	object
	typ           PlaneType
	possibleCrtcs uint32
	formats       []uint32
	supported     Transformation

	current, next Buffer
}

func newPlane(dev drm.Device, id uint32) (*Plane, error) {
	info, err := dev.Plane(id)
	if err != nil {
		return nil, fmt.Errorf("plane %d: %w", id, err)
	}
	p := &Plane{
		object:        object{dev: dev, id: id, objType: drm.ObjectPlane},
		possibleCrtcs: info.PossibleCrtcs,
		formats:       info.Formats,
	}
	if err := p.initProps([]string{
		propType,
		propSrcX, propSrcY, propSrcW, propSrcH,
		propCrtcX, propCrtcY, propCrtcW, propCrtcH,
		propFbID, propCrtcID, propRotation,
	}); err != nil {
		return nil, err
	}

	typeProp := p.prop(propType)
	if typeProp == nil {
		return nil, fmt.Errorf("plane %d has no type property", id)
	}
	p.typ = PlaneOverlay
	for name, value := range typeProp.enums {
		if value == typeProp.value {
			if t, ok := planeTypeNames[name]; ok {
				p.typ = t
			}
		}
	}

	if rot := p.prop(propRotation); rot != nil {
		for _, bit := range rot.enums {
			p.supported |= 1 << bit
		}
	} else {
		p.supported = Rotate0
	}
	return p, nil
}

func (p *Plane) Type() PlaneType { return p.typ }

func (p *Plane) Formats() []uint32 { return p.formats }

// IsCrtcSupported reports whether the plane can scan out on the CRTC with
// the given pipe index.
func (p *Plane) IsCrtcSupported(pipe int) bool {
	return p.possibleCrtcs&(1<<uint(pipe)) != 0
}

func (p *Plane) SupportedTransformations() Transformation { return p.supported }

func (p *Plane) Transformation() Transformation {
	if !p.hasProp(propRotation) {
		return Rotate0
	}
	return Transformation(p.value(propRotation))
}

func (p *Plane) setTransformation(t Transformation) {
	p.setValue(propRotation, uint64(t))
}

func (p *Plane) setNext(b Buffer) {
	p.next = b
	if b != nil {
		p.setValue(propFbID, uint64(b.ID()))
	} else {
		p.setValue(propFbID, 0)
	}
}

func (p *Plane) flipBuffer() {
	p.current = p.next
	p.next = nil
}

// set positions the plane; source coordinates are 16.16 fixed point.
func (p *Plane) set(srcW, srcH uint32, dst rect, crtcID uint32, enable bool) {
	if !enable {
		srcW, srcH, dst, crtcID = 0, 0, rect{}, 0
	}
	p.setValue(propSrcX, 0)
	p.setValue(propSrcY, 0)
	p.setValue(propSrcW, uint64(srcW)<<16)
	p.setValue(propSrcH, uint64(srcH)<<16)
	p.setValue(propCrtcX, uint64(uint32(dst.x)))
	p.setValue(propCrtcY, uint64(uint32(dst.y)))
	p.setValue(propCrtcW, uint64(dst.w))
	p.setValue(propCrtcH, uint64(dst.h))
	p.setValue(propCrtcID, uint64(crtcID))
}

// setScaled fits a source of srcW x srcH into the mode, keeping the aspect
// ratio and centring the result.
func (p *Plane) setScaled(srcW, srcH, modeW, modeH uint32, crtcID uint32, enable bool) {
	p.set(srcW, srcH, fitRect(srcW, srcH, modeW, modeH), crtcID, enable)
}

func (p *Plane) String() string {
	return fmt.Sprintf("%s plane %d", p.typ, p.id)
}

type rect struct {
	x, y int32
	w, h uint32
}

func fitRect(srcW, srcH, dstW, dstH uint32) rect {
	if srcW == 0 || srcH == 0 || (srcW == dstW && srcH == dstH) {
		return rect{w: dstW, h: dstH}
	}
	w, h := dstW, uint32(uint64(srcH)*uint64(dstW)/uint64(srcW))
	if h > dstH {
		w, h = uint32(uint64(srcW)*uint64(dstH)/uint64(srcH)), dstH
	}
	return rect{
		x: int32(dstW-w) / 2,
		y: int32(dstH-h) / 2,
		w: w,
		h: h,
	}
}
