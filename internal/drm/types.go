package drm

import "bytes"

// ModeInfo mirrors struct drm_mode_modeinfo.
type ModeInfo struct {
	Clock                                         uint32
	Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew uint16
	Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan uint16

	Vrefresh uint32

	Flags uint32
	Type  uint32
	Name  [32]uint8
}

// ModeName returns the NUL-terminated mode name.
func (m *ModeInfo) ModeName() string {
	name, _, _ := bytes.Cut(m.Name[:], []byte{0})
	return string(name)
}

// Resources is the card-wide object inventory.
type Resources struct {
	Framebuffers []uint32
	Crtcs        []uint32
	Connectors   []uint32
	Encoders     []uint32

	MinWidth, MaxWidth   uint32
	MinHeight, MaxHeight uint32
}

// ConnectorInfo is a snapshot of one connector.
type ConnectorInfo struct {
	ID         uint32
	EncoderID  uint32
	Type       uint32
	TypeID     uint32
	Connection uint32
	MMWidth    uint32
	MMHeight   uint32
	Subpixel   uint32

	Modes    []ModeInfo
	Encoders []uint32
}

// EncoderInfo is a snapshot of one encoder.
type EncoderInfo struct {
	ID             uint32
	Type           uint32
	CrtcID         uint32
	PossibleCrtcs  uint32
	PossibleClones uint32
}

// CrtcInfo is a snapshot of one CRTC.
type CrtcInfo struct {
	ID        uint32
	FbID      uint32
	X, Y      uint32
	GammaSize uint32
	ModeValid bool
	Mode      ModeInfo
}

// PlaneInfo is a snapshot of one plane.
type PlaneInfo struct {
	ID            uint32
	CrtcID        uint32
	FbID          uint32
	PossibleCrtcs uint32
	GammaSize     uint32
	Formats       []uint32
}

// PropertyEnum is one named value of an enum or bitmask property.
type PropertyEnum struct {
	Value uint64
	Name  string
}

// Property describes a KMS property.
type Property struct {
	ID     uint32
	Name   string
	Flags  uint32
	Values []uint64
	Enums  []PropertyEnum
}

// PropertyValue pairs a property id with an object's current value.
type PropertyValue struct {
	ID    uint32
	Value uint64
}

// DumbInfo is returned by CreateDumb.
type DumbInfo struct {
	Handle uint32
	Pitch  uint32
	Size   uint64
}

// FramebufferSpec describes a framebuffer for AddFB2. Unused planes keep a
// zero handle.
type FramebufferSpec struct {
	Width, Height uint32
	Format        uint32
	Handles       [4]uint32
	Pitches       [4]uint32
	Offsets       [4]uint32
	Modifiers     [4]uint64
	Flags         uint32
}

// Event is one decoded completion event.
type Event struct {
	Type     uint32
	UserData uint64
	Sec      uint32
	Usec     uint32
	Sequence uint32
	CrtcID   uint32
}

// AtomicProperty is one (object, property, value) triple.
type AtomicProperty struct {
	ObjectID   uint32
	PropertyID uint32
	Value      uint64
}

// AtomicRequest accumulates property changes for one atomic commit.
type AtomicRequest struct {
	props []AtomicProperty
}

// NewAtomicRequest returns an empty request.
func NewAtomicRequest() *AtomicRequest {
	return &AtomicRequest{}
}

// Add appends a property change.
func (r *AtomicRequest) Add(objectID, propertyID uint32, value uint64) {
	r.props = append(r.props, AtomicProperty{ObjectID: objectID, PropertyID: propertyID, Value: value})
}

// Len returns the number of queued changes.
func (r *AtomicRequest) Len() int {
	return len(r.props)
}

// Properties returns the queued changes in insertion order.
func (r *AtomicRequest) Properties() []AtomicProperty {
	out := make([]AtomicProperty, len(r.props))
	copy(out, r.props)
	return out
}

// Lookup returns the last value queued for (object, property).
func (r *AtomicRequest) Lookup(objectID, propertyID uint32) (uint64, bool) {
	for i := len(r.props) - 1; i >= 0; i-- {
		p := r.props[i]
		if p.ObjectID == objectID && p.PropertyID == propertyID {
			return p.Value, true
		}
	}
	return 0, false
}

// grouped returns the request in the per-object layout drm_mode_atomic
// expects: objects in first-seen order, each followed by its properties.
func (r *AtomicRequest) grouped() (objs, counts, props []uint32, values []uint64) {
	index := make(map[uint32]int)
	var byObj [][]AtomicProperty
	for _, p := range r.props {
		i, ok := index[p.ObjectID]
		if !ok {
			i = len(byObj)
			index[p.ObjectID] = i
			byObj = append(byObj, nil)
			objs = append(objs, p.ObjectID)
		}
		byObj[i] = append(byObj[i], p)
	}
	for _, group := range byObj {
		counts = append(counts, uint32(len(group)))
		for _, p := range group {
			props = append(props, p.PropertyID)
			values = append(values, p.Value)
		}
	}
	return objs, counts, props, values
}
