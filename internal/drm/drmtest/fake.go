// Package drmtest provides an in-memory drm.Device for tests.
package drmtest

import (
	"fmt"
	"sync"
	"time"

	"github.com/bnema/scanout/internal/drm"
	"golang.org/x/sys/unix"
)

// Plane types as reported by the "type" enum property.
const (
	PlaneOverlay uint64 = 0
	PlanePrimary uint64 = 1
	PlaneCursor  uint64 = 2
)

// Commit is one non-test atomic commit accepted by the fake.
type Commit struct {
	Flags    uint32
	Props    []drm.AtomicProperty
	UserData uint64
}

// Value returns the value set for (object, property name) in this commit.
func (c Commit) Value(f *FakeDevice, objectID uint32, name string) (uint64, bool) {
	propID := f.PropertyID(name)
	for i := len(c.Props) - 1; i >= 0; i-- {
		p := c.Props[i]
		if p.ObjectID == objectID && p.PropertyID == propID {
			return p.Value, true
		}
	}
	return 0, false
}

type fakeObject struct {
	typ   uint32
	props map[uint32]uint64
	order []uint32
}

type fakeConnector struct {
	info drm.ConnectorInfo
}

type fakeDumb struct {
	info drm.DumbInfo
	data []byte
}

// FakeDevice models just enough of a KMS card for the kms package: objects
// with properties, dumb buffers, framebuffers, commits and queued events.
// Failure hooks let tests script kernel rejections.
type FakeDevice struct {
	mu sync.Mutex

	Driver          string
	Caps            map[uint64]uint64
	AtomicSupported bool

	// AtomicCheck is consulted for every atomic request, test-only or not.
	AtomicCheck func(req *drm.AtomicRequest, flags uint32) error
	// SetCrtcCheck is consulted for every legacy modeset.
	SetCrtcCheck func(crtcID, fbID uint32, connectors []uint32) error

	AddFB2Err      error
	AddFBErr       error
	PageFlipErr    error
	SetCursorErr   error
	CreateDumbErr  error
	ResourcesErr   error
	PlaneResErr    error
	DeferFlipEvent bool

	nextID     uint32
	propIDs    map[string]uint32
	propDefs   map[uint32]*drm.Property
	objects    map[uint32]*fakeObject
	connectors []*fakeConnector
	encoders   map[uint32]drm.EncoderInfo
	encOrder   []uint32
	crtcs      []uint32
	planes     []uint32
	planeInfo  map[uint32]*drm.PlaneInfo
	blobs      map[uint32][]byte
	dumbs      map[uint32]*fakeDumb
	fbs        map[uint32]drm.FramebufferSpec
	events     []drm.Event
	held       []drm.Event
	clientCaps map[uint64]uint64

	calls      []string
	commits    []Commit
	testCount  int
	legacySets []uint32
	flips      []uint32
	closed     bool
	eventTime  time.Duration
}

// NewFakeDevice returns an empty atomic-capable card with monotonic
// timestamps, 64x64 cursors, dumb buffers and modifier support.
func NewFakeDevice() *FakeDevice {
	return &FakeDevice{
		Driver: "fake",
		Caps: map[uint64]uint64{
			drm.CapDumbBuffer:         1,
			drm.CapTimestampMonotonic: 1,
			drm.CapCursorWidth:        64,
			drm.CapCursorHeight:       64,
			drm.CapAddFB2Modifiers:    1,
		},
		AtomicSupported: true,
		nextID:          30,
		propIDs:         make(map[string]uint32),
		propDefs:        make(map[uint32]*drm.Property),
		objects:         make(map[uint32]*fakeObject),
		encoders:        make(map[uint32]drm.EncoderInfo),
		planeInfo:       make(map[uint32]*drm.PlaneInfo),
		blobs:           make(map[uint32][]byte),
		dumbs:           make(map[uint32]*fakeDumb),
		fbs:             make(map[uint32]drm.FramebufferSpec),
		clientCaps:      make(map[uint64]uint64),
		eventTime:       time.Second,
	}
}

func (f *FakeDevice) allocID() uint32 {
	f.nextID++
	return f.nextID
}

func (f *FakeDevice) record(name string) {
	f.calls = append(f.calls, name)
}

func (f *FakeDevice) defineProperty(name string, flags uint32, enums ...drm.PropertyEnum) uint32 {
	if id, ok := f.propIDs[name]; ok {
		return id
	}
	id := f.allocID()
	f.propIDs[name] = id
	f.propDefs[id] = &drm.Property{ID: id, Name: name, Flags: flags, Enums: enums}
	return id
}

func (f *FakeDevice) addObject(typ uint32) uint32 {
	id := f.allocID()
	f.objects[id] = &fakeObject{typ: typ, props: make(map[uint32]uint64)}
	return id
}

func (f *FakeDevice) attach(objectID uint32, propID uint32, value uint64) {
	obj := f.objects[objectID]
	if _, ok := obj.props[propID]; !ok {
		obj.order = append(obj.order, propID)
	}
	obj.props[propID] = value
}

// AddCrtc adds a CRTC; its pipe index is the order of creation.
func (f *FakeDevice) AddCrtc() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.addObject(drm.ObjectCRTC)
	f.attach(id, f.defineProperty("MODE_ID", drm.PropBlob|drm.PropAtomic), 0)
	f.attach(id, f.defineProperty("ACTIVE", drm.PropRange|drm.PropAtomic), 0)
	f.attach(id, f.defineProperty("GAMMA_LUT", drm.PropBlob), 0)
	f.attach(id, f.defineProperty("GAMMA_LUT_SIZE", drm.PropRange|drm.PropImmutable), 256)
	f.crtcs = append(f.crtcs, id)
	return id
}

// AddEncoder adds an encoder able to drive the CRTC pipes in mask.
func (f *FakeDevice) AddEncoder(possibleCrtcs uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.allocID()
	f.encoders[id] = drm.EncoderInfo{ID: id, Type: 2, PossibleCrtcs: possibleCrtcs}
	f.encOrder = append(f.encOrder, id)
	return id
}

// AddConnector adds a connector. It is connected when at least one mode is
// given.
func (f *FakeDevice) AddConnector(typ uint32, encoders []uint32, modes ...drm.ModeInfo) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.addObject(drm.ObjectConnector)
	typeID := uint32(1)
	for _, c := range f.connectors {
		if c.info.Type == typ {
			typeID++
		}
	}
	conn := drm.Disconnected
	if len(modes) > 0 {
		conn = drm.Connected
	}
	f.connectors = append(f.connectors, &fakeConnector{info: drm.ConnectorInfo{
		ID:         id,
		Type:       typ,
		TypeID:     typeID,
		Connection: uint32(conn),
		MMWidth:    600,
		MMHeight:   340,
		Modes:      modes,
		Encoders:   encoders,
	}})
	f.attach(id, f.defineProperty("CRTC_ID", drm.PropAtomic), 0)
	f.attach(id, f.defineProperty("DPMS", drm.PropEnum,
		drm.PropertyEnum{Value: drm.DPMSOn, Name: "On"},
		drm.PropertyEnum{Value: drm.DPMSStandby, Name: "Standby"},
		drm.PropertyEnum{Value: drm.DPMSSuspend, Name: "Suspend"},
		drm.PropertyEnum{Value: drm.DPMSOff, Name: "Off"}), drm.DPMSOn)
	f.attach(id, f.defineProperty("EDID", drm.PropBlob|drm.PropImmutable), 0)
	f.attach(id, f.defineProperty("non-desktop", drm.PropRange|drm.PropImmutable), 0)
	return id
}

// AddOverscan gives a connector an "overscan" property.
func (f *FakeDevice) AddOverscan(connectorID uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attach(connectorID, f.defineProperty("overscan", drm.PropRange), 0)
}

// SetEDID attaches an EDID blob to a connector.
func (f *FakeDevice) SetEDID(connectorID uint32, edid []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob := f.allocID()
	f.blobs[blob] = append([]byte(nil), edid...)
	f.attach(connectorID, f.propIDs["EDID"], uint64(blob))
}

// SetNonDesktop flags a connector as a non-desktop display.
func (f *FakeDevice) SetNonDesktop(connectorID uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attach(connectorID, f.propIDs["non-desktop"], 1)
}

// SetConnected simulates a hotplug on a connector.
func (f *FakeDevice) SetConnected(connectorID uint32, connected bool, modes ...drm.ModeInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.connectors {
		if c.info.ID != connectorID {
			continue
		}
		if connected {
			c.info.Connection = drm.Connected
			if len(modes) > 0 {
				c.info.Modes = modes
			}
		} else {
			c.info.Connection = drm.Disconnected
			c.info.Modes = nil
		}
	}
}

// AddPlane adds a plane of the given type usable on the CRTC pipes in mask.
func (f *FakeDevice) AddPlane(planeType uint64, possibleCrtcs uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.addObject(drm.ObjectPlane)
	f.attach(id, f.defineProperty("type", drm.PropEnum|drm.PropImmutable,
		drm.PropertyEnum{Value: PlaneOverlay, Name: "Overlay"},
		drm.PropertyEnum{Value: PlanePrimary, Name: "Primary"},
		drm.PropertyEnum{Value: PlaneCursor, Name: "Cursor"}), planeType)
	for _, name := range []string{"SRC_X", "SRC_Y", "SRC_W", "SRC_H", "CRTC_X", "CRTC_Y", "CRTC_W", "CRTC_H", "FB_ID", "CRTC_ID"} {
		f.attach(id, f.defineProperty(name, drm.PropAtomic|drm.PropRange), 0)
	}
	f.attach(id, f.defineProperty("rotation", drm.PropBitmask,
		drm.PropertyEnum{Value: 0, Name: "rotate-0"},
		drm.PropertyEnum{Value: 2, Name: "rotate-180"},
		drm.PropertyEnum{Value: 4, Name: "reflect-x"}), 1)
	f.planes = append(f.planes, id)
	f.planeInfo[id] = &drm.PlaneInfo{
		ID:            id,
		PossibleCrtcs: possibleCrtcs,
		Formats:       []uint32{drm.FormatXRGB8888, drm.FormatARGB8888},
	}
	return id
}

// PropertyID returns the id the fake assigned to a property name.
func (f *FakeDevice) PropertyID(name string) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.propIDs[name]
}

// Value returns an object's current property value.
func (f *FakeDevice) Value(objectID uint32, name string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if obj, ok := f.objects[objectID]; ok {
		return obj.props[f.propIDs[name]]
	}
	return 0
}

// Calls returns the names of the buffer and modeset calls made so far.
func (f *FakeDevice) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Commits returns the accepted non-test atomic commits.
func (f *FakeDevice) Commits() []Commit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Commit(nil), f.commits...)
}

// TestCommits returns how many test-only atomic commits were checked.
func (f *FakeDevice) TestCommits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.testCount
}

// LegacyModesets returns the CRTC ids passed to SetCrtc.
func (f *FakeDevice) LegacyModesets() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.legacySets...)
}

// PageFlips returns the CRTC ids passed to PageFlip.
func (f *FakeDevice) PageFlips() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.flips...)
}

// Framebuffers returns how many framebuffers are registered.
func (f *FakeDevice) Framebuffers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fbs)
}

// Framebuffer returns the registration of one framebuffer.
func (f *FakeDevice) Framebuffer(id uint32) (drm.FramebufferSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.fbs[id]
	return spec, ok
}

// Blobs returns how many property blobs exist.
func (f *FakeDevice) Blobs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blobs)
}

// DumbBuffers returns how many dumb buffers exist.
func (f *FakeDevice) DumbBuffers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dumbs)
}

// QueueEvent appends a raw completion event.
func (f *FakeDevice) QueueEvent(ev drm.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

// PendingEvents returns how many events wait to be read.
func (f *FakeDevice) PendingEvents() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// ReleaseFlips queues the flip events held back by DeferFlipEvent.
func (f *FakeDevice) ReleaseFlips() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, f.held...)
	f.held = nil
}

// SetEventTime sets the timestamp stamped on generated flip events.
func (f *FakeDevice) SetEventTime(ts time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventTime = ts
}

// Closed reports whether Close was called.
func (f *FakeDevice) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeDevice) flipEvent(crtcID uint32, userData uint64) {
	ev := drm.Event{
		Type:     drm.EventFlipComplete,
		UserData: userData,
		Sec:      uint32(f.eventTime / time.Second),
		Usec:     uint32((f.eventTime % time.Second) / time.Microsecond),
		Sequence: uint32(len(f.flips) + len(f.commits)),
		CrtcID:   crtcID,
	}
	if f.DeferFlipEvent {
		f.held = append(f.held, ev)
		return
	}
	f.events = append(f.events, ev)
}

func (f *FakeDevice) Fd() int { return -1 }

func (f *FakeDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakeDevice) DriverName() (string, error) {
	return f.Driver, nil
}

func (f *FakeDevice) GetCap(capability uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.Caps[capability]
	if !ok {
		return 0, unix.EINVAL
	}
	return v, nil
}

func (f *FakeDevice) SetClientCap(capability, value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if capability == drm.ClientCapAtomic && !f.AtomicSupported {
		return unix.EOPNOTSUPP
	}
	f.clientCaps[capability] = value
	return nil
}

func (f *FakeDevice) Resources() (*drm.Resources, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ResourcesErr != nil {
		return nil, f.ResourcesErr
	}
	res := &drm.Resources{
		Crtcs:     append([]uint32(nil), f.crtcs...),
		Encoders:  append([]uint32(nil), f.encOrder...),
		MaxWidth:  8192,
		MaxHeight: 8192,
	}
	for _, c := range f.connectors {
		res.Connectors = append(res.Connectors, c.info.ID)
	}
	for id := range f.fbs {
		res.Framebuffers = append(res.Framebuffers, id)
	}
	return res, nil
}

func (f *FakeDevice) Connector(id uint32) (*drm.ConnectorInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.connectors {
		if c.info.ID == id {
			info := c.info
			info.Modes = append([]drm.ModeInfo(nil), c.info.Modes...)
			info.Encoders = append([]uint32(nil), c.info.Encoders...)
			return &info, nil
		}
	}
	return nil, unix.ENOENT
}

func (f *FakeDevice) Encoder(id uint32) (*drm.EncoderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	enc, ok := f.encoders[id]
	if !ok {
		return nil, unix.ENOENT
	}
	return &enc, nil
}

func (f *FakeDevice) Crtc(id uint32) (*drm.CrtcInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if obj, ok := f.objects[id]; !ok || obj.typ != drm.ObjectCRTC {
		return nil, unix.ENOENT
	}
	return &drm.CrtcInfo{ID: id, GammaSize: 256}, nil
}

func (f *FakeDevice) PlaneResources() ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PlaneResErr != nil {
		return nil, f.PlaneResErr
	}
	return append([]uint32(nil), f.planes...), nil
}

func (f *FakeDevice) Plane(id uint32) (*drm.PlaneInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.planeInfo[id]
	if !ok {
		return nil, unix.ENOENT
	}
	info := *p
	info.Formats = append([]uint32(nil), p.Formats...)
	return &info, nil
}

func (f *FakeDevice) ObjectProperties(objectID, objectType uint32) ([]drm.PropertyValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[objectID]
	if !ok || obj.typ != objectType {
		return nil, unix.ENOENT
	}
	out := make([]drm.PropertyValue, 0, len(obj.order))
	for _, id := range obj.order {
		out = append(out, drm.PropertyValue{ID: id, Value: obj.props[id]})
	}
	return out, nil
}

func (f *FakeDevice) Property(id uint32) (*drm.Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.propDefs[id]
	if !ok {
		return nil, unix.ENOENT
	}
	cp := *p
	cp.Enums = append([]drm.PropertyEnum(nil), p.Enums...)
	return &cp, nil
}

func (f *FakeDevice) PropertyBlob(id uint32) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blobs[id]
	if !ok {
		return nil, unix.ENOENT
	}
	return append([]byte(nil), b...), nil
}

func (f *FakeDevice) CreatePropertyBlob(data []byte) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.allocID()
	f.blobs[id] = append([]byte(nil), data...)
	return id, nil
}

func (f *FakeDevice) DestroyPropertyBlob(id uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.blobs[id]; !ok {
		return unix.ENOENT
	}
	delete(f.blobs, id)
	return nil
}

func (f *FakeDevice) SetConnectorProperty(connectorID, propertyID uint32, value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[connectorID]
	if !ok {
		return unix.ENOENT
	}
	if _, ok := obj.props[propertyID]; !ok {
		return unix.EINVAL
	}
	obj.props[propertyID] = value
	f.record("SetProperty")
	return nil
}

func (f *FakeDevice) AtomicCommit(req *drm.AtomicRequest, flags uint32, userData uint64) error {
	f.mu.Lock()
	check := f.AtomicCheck
	f.mu.Unlock()
	if check != nil {
		if err := check(req, flags); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clientCaps[drm.ClientCapAtomic] == 0 {
		return unix.EINVAL
	}
	for _, p := range req.Properties() {
		obj, ok := f.objects[p.ObjectID]
		if !ok {
			return unix.ENOENT
		}
		if _, ok := obj.props[p.PropertyID]; !ok {
			return unix.EINVAL
		}
	}
	if flags&drm.AtomicTestOnly != 0 {
		f.testCount++
		return nil
	}

	var crtcID uint32
	for _, p := range req.Properties() {
		obj := f.objects[p.ObjectID]
		obj.props[p.PropertyID] = p.Value
		if obj.typ == drm.ObjectCRTC && crtcID == 0 {
			crtcID = p.ObjectID
		}
	}
	f.commits = append(f.commits, Commit{Flags: flags, Props: req.Properties(), UserData: userData})
	f.record("AtomicCommit")
	if flags&drm.PageFlipEvent != 0 {
		f.flipEvent(crtcID, userData)
	}
	return nil
}

func (f *FakeDevice) SetCrtc(crtcID, fbID uint32, x, y uint32, connectors []uint32, mode *drm.ModeInfo) error {
	f.mu.Lock()
	check := f.SetCrtcCheck
	f.mu.Unlock()
	if check != nil {
		if err := check(crtcID, fbID, connectors); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if fbID != 0 {
		if _, ok := f.fbs[fbID]; !ok {
			return unix.ENOENT
		}
	}
	f.legacySets = append(f.legacySets, crtcID)
	f.record("SetCrtc")
	return nil
}

func (f *FakeDevice) PageFlip(crtcID, fbID, flags uint32, userData uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PageFlipErr != nil {
		return f.PageFlipErr
	}
	if _, ok := f.fbs[fbID]; !ok {
		return unix.ENOENT
	}
	f.flips = append(f.flips, crtcID)
	f.record("PageFlip")
	if flags&drm.PageFlipEvent != 0 {
		f.flipEvent(crtcID, userData)
	}
	return nil
}

func (f *FakeDevice) SetCursor(crtcID, handle, width, height uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetCursorErr != nil {
		return f.SetCursorErr
	}
	f.record("SetCursor")
	return nil
}

func (f *FakeDevice) MoveCursor(crtcID uint32, x, y int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("MoveCursor")
	return nil
}

func (f *FakeDevice) CreateDumb(width, height, bpp uint32) (*drm.DumbInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateDumbErr != nil {
		return nil, f.CreateDumbErr
	}
	if width == 0 || height == 0 {
		return nil, unix.EINVAL
	}
	handle := f.allocID()
	pitch := width * bpp / 8
	info := drm.DumbInfo{Handle: handle, Pitch: pitch, Size: uint64(pitch) * uint64(height)}
	f.dumbs[handle] = &fakeDumb{info: info}
	f.record("CreateDumb")
	return &info, nil
}

func (f *FakeDevice) MapDumb(handle uint32) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.dumbs[handle]; !ok {
		return 0, unix.ENOENT
	}
	f.record("MapDumb")
	return uint64(handle) << 12, nil
}

func (f *FakeDevice) DestroyDumb(handle uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.dumbs[handle]; !ok {
		return unix.ENOENT
	}
	delete(f.dumbs, handle)
	f.record("DestroyDumb")
	return nil
}

func (f *FakeDevice) Mmap(offset uint64, size int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.dumbs[uint32(offset>>12)]
	if !ok || uint64(size) > d.info.Size {
		return nil, unix.EINVAL
	}
	if d.data == nil {
		d.data = make([]byte, size)
	}
	f.record("Mmap")
	return d.data, nil
}

func (f *FakeDevice) Munmap(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Munmap")
	return nil
}

func (f *FakeDevice) AddFB(width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AddFBErr != nil {
		return 0, f.AddFBErr
	}
	id := f.allocID()
	f.fbs[id] = drm.FramebufferSpec{
		Width:   width,
		Height:  height,
		Handles: [4]uint32{handle},
		Pitches: [4]uint32{pitch},
	}
	f.record("AddFB")
	return id, nil
}

func (f *FakeDevice) AddFB2(spec *drm.FramebufferSpec) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AddFB2Err != nil {
		return 0, f.AddFB2Err
	}
	if spec.Flags&drm.FBModifiers != 0 && f.Caps[drm.CapAddFB2Modifiers] == 0 {
		return 0, unix.EINVAL
	}
	id := f.allocID()
	f.fbs[id] = *spec
	if spec.Flags&drm.FBModifiers != 0 {
		f.record("AddFB2Modifiers")
	} else {
		f.record("AddFB2")
	}
	return id, nil
}

func (f *FakeDevice) RmFB(id uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.fbs[id]; !ok {
		return unix.ENOENT
	}
	delete(f.fbs, id)
	f.record("RmFB")
	return nil
}

func (f *FakeDevice) Poll(timeout time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events) > 0, nil
}

func (f *FakeDevice) ReadEvents() ([]drm.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := f.events
	f.events = nil
	return events, nil
}

// String describes the fake for test failure messages.
func (f *FakeDevice) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("FakeDevice{connectors: %d, crtcs: %d, planes: %d, fbs: %d}",
		len(f.connectors), len(f.crtcs), len(f.planes), len(f.fbs))
}

var _ drm.Device = (*FakeDevice)(nil)
