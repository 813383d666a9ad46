package drm

import (
	"bytes"
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Card is a Device backed by an open DRM descriptor.
type Card struct {
	fd   int
	path string
	own  bool
}

// Open opens a card node read-write.
func Open(path string) (*Card, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Card{fd: fd, path: path, own: true}, nil
}

// NewCard wraps a descriptor handed out by a session. Close does not close
// the descriptor; the session owns it.
func NewCard(fd int, path string) *Card {
	return &Card{fd: fd, path: path}
}

func (c *Card) Fd() int      { return c.fd }
func (c *Card) Path() string { return c.path }

func (c *Card) Close() error {
	if !c.own || c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

func (c *Card) DriverName() (string, error) {
	var v sysVersion
	if err := ioctl(c.fd, ioctlVersion, unsafe.Pointer(&v)); err != nil {
		return "", err
	}
	name := make([]byte, v.NameLen)
	v.Name = ptr(name)
	v.DateLen, v.DescLen = 0, 0
	if err := ioctl(c.fd, ioctlVersion, unsafe.Pointer(&v)); err != nil {
		return "", err
	}
	runtime.KeepAlive(name)
	return string(bytes.TrimRight(name, "\x00")), nil
}

func (c *Card) GetCap(capability uint64) (uint64, error) {
	arg := sysCap{Capability: capability}
	if err := ioctl(c.fd, ioctlGetCap, unsafe.Pointer(&arg)); err != nil {
		return 0, err
	}
	return arg.Value, nil
}

func (c *Card) SetClientCap(capability, value uint64) error {
	arg := sysCap{Capability: capability, Value: value}
	return ioctl(c.fd, ioctlSetClientCap, unsafe.Pointer(&arg))
}

func (c *Card) Resources() (*Resources, error) {
	for {
		var res sysResources
		if err := ioctl(c.fd, ioctlModeGetResources, unsafe.Pointer(&res)); err != nil {
			return nil, err
		}
		fbs := make([]uint32, res.CountFbs)
		crtcs := make([]uint32, res.CountCrtcs)
		conns := make([]uint32, res.CountConnectors)
		encs := make([]uint32, res.CountEncoders)
		res.FbIDPtr, res.CrtcIDPtr = ptr(fbs), ptr(crtcs)
		res.ConnectorIDPtr, res.EncoderIDPtr = ptr(conns), ptr(encs)
		if err := ioctl(c.fd, ioctlModeGetResources, unsafe.Pointer(&res)); err != nil {
			return nil, err
		}
		runtime.KeepAlive(fbs)
		runtime.KeepAlive(crtcs)
		runtime.KeepAlive(conns)
		runtime.KeepAlive(encs)
		// a hotplug between the two calls changes the counts
		if int(res.CountFbs) != len(fbs) || int(res.CountCrtcs) != len(crtcs) ||
			int(res.CountConnectors) != len(conns) || int(res.CountEncoders) != len(encs) {
			continue
		}
		return &Resources{
			Framebuffers: fbs,
			Crtcs:        crtcs,
			Connectors:   conns,
			Encoders:     encs,
			MinWidth:     res.MinWidth,
			MaxWidth:     res.MaxWidth,
			MinHeight:    res.MinHeight,
			MaxHeight:    res.MaxHeight,
		}, nil
	}
}

func (c *Card) Connector(id uint32) (*ConnectorInfo, error) {
	for {
		conn := sysConnector{ID: id}
		if err := ioctl(c.fd, ioctlModeGetConnector, unsafe.Pointer(&conn)); err != nil {
			return nil, err
		}
		modes := make([]ModeInfo, conn.CountModes)
		encs := make([]uint32, conn.CountEncoders)
		props := make([]uint32, conn.CountProps)
		values := make([]uint64, conn.CountProps)
		conn.ModesPtr, conn.EncodersPtr = ptr(modes), ptr(encs)
		conn.PropsPtr, conn.PropValuesPtr = ptr(props), ptr(values)
		if err := ioctl(c.fd, ioctlModeGetConnector, unsafe.Pointer(&conn)); err != nil {
			return nil, err
		}
		runtime.KeepAlive(modes)
		runtime.KeepAlive(encs)
		runtime.KeepAlive(props)
		runtime.KeepAlive(values)
		if int(conn.CountModes) != len(modes) || int(conn.CountEncoders) != len(encs) ||
			int(conn.CountProps) != len(props) {
			continue
		}
		return &ConnectorInfo{
			ID:         conn.ID,
			EncoderID:  conn.EncoderID,
			Type:       conn.Type,
			TypeID:     conn.TypeID,
			Connection: conn.Connection,
			MMWidth:    conn.MMWidth,
			MMHeight:   conn.MMHeight,
			Subpixel:   conn.Subpixel,
			Modes:      modes,
			Encoders:   encs,
		}, nil
	}
}

func (c *Card) Encoder(id uint32) (*EncoderInfo, error) {
	enc := sysEncoder{ID: id}
	if err := ioctl(c.fd, ioctlModeGetEncoder, unsafe.Pointer(&enc)); err != nil {
		return nil, err
	}
	return &EncoderInfo{
		ID:             enc.ID,
		Type:           enc.Type,
		CrtcID:         enc.CrtcID,
		PossibleCrtcs:  enc.PossibleCrtcs,
		PossibleClones: enc.PossibleClones,
	}, nil
}

func (c *Card) Crtc(id uint32) (*CrtcInfo, error) {
	crtc := sysCrtc{ID: id}
	if err := ioctl(c.fd, ioctlModeGetCrtc, unsafe.Pointer(&crtc)); err != nil {
		return nil, err
	}
	return &CrtcInfo{
		ID:        crtc.ID,
		FbID:      crtc.FbID,
		X:         crtc.X,
		Y:         crtc.Y,
		GammaSize: crtc.GammaSize,
		ModeValid: crtc.ModeValid != 0,
		Mode:      crtc.Mode,
	}, nil
}

func (c *Card) PlaneResources() ([]uint32, error) {
	var res sysPlaneResources
	if err := ioctl(c.fd, ioctlModeGetPlaneRes, unsafe.Pointer(&res)); err != nil {
		return nil, err
	}
	ids := make([]uint32, res.CountPlanes)
	if len(ids) == 0 {
		return ids, nil
	}
	res.PlaneIDPtr = ptr(ids)
	if err := ioctl(c.fd, ioctlModeGetPlaneRes, unsafe.Pointer(&res)); err != nil {
		return nil, err
	}
	runtime.KeepAlive(ids)
	return ids[:min(len(ids), int(res.CountPlanes))], nil
}

func (c *Card) Plane(id uint32) (*PlaneInfo, error) {
	p := sysPlane{ID: id}
	if err := ioctl(c.fd, ioctlModeGetPlane, unsafe.Pointer(&p)); err != nil {
		return nil, err
	}
	formats := make([]uint32, p.CountFormatTypes)
	if len(formats) > 0 {
		p.FormatTypePtr = ptr(formats)
		if err := ioctl(c.fd, ioctlModeGetPlane, unsafe.Pointer(&p)); err != nil {
			return nil, err
		}
		runtime.KeepAlive(formats)
		formats = formats[:min(len(formats), int(p.CountFormatTypes))]
	}
	return &PlaneInfo{
		ID:            p.ID,
		CrtcID:        p.CrtcID,
		FbID:          p.FbID,
		PossibleCrtcs: p.PossibleCrtcs,
		GammaSize:     p.GammaSize,
		Formats:       formats,
	}, nil
}

func (c *Card) ObjectProperties(objectID, objectType uint32) ([]PropertyValue, error) {
	for {
		arg := sysObjProperties{ObjID: objectID, ObjType: objectType}
		if err := ioctl(c.fd, ioctlModeObjGetProps, unsafe.Pointer(&arg)); err != nil {
			return nil, err
		}
		ids := make([]uint32, arg.CountProps)
		values := make([]uint64, arg.CountProps)
		arg.PropsPtr, arg.PropValuesPtr = ptr(ids), ptr(values)
		if err := ioctl(c.fd, ioctlModeObjGetProps, unsafe.Pointer(&arg)); err != nil {
			return nil, err
		}
		runtime.KeepAlive(ids)
		runtime.KeepAlive(values)
		if int(arg.CountProps) != len(ids) {
			continue
		}
		out := make([]PropertyValue, len(ids))
		for i := range ids {
			out[i] = PropertyValue{ID: ids[i], Value: values[i]}
		}
		return out, nil
	}
}

func (c *Card) Property(id uint32) (*Property, error) {
	arg := sysProperty{ID: id}
	if err := ioctl(c.fd, ioctlModeGetProperty, unsafe.Pointer(&arg)); err != nil {
		return nil, err
	}
	values := make([]uint64, arg.CountValues)
	var enums []sysPropertyEnum
	if arg.Flags&(PropEnum|PropBitmask) != 0 {
		enums = make([]sysPropertyEnum, arg.CountEnumBlobs)
	}
	arg.ValuesPtr, arg.EnumBlobPtr = ptr(values), ptr(enums)
	if len(enums) == 0 {
		arg.CountEnumBlobs = 0
	}
	if err := ioctl(c.fd, ioctlModeGetProperty, unsafe.Pointer(&arg)); err != nil {
		return nil, err
	}
	runtime.KeepAlive(values)
	runtime.KeepAlive(enums)

	name, _, _ := bytes.Cut(arg.Name[:], []byte{0})
	prop := &Property{
		ID:     arg.ID,
		Name:   string(name),
		Flags:  arg.Flags,
		Values: values[:min(len(values), int(arg.CountValues))],
	}
	for _, e := range enums {
		n, _, _ := bytes.Cut(e.Name[:], []byte{0})
		prop.Enums = append(prop.Enums, PropertyEnum{Value: e.Value, Name: string(n)})
	}
	return prop, nil
}

func (c *Card) PropertyBlob(id uint32) ([]byte, error) {
	arg := sysGetBlob{ID: id}
	if err := ioctl(c.fd, ioctlModeGetPropBlob, unsafe.Pointer(&arg)); err != nil {
		return nil, err
	}
	data := make([]byte, arg.Length)
	if len(data) == 0 {
		return data, nil
	}
	arg.Data = ptr(data)
	if err := ioctl(c.fd, ioctlModeGetPropBlob, unsafe.Pointer(&arg)); err != nil {
		return nil, err
	}
	runtime.KeepAlive(data)
	return data, nil
}

func (c *Card) CreatePropertyBlob(data []byte) (uint32, error) {
	arg := sysCreateBlob{Data: ptr(data), Length: uint32(len(data))}
	err := ioctl(c.fd, ioctlModeCreateBlob, unsafe.Pointer(&arg))
	runtime.KeepAlive(data)
	if err != nil {
		return 0, err
	}
	return arg.ID, nil
}

func (c *Card) DestroyPropertyBlob(id uint32) error {
	arg := sysDestroyBlob{ID: id}
	return ioctl(c.fd, ioctlModeDestroyBlob, unsafe.Pointer(&arg))
}

func (c *Card) SetConnectorProperty(connectorID, propertyID uint32, value uint64) error {
	arg := sysConnectorSetProperty{Value: value, PropID: propertyID, ConnectorID: connectorID}
	return ioctl(c.fd, ioctlModeSetProperty, unsafe.Pointer(&arg))
}

func (c *Card) AtomicCommit(req *AtomicRequest, flags uint32, userData uint64) error {
	objs, counts, props, values := req.grouped()
	arg := sysAtomic{
		Flags:         flags,
		CountObjs:     uint32(len(objs)),
		ObjsPtr:       ptr(objs),
		CountPropsPtr: ptr(counts),
		PropsPtr:      ptr(props),
		PropValuesPtr: ptr(values),
		UserData:      userData,
	}
	err := ioctl(c.fd, ioctlModeAtomic, unsafe.Pointer(&arg))
	runtime.KeepAlive(objs)
	runtime.KeepAlive(counts)
	runtime.KeepAlive(props)
	runtime.KeepAlive(values)
	return err
}

func (c *Card) SetCrtc(crtcID, fbID uint32, x, y uint32, connectors []uint32, mode *ModeInfo) error {
	arg := sysCrtc{
		SetConnectorsPtr: ptr(connectors),
		CountConnectors:  uint32(len(connectors)),
		ID:               crtcID,
		FbID:             fbID,
		X:                x,
		Y:                y,
	}
	if mode != nil {
		arg.Mode = *mode
		arg.ModeValid = 1
	}
	err := ioctl(c.fd, ioctlModeSetCrtc, unsafe.Pointer(&arg))
	runtime.KeepAlive(connectors)
	return err
}

func (c *Card) PageFlip(crtcID, fbID, flags uint32, userData uint64) error {
	arg := sysPageFlip{CrtcID: crtcID, FbID: fbID, Flags: flags, UserData: userData}
	return ioctl(c.fd, ioctlModePageFlip, unsafe.Pointer(&arg))
}

func (c *Card) SetCursor(crtcID, handle, width, height uint32) error {
	arg := sysCursor{Flags: cursorBO, CrtcID: crtcID, Width: width, Height: height, Handle: handle}
	return ioctl(c.fd, ioctlModeCursor, unsafe.Pointer(&arg))
}

func (c *Card) MoveCursor(crtcID uint32, x, y int32) error {
	arg := sysCursor{Flags: cursorMove, CrtcID: crtcID, X: x, Y: y}
	return ioctl(c.fd, ioctlModeCursor, unsafe.Pointer(&arg))
}

func (c *Card) CreateDumb(width, height, bpp uint32) (*DumbInfo, error) {
	arg := sysCreateDumb{Width: width, Height: height, Bpp: bpp}
	if err := ioctl(c.fd, ioctlModeCreateDumb, unsafe.Pointer(&arg)); err != nil {
		return nil, err
	}
	return &DumbInfo{Handle: arg.Handle, Pitch: arg.Pitch, Size: arg.Size}, nil
}

func (c *Card) MapDumb(handle uint32) (uint64, error) {
	arg := sysMapDumb{Handle: handle}
	if err := ioctl(c.fd, ioctlModeMapDumb, unsafe.Pointer(&arg)); err != nil {
		return 0, err
	}
	return arg.Offset, nil
}

func (c *Card) DestroyDumb(handle uint32) error {
	arg := sysDestroyDumb{Handle: handle}
	return ioctl(c.fd, ioctlModeDestroyDumb, unsafe.Pointer(&arg))
}

func (c *Card) Mmap(offset uint64, size int) ([]byte, error) {
	return unix.Mmap(c.fd, int64(offset), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (c *Card) Munmap(data []byte) error {
	return unix.Munmap(data)
}

func (c *Card) AddFB(width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error) {
	arg := sysFBCmd{
		Width:  width,
		Height: height,
		Pitch:  pitch,
		Bpp:    uint32(bpp),
		Depth:  uint32(depth),
		Handle: handle,
	}
	if err := ioctl(c.fd, ioctlModeAddFB, unsafe.Pointer(&arg)); err != nil {
		return 0, err
	}
	return arg.FbID, nil
}

func (c *Card) AddFB2(spec *FramebufferSpec) (uint32, error) {
	arg := sysFBCmd2{
		Width:       spec.Width,
		Height:      spec.Height,
		PixelFormat: spec.Format,
		Flags:       spec.Flags,
		Handles:     spec.Handles,
		Pitches:     spec.Pitches,
		Offsets:     spec.Offsets,
	}
	if spec.Flags&FBModifiers != 0 {
		arg.Modifier = spec.Modifiers
	}
	if err := ioctl(c.fd, ioctlModeAddFB2, unsafe.Pointer(&arg)); err != nil {
		return 0, err
	}
	return arg.FbID, nil
}

func (c *Card) RmFB(id uint32) error {
	return ioctl(c.fd, ioctlModeRmFB, unsafe.Pointer(&id))
}

func (c *Card) Poll(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	ms := int(timeout / time.Millisecond)
	if timeout < 0 {
		ms = -1
	}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
	}
}

func (c *Card) ReadEvents() ([]Event, error) {
	buf := make([]byte, 1024)
	n, err := unix.Read(c.fd, buf)
	if err == unix.EAGAIN {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseEvents(buf[:n]), nil
}

var _ Device = (*Card)(nil)
