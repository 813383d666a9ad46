package drm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	drmIoctlBase = 'd'
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<iocDirShift | size<<iocSizeShift | drmIoctlBase<<iocTypeShift | nr<<iocNRShift
}

func iowr(nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, nr, size) }
func iow(nr, size uintptr) uintptr  { return ioc(iocWrite, nr, size) }

type sysVersion struct {
	Major, Minor, Patch int32
	_                   int32
	NameLen             uint64
	Name                uint64
	DateLen             uint64
	Date                uint64
	DescLen             uint64
	Desc                uint64
}

type sysCap struct {
	Capability uint64
	Value      uint64
}

type sysResources struct {
	FbIDPtr, CrtcIDPtr, ConnectorIDPtr, EncoderIDPtr     uint64
	CountFbs, CountCrtcs, CountConnectors, CountEncoders uint32
	MinWidth, MaxWidth, MinHeight, MaxHeight             uint32
}

type sysCrtc struct {
	SetConnectorsPtr uint64
	CountConnectors  uint32
	ID               uint32
	FbID             uint32
	X, Y             uint32
	GammaSize        uint32
	ModeValid        uint32
	Mode             ModeInfo
}

type sysEncoder struct {
	ID             uint32
	Type           uint32
	CrtcID         uint32
	PossibleCrtcs  uint32
	PossibleClones uint32
}

type sysConnector struct {
	EncodersPtr   uint64
	ModesPtr      uint64
	PropsPtr      uint64
	PropValuesPtr uint64

	CountModes    uint32
	CountProps    uint32
	CountEncoders uint32

	EncoderID  uint32
	ID         uint32
	Type       uint32
	TypeID     uint32
	Connection uint32
	MMWidth    uint32
	MMHeight   uint32
	Subpixel   uint32
	_          uint32
}

type sysProperty struct {
	ValuesPtr      uint64
	EnumBlobPtr    uint64
	ID             uint32
	Flags          uint32
	Name           [32]uint8
	CountValues    uint32
	CountEnumBlobs uint32
}

type sysPropertyEnum struct {
	Value uint64
	Name  [32]uint8
}

type sysConnectorSetProperty struct {
	Value       uint64
	PropID      uint32
	ConnectorID uint32
}

type sysGetBlob struct {
	ID     uint32
	Length uint32
	Data   uint64
}

type sysCreateBlob struct {
	Data   uint64
	Length uint32
	ID     uint32
}

type sysDestroyBlob struct {
	ID uint32
}

type sysFBCmd struct {
	FbID          uint32
	Width, Height uint32
	Pitch         uint32
	Bpp           uint32
	Depth         uint32
	Handle        uint32
}

type sysFBCmd2 struct {
	FbID          uint32
	Width, Height uint32
	PixelFormat   uint32
	Flags         uint32
	Handles       [4]uint32
	Pitches       [4]uint32
	Offsets       [4]uint32
	Modifier      [4]uint64
}

type sysPageFlip struct {
	CrtcID   uint32
	FbID     uint32
	Flags    uint32
	Reserved uint32
	UserData uint64
}

type sysCursor struct {
	Flags         uint32
	CrtcID        uint32
	X, Y          int32
	Width, Height uint32
	Handle        uint32
}

type sysCreateDumb struct {
	Height, Width uint32
	Bpp           uint32
	Flags         uint32
	Handle        uint32
	Pitch         uint32
	Size          uint64
}

type sysMapDumb struct {
	Handle uint32
	_      uint32
	Offset uint64
}

type sysDestroyDumb struct {
	Handle uint32
}

type sysPlaneResources struct {
	PlaneIDPtr  uint64
	CountPlanes uint32
	_           uint32
}

type sysPlane struct {
	ID               uint32
	CrtcID           uint32
	FbID             uint32
	PossibleCrtcs    uint32
	GammaSize        uint32
	CountFormatTypes uint32
	FormatTypePtr    uint64
}

type sysObjProperties struct {
	PropsPtr      uint64
	PropValuesPtr uint64
	CountProps    uint32
	ObjID         uint32
	ObjType       uint32
	_             uint32
}

type sysAtomic struct {
	Flags         uint32
	CountObjs     uint32
	ObjsPtr       uint64
	CountPropsPtr uint64
	PropsPtr      uint64
	PropValuesPtr uint64
	Reserved      uint64
	UserData      uint64
}

var (
	ioctlVersion          = iowr(0x00, unsafe.Sizeof(sysVersion{}))
	ioctlGetCap           = iowr(0x0c, unsafe.Sizeof(sysCap{}))
	ioctlSetClientCap     = iow(0x0d, unsafe.Sizeof(sysCap{}))
	ioctlModeGetResources = iowr(0xA0, unsafe.Sizeof(sysResources{}))
	ioctlModeGetCrtc      = iowr(0xA1, unsafe.Sizeof(sysCrtc{}))
	ioctlModeSetCrtc      = iowr(0xA2, unsafe.Sizeof(sysCrtc{}))
	ioctlModeCursor       = iowr(0xA3, unsafe.Sizeof(sysCursor{}))
	ioctlModeGetEncoder   = iowr(0xA6, unsafe.Sizeof(sysEncoder{}))
	ioctlModeGetConnector = iowr(0xA7, unsafe.Sizeof(sysConnector{}))
	ioctlModeGetProperty  = iowr(0xAA, unsafe.Sizeof(sysProperty{}))
	ioctlModeSetProperty  = iowr(0xAB, unsafe.Sizeof(sysConnectorSetProperty{}))
	ioctlModeGetPropBlob  = iowr(0xAC, unsafe.Sizeof(sysGetBlob{}))
	ioctlModeAddFB        = iowr(0xAE, unsafe.Sizeof(sysFBCmd{}))
	ioctlModeRmFB         = iowr(0xAF, unsafe.Sizeof(uint32(0)))
	ioctlModePageFlip     = iowr(0xB0, unsafe.Sizeof(sysPageFlip{}))
	ioctlModeCreateDumb   = iowr(0xB2, unsafe.Sizeof(sysCreateDumb{}))
	ioctlModeMapDumb      = iowr(0xB3, unsafe.Sizeof(sysMapDumb{}))
	ioctlModeDestroyDumb  = iowr(0xB4, unsafe.Sizeof(sysDestroyDumb{}))
	ioctlModeGetPlaneRes  = iowr(0xB5, unsafe.Sizeof(sysPlaneResources{}))
	ioctlModeGetPlane     = iowr(0xB6, unsafe.Sizeof(sysPlane{}))
	ioctlModeAddFB2       = iowr(0xB8, unsafe.Sizeof(sysFBCmd2{}))
	ioctlModeObjGetProps  = iowr(0xB9, unsafe.Sizeof(sysObjProperties{}))
	ioctlModeAtomic       = iowr(0xBC, unsafe.Sizeof(sysAtomic{}))
	ioctlModeCreateBlob   = iowr(0xBD, unsafe.Sizeof(sysCreateBlob{}))
	ioctlModeDestroyBlob  = iowr(0xBE, unsafe.Sizeof(sysDestroyBlob{}))
)

func ioctl(fd int, request uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), request, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return errno
		}
	}
}

func ptr[T any](s []T) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}
