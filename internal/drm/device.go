package drm

import "time"

// Device is the downward interface to one DRM card. Card implements it over
// a real descriptor; drmtest.FakeDevice implements it in memory.
type Device interface {
	Fd() int
	Close() error

	DriverName() (string, error)
	GetCap(capability uint64) (uint64, error)
	SetClientCap(capability, value uint64) error

	Resources() (*Resources, error)
	Connector(id uint32) (*ConnectorInfo, error)
	Encoder(id uint32) (*EncoderInfo, error)
	Crtc(id uint32) (*CrtcInfo, error)
	PlaneResources() ([]uint32, error)
	Plane(id uint32) (*PlaneInfo, error)

	ObjectProperties(objectID, objectType uint32) ([]PropertyValue, error)
	Property(id uint32) (*Property, error)
	PropertyBlob(id uint32) ([]byte, error)
	CreatePropertyBlob(data []byte) (uint32, error)
	DestroyPropertyBlob(id uint32) error
	SetConnectorProperty(connectorID, propertyID uint32, value uint64) error

	AtomicCommit(req *AtomicRequest, flags uint32, userData uint64) error
	SetCrtc(crtcID, fbID uint32, x, y uint32, connectors []uint32, mode *ModeInfo) error
	PageFlip(crtcID, fbID, flags uint32, userData uint64) error
	SetCursor(crtcID, handle, width, height uint32) error
	MoveCursor(crtcID uint32, x, y int32) error

	CreateDumb(width, height, bpp uint32) (*DumbInfo, error)
	MapDumb(handle uint32) (uint64, error)
	DestroyDumb(handle uint32) error
	Mmap(offset uint64, size int) ([]byte, error)
	Munmap(data []byte) error

	AddFB(width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error)
	AddFB2(spec *FramebufferSpec) (uint32, error)
	RmFB(id uint32) error

	// Poll waits up to timeout for the descriptor to become readable.
	Poll(timeout time.Duration) (bool, error)
	// ReadEvents reads and decodes pending completion events.
	ReadEvents() ([]Event, error)
}
