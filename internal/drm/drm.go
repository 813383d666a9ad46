// Package drm is a thin binding of the Linux DRM/KMS ioctl interface.
//
// It exposes only what the kms package needs: resource and property
// enumeration, capability queries, atomic and legacy commits, dumb buffers,
// framebuffer registration and the completion event stream read from the
// device descriptor.
package drm

// Capabilities queried with GetCap.
const (
	CapDumbBuffer         = 0x1
	CapTimestampMonotonic = 0x6
	CapCursorWidth        = 0x8
	CapCursorHeight       = 0x9
	CapAddFB2Modifiers    = 0x10
)

// Client capabilities set with SetClientCap.
const (
	ClientCapUniversalPlanes = 2
	ClientCapAtomic          = 3
)

// Object types for property queries.
const (
	ObjectCRTC      = 0xcccccccc
	ObjectConnector = 0xc0c0c0c0
	ObjectEncoder   = 0xe0e0e0e0
	ObjectPlane     = 0xeeeeeeee
)

// Atomic and page flip flags.
const (
	PageFlipEvent      = 0x01
	PageFlipAsync      = 0x02
	AtomicTestOnly     = 0x0100
	AtomicNonBlock     = 0x0200
	AtomicAllowModeset = 0x0400
)

// Framebuffer flags for AddFB2.
const (
	FBInterlaced = 1 << 0
	FBModifiers  = 1 << 1
)

// Cursor ioctl flags.
const (
	cursorBO   = 0x01
	cursorMove = 0x02
)

// Connection states.
const (
	Connected         = 1
	Disconnected      = 2
	UnknownConnection = 3
)

// DPMS property values.
const (
	DPMSOn      = 0
	DPMSStandby = 1
	DPMSSuspend = 2
	DPMSOff     = 3
)

// Property flags.
const (
	PropPending   = 1 << 0
	PropRange     = 1 << 1
	PropImmutable = 1 << 2
	PropEnum      = 1 << 3
	PropBlob      = 1 << 4
	PropBitmask   = 1 << 5
	PropAtomic    = 0x80000000
)

// Mode type and flag bits.
const (
	ModeTypePreferred = 1 << 3
	ModeTypeDriver    = 1 << 6

	ModeFlagInterlace = 1 << 4
	ModeFlagDblScan   = 1 << 5
)

// Event types delivered on the device descriptor.
const (
	EventVBlank       = 0x01
	EventFlipComplete = 0x02
)

// Connector types.
const (
	ConnectorUnknown     = 0
	ConnectorVGA         = 1
	ConnectorDVII        = 2
	ConnectorDVID        = 3
	ConnectorDVIA        = 4
	ConnectorComposite   = 5
	ConnectorSVIDEO      = 6
	ConnectorLVDS        = 7
	ConnectorComponent   = 8
	Connector9PinDIN     = 9
	ConnectorDisplayPort = 10
	ConnectorHDMIA       = 11
	ConnectorHDMIB       = 12
	ConnectorTV          = 13
	ConnectorEDP         = 14
	ConnectorVirtual     = 15
	ConnectorDSI         = 16
	ConnectorDPI         = 17
	ConnectorWriteback   = 18
)
