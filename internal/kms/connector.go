package kms

import (
	"fmt"

	"github.com/bnema/scanout/internal/drm"
	"github.com/bnema/scanout/internal/logger"
)

const (
	propCrtcID     = "CRTC_ID"
	propNonDesktop = "non-desktop"
	propDPMS       = "DPMS"
	propEDID       = "EDID"
	propOverscan   = "overscan"
)

var connectorNames = map[uint32]string{
	drm.ConnectorUnknown:     "Unknown",
	drm.ConnectorVGA:         "VGA",
	drm.ConnectorDVII:        "DVI-I",
	drm.ConnectorDVID:        "DVI-D",
	drm.ConnectorDVIA:        "DVI-A",
	drm.ConnectorComposite:   "Composite",
	drm.ConnectorSVIDEO:      "SVIDEO",
	drm.ConnectorLVDS:        "LVDS",
	drm.ConnectorComponent:   "Component",
	drm.Connector9PinDIN:     "DIN",
	drm.ConnectorDisplayPort: "DP",
	drm.ConnectorHDMIA:       "HDMI-A",
	drm.ConnectorHDMIB:       "HDMI-B",
	drm.ConnectorTV:          "TV",
	drm.ConnectorEDP:         "eDP",
	drm.ConnectorVirtual:     "Virtual",
	drm.ConnectorDSI:         "DSI",
	drm.ConnectorDPI:         "DPI",
	drm.ConnectorWriteback:   "Writeback",
}

// Connector is a physical output port.
type Connector struct {
	object
	info *drm.ConnectorInfo
	edid EDID

	widthMM, heightMM uint32
}

func newConnector(dev drm.Device, id uint32) (*Connector, error) {
	info, err := dev.Connector(id)
	if err != nil {
		return nil, fmt.Errorf("connector %d: %w", id, err)
	}
	c := &Connector{
		object: object{dev: dev, id: id, objType: drm.ObjectConnector},
		info:   info,
	}
	if err := c.initProps([]string{propCrtcID, propNonDesktop, propDPMS, propEDID, propOverscan}); err != nil {
		return nil, err
	}

	// DPMS makes atomic commits fail; legacy mode sets it explicitly
	c.setImmutable(propDPMS)

	if p := c.prop(propEDID); p != nil {
		if p.value != 0 {
			blob, err := dev.PropertyBlob(uint32(p.value))
			if err != nil {
				logger.Warn("could not read EDID", "connector", id, "err", err)
			} else {
				c.edid = ParseEDID(blob)
				if !c.edid.Valid {
					logger.Warn("could not parse EDID", "connector", id)
				}
			}
		}
		c.deleteProp(propEDID)
	}

	if c.edid.WidthMM > 0 && c.edid.HeightMM > 0 {
		c.widthMM, c.heightMM = c.edid.WidthMM, c.edid.HeightMM
	} else {
		c.widthMM, c.heightMM = info.MMWidth, info.MMHeight
	}
	return c, nil
}

// Name returns the kernel-style name, e.g. HDMI-A-1.
func (c *Connector) Name() string {
	return ConnectorName(c.info.Type, c.info.TypeID)
}

// ConnectorName formats a connector type and its per-type index the way
// the kernel names connectors in sysfs.
func ConnectorName(typ, typeID uint32) string {
	name, ok := connectorNames[typ]
	if !ok {
		name = "Unknown"
	}
	return fmt.Sprintf("%s-%d", name, typeID)
}

// ModelName is the EDID monitor name, qualified with the connector name
// when the monitor has no serial number to tell identical panels apart.
func (c *Connector) ModelName() string {
	if c.edid.Name() == "" {
		return c.Name()
	}
	if c.edid.SerialNumber == "" {
		return c.Name() + "-" + c.edid.Name()
	}
	return c.edid.Name()
}

func (c *Connector) Type() uint32 { return c.info.Type }

func (c *Connector) EDID() EDID { return c.edid }

func (c *Connector) Encoders() []uint32 { return c.info.Encoders }

func (c *Connector) Subpixel() uint32 { return c.info.Subpixel }

// IsInternal reports built-in panels.
func (c *Connector) IsInternal() bool {
	switch c.info.Type {
	case drm.ConnectorLVDS, drm.ConnectorEDP, drm.ConnectorDSI:
		return true
	}
	return false
}

// IsNonDesktop reports head-mounted and similar displays that must not be
// used for the desktop.
func (c *Connector) IsNonDesktop() bool {
	return c.value(propNonDesktop) != 0
}

// IsConnected re-reads the connection state from the kernel.
func (c *Connector) IsConnected() bool {
	info, err := c.dev.Connector(c.id)
	if err != nil {
		return false
	}
	return info.Connection == drm.Connected
}

// Modes returns the modes probed when the connector was created.
func (c *Connector) Modes() []Mode {
	modes := make([]Mode, len(c.info.Modes))
	for i, m := range c.info.Modes {
		modes[i] = Mode{m}
	}
	return modes
}

// PreferredMode returns the preferred mode, or the first one.
func (c *Connector) PreferredMode() (Mode, bool) {
	if len(c.info.Modes) == 0 {
		return Mode{}, false
	}
	for _, m := range c.info.Modes {
		if m.Type&drm.ModeTypePreferred != 0 {
			return Mode{m}, true
		}
	}
	return Mode{c.info.Modes[0]}, true
}

// PhysicalSize in millimetres; EDID wins over the kernel's report.
func (c *Connector) PhysicalSize() (widthMM, heightMM uint32) {
	return c.widthMM, c.heightMM
}

func (c *Connector) HasDPMS() bool { return c.hasProp(propDPMS) }

func (c *Connector) HasOverscan() bool { return c.hasProp(propOverscan) }

func (c *Connector) Overscan() uint32 {
	return uint32(c.value(propOverscan))
}

func (c *Connector) String() string {
	return fmt.Sprintf("%s(%d)", c.Name(), c.id)
}
