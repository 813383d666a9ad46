package kms

import (
	"fmt"

	"github.com/bnema/scanout/internal/drm"
)

// Mode is one display timing a connector supports.
type Mode struct {
	drm.ModeInfo
}

func (m Mode) Width() int  { return int(m.Hdisplay) }
func (m Mode) Height() int { return int(m.Vdisplay) }

// RefreshRate returns the refresh rate in mHz.
func (m Mode) RefreshRate() uint32 {
	return RefreshRate(&m.ModeInfo)
}

func (m Mode) Preferred() bool {
	return m.Type&drm.ModeTypePreferred != 0
}

// Equal compares every timing field, flags, type and name.
func (m Mode) Equal(other Mode) bool {
	return m.ModeInfo == other.ModeInfo
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%.2f", m.Hdisplay, m.Vdisplay, float64(m.RefreshRate())/1000)
}

// RefreshRate computes a mode's refresh rate in mHz from its pixel clock
// and totals.
func RefreshRate(m *drm.ModeInfo) uint32 {
	if m.Htotal == 0 || m.Vtotal == 0 {
		return 0
	}
	vtotal := uint64(m.Vtotal)
	rate := (uint64(m.Clock)*1000000/uint64(m.Htotal) + vtotal/2) / vtotal
	if m.Flags&drm.ModeFlagInterlace != 0 {
		rate *= 2
	}
	if m.Flags&drm.ModeFlagDblScan != 0 {
		rate /= 2
	}
	if m.Vscan > 1 {
		rate /= uint64(m.Vscan)
	}
	return uint32(rate)
}
