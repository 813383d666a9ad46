package drmtest

import (
	"fmt"

	"github.com/bnema/scanout/internal/drm"
)

// Mode builds a progressive mode with simple blanking. The pixel clock is
// chosen so the computed refresh rate is refreshHz.
func Mode(width, height, refreshHz int) drm.ModeInfo {
	htotal := width + 160
	vtotal := height + 40
	m := drm.ModeInfo{
		Clock:      uint32(htotal * vtotal * refreshHz / 1000),
		Hdisplay:   uint16(width),
		HsyncStart: uint16(width + 48),
		HsyncEnd:   uint16(width + 80),
		Htotal:     uint16(htotal),
		Vdisplay:   uint16(height),
		VsyncStart: uint16(height + 3),
		VsyncEnd:   uint16(height + 8),
		Vtotal:     uint16(vtotal),
		Vrefresh:   uint32(refreshHz),
		Type:       drm.ModeTypeDriver,
	}
	copy(m.Name[:], fmt.Sprintf("%dx%d", width, height))
	return m
}

// Preferred marks a mode as the connector's preferred one.
func Preferred(m drm.ModeInfo) drm.ModeInfo {
	m.Type |= drm.ModeTypePreferred
	return m
}
