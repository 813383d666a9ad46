// Package display summarizes the outputs the KMS backend brought up.
package display

import (
	"fmt"
	"math"
	"sort"

	"github.com/bnema/scanout/internal/kms"
)

// Monitor represents one lit connector
type Monitor struct {
	Name        string
	Model       string
	Card        string
	ConnectorID uint32
	CrtcID      uint32
	PlaneID     uint32
	X           int32 // Position in the left-to-right layout
	Y           int32
	Width       int32
	Height      int32
	RefreshMHz  uint32
	WidthMM     uint32
	HeightMM    uint32
	Transform   string
	Internal    bool
	Primary     bool
}

// Bounds returns the monitor's boundaries
func (m *Monitor) Bounds() (x1, y1, x2, y2 int32) {
	return m.X, m.Y, m.X + m.Width, m.Y + m.Height
}

// Contains checks if a point is within this monitor
func (m *Monitor) Contains(x, y int32) bool {
	return x >= m.X && x < m.X+m.Width && y >= m.Y && y < m.Y+m.Height
}

// Refresh formats the refresh rate in Hz.
func (m *Monitor) Refresh() string {
	return fmt.Sprintf("%d.%02d Hz", m.RefreshMHz/1000, m.RefreshMHz%1000/10)
}

// DiagonalInches is zero when the panel reports no physical size.
func (m *Monitor) DiagonalInches() float64 {
	if m.WidthMM == 0 || m.HeightMM == 0 {
		return 0
	}
	w, h := float64(m.WidthMM), float64(m.HeightMM)
	return math.Sqrt(w*w+h*h) / 25.4
}

// Layout manages the monitor summary of a set of outputs
type Layout struct {
	monitors []*Monitor
}

// FromOutputs builds the layout. Monitors are ordered by connector id and
// placed side by side starting at the origin.
func FromOutputs(outputs []*kms.Output) *Layout {
	monitors := make([]*Monitor, 0, len(outputs))
	for _, o := range outputs {
		monitors = append(monitors, fromOutput(o))
	}
	sort.SliceStable(monitors, func(i, j int) bool {
		return monitors[i].ConnectorID < monitors[j].ConnectorID
	})

	var x int32
	for _, m := range monitors {
		m.X = x
		x += m.Width
	}
	determinePrimaryMonitor(monitors)
	return &Layout{monitors: monitors}
}

func fromOutput(o *kms.Output) *Monitor {
	mode := o.Mode()
	w, h := o.PhysicalSize()
	m := &Monitor{
		Name:        o.Name(),
		Model:       o.ModelName(),
		ConnectorID: o.Connector().ID(),
		CrtcID:      o.Crtc().ID(),
		Width:       int32(mode.Width()),
		Height:      int32(mode.Height()),
		RefreshMHz:  o.RefreshRate(),
		WidthMM:     w,
		HeightMM:    h,
		Transform:   o.Transform().String(),
		Internal:    o.IsInternal(),
	}
	if p := o.PrimaryPlane(); p != nil {
		m.PlaneID = p.ID()
	}
	if g := o.GPU(); g != nil {
		m.Card = g.Path()
	}
	return m
}

// GetMonitors returns all monitors
func (l *Layout) GetMonitors() []*Monitor {
	return l.monitors
}

// GetPrimaryMonitor returns the primary monitor
func (l *Layout) GetPrimaryMonitor() *Monitor {
	for _, m := range l.monitors {
		if m.Primary {
			return m
		}
	}
	return nil
}

// GetMonitorAt returns the monitor containing the given coordinates
func (l *Layout) GetMonitorAt(x, y int32) *Monitor {
	for _, m := range l.monitors {
		if m.Contains(x, y) {
			return m
		}
	}
	return nil
}

// Size is the bounding box of every monitor.
func (l *Layout) Size() (width, height int32) {
	for _, m := range l.monitors {
		_, _, x2, y2 := m.Bounds()
		width = max(width, x2)
		height = max(height, y2)
	}
	return width, height
}

// determinePrimaryMonitor marks the first internal panel as primary, with
// fallback to the lowest connector id
func determinePrimaryMonitor(monitors []*Monitor) {
	var primary *Monitor
	for _, m := range monitors {
		m.Primary = false
		if m.Internal && primary == nil {
			primary = m
		}
	}
	if primary == nil {
		for _, m := range monitors {
			if primary == nil || m.ConnectorID < primary.ConnectorID {
				primary = m
			}
		}
	}
	if primary != nil {
		primary.Primary = true
	}
}
