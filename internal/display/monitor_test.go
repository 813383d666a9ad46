package display

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/scanout/internal/drm"
	"github.com/bnema/scanout/internal/drm/drmtest"
	"github.com/bnema/scanout/internal/kms"
)

func TestPrimaryMonitorDetermination(t *testing.T) {
	tests := []struct {
		name            string
		monitors        []*Monitor
		expectedPrimary string
	}{
		{
			name: "internal panel wins over lower connector id",
			monitors: []*Monitor{
				{Name: "HDMI-A-1", ConnectorID: 40},
				{Name: "eDP-1", ConnectorID: 50, Internal: true},
			},
			expectedPrimary: "eDP-1",
		},
		{
			name: "first internal panel when there are two",
			monitors: []*Monitor{
				{Name: "DSI-1", ConnectorID: 70, Internal: true},
				{Name: "eDP-1", ConnectorID: 50, Internal: true},
			},
			expectedPrimary: "DSI-1",
		},
		{
			name: "lowest connector id without internal panel",
			monitors: []*Monitor{
				{Name: "DP-2", ConnectorID: 61},
				{Name: "DP-1", ConnectorID: 60},
				{Name: "HDMI-A-1", ConnectorID: 72, Primary: true},
			},
			expectedPrimary: "DP-1",
		},
		{
			name:            "single monitor",
			monitors:        []*Monitor{{Name: "HDMI-A-1", ConnectorID: 1}},
			expectedPrimary: "HDMI-A-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			determinePrimaryMonitor(tt.monitors)

			var primaries []string
			for _, m := range tt.monitors {
				if m.Primary {
					primaries = append(primaries, m.Name)
				}
			}
			assert.Equal(t, []string{tt.expectedPrimary}, primaries)
		})
	}

	assert.NotPanics(t, func() { determinePrimaryMonitor(nil) })
}

func TestFromOutputs(t *testing.T) {
	dev := drmtest.NewFakeDevice()
	dev.AddCrtc()
	dev.AddCrtc()
	dev.AddPlane(drmtest.PlanePrimary, 0b11)
	dev.AddPlane(drmtest.PlanePrimary, 0b11)
	hdmi := dev.AddConnector(drm.ConnectorHDMIA, []uint32{dev.AddEncoder(0b11)},
		drmtest.Preferred(drmtest.Mode(1920, 1080, 60)))
	edp := dev.AddConnector(drm.ConnectorEDP, []uint32{dev.AddEncoder(0b11)},
		drmtest.Preferred(drmtest.Mode(2560, 1600, 120)))

	gpu := kms.NewGPU(dev, "/dev/dri/card0", kms.Options{})
	require.True(t, gpu.EnableAtomicMode())
	require.NoError(t, gpu.RescanOutputs())
	require.Len(t, gpu.Outputs(), 2)

	// reversed on purpose, the layout sorts by connector id
	outputs := gpu.Outputs()
	layout := FromOutputs([]*kms.Output{outputs[1], outputs[0]})
	monitors := layout.GetMonitors()
	require.Len(t, monitors, 2)

	first, second := monitors[0], monitors[1]
	assert.Equal(t, hdmi, first.ConnectorID)
	assert.Equal(t, "HDMI-A-1", first.Name)
	assert.Equal(t, int32(0), first.X)
	assert.Equal(t, int32(1920), first.Width)
	assert.Equal(t, uint32(60000), first.RefreshMHz)
	assert.Equal(t, "60.00 Hz", first.Refresh())
	assert.Equal(t, "/dev/dri/card0", first.Card)
	assert.NotZero(t, first.CrtcID)
	assert.NotZero(t, first.PlaneID)
	assert.Equal(t, "normal", first.Transform)
	assert.False(t, first.Primary)

	assert.Equal(t, edp, second.ConnectorID)
	assert.Equal(t, "eDP-1", second.Name)
	assert.Equal(t, int32(1920), second.X)
	assert.True(t, second.Internal)
	assert.True(t, second.Primary)
	assert.Same(t, second, layout.GetPrimaryMonitor())
	assert.NotEqual(t, first.CrtcID, second.CrtcID)

	w, h := layout.Size()
	assert.Equal(t, int32(1920+2560), w)
	assert.Equal(t, int32(1600), h)

	assert.Same(t, first, layout.GetMonitorAt(100, 100))
	assert.Same(t, second, layout.GetMonitorAt(1920, 1500))
	assert.Nil(t, layout.GetMonitorAt(100, 1200), "below the shorter monitor")
}

func TestMonitorGeometry(t *testing.T) {
	m := &Monitor{X: 1920, Width: 1280, Height: 720, WidthMM: 600, HeightMM: 340, RefreshMHz: 59940}

	x1, y1, x2, y2 := m.Bounds()
	assert.Equal(t, [4]int32{1920, 0, 3200, 720}, [4]int32{x1, y1, x2, y2})
	assert.True(t, m.Contains(1920, 0))
	assert.False(t, m.Contains(3200, 0))
	assert.Equal(t, "59.94 Hz", m.Refresh())
	assert.InDelta(t, 27.15, m.DiagonalInches(), 0.01)

	m.WidthMM = 0
	assert.Zero(t, m.DiagonalInches())
}

func TestEmptyLayout(t *testing.T) {
	layout := FromOutputs(nil)
	assert.Empty(t, layout.GetMonitors())
	assert.Nil(t, layout.GetPrimaryMonitor())
	w, h := layout.Size()
	assert.Zero(t, w)
	assert.Zero(t, h)
}
