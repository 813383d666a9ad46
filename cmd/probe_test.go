package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/scanout/internal/drm"
	"github.com/bnema/scanout/internal/drm/drmtest"
	"github.com/bnema/scanout/internal/kms"
)

func TestProbeCard(t *testing.T) {
	dev := drmtest.NewFakeDevice()
	dev.AddCrtc()
	dev.AddCrtc()
	dev.AddPlane(drmtest.PlanePrimary, 0b11)
	dev.AddPlane(drmtest.PlanePrimary, 0b11)
	enc := dev.AddEncoder(0b11)
	dev.AddConnector(drm.ConnectorHDMIA, []uint32{enc},
		drmtest.Mode(1280, 720, 60), drmtest.Preferred(drmtest.Mode(1920, 1080, 60)))
	dev.AddConnector(drm.ConnectorDisplayPort, []uint32{enc})

	report, err := probeCard(dev, "/dev/dri/card0", kms.Options{}, true)
	require.NoError(t, err)

	assert.Equal(t, "/dev/dri/card0", report.Path)
	assert.True(t, report.Atomic)
	assert.Equal(t, "fake", report.Caps.Driver)
	assert.Equal(t, 2, report.Crtcs)
	assert.Equal(t, 1, report.Encoders)
	assert.Equal(t, 2, report.Planes)
	require.Len(t, report.Connectors, 2)

	hdmi := report.Connectors[0]
	assert.Equal(t, "HDMI-A-1", hdmi.Name)
	assert.True(t, hdmi.Connected)
	assert.Equal(t, 2, hdmi.Modes)
	assert.Equal(t, "1920x1080@60.00", hdmi.Preferred)
	assert.Equal(t, uint64(8294400), hdmi.Bytes)

	dp := report.Connectors[1]
	assert.Equal(t, "DP-1", dp.Name)
	assert.False(t, dp.Connected)
	assert.Empty(t, dp.Preferred)

	// probing never lights anything up
	assert.Empty(t, dev.Commits())

	view := report.View()
	assert.Contains(t, view, "/dev/dri/card0")
	assert.Contains(t, view, "7.9 MiB per frame")
	assert.Contains(t, view, "DP-1 disconnected")
	assert.Contains(t, view, "2 CRTCs, 1 encoders, 2 connectors, 2 planes")
}

func TestProbeCardLegacy(t *testing.T) {
	dev := drmtest.NewFakeDevice()
	dev.AddCrtc()

	report, err := probeCard(dev, "/dev/dri/card1", kms.Options{}, false)
	require.NoError(t, err)
	assert.False(t, report.Atomic)
	assert.Empty(t, report.Connectors)
	assert.Contains(t, report.View(), "no")
}

func TestPreferredMode(t *testing.T) {
	assert.Nil(t, preferredMode(nil))

	first := drmtest.Mode(1024, 768, 60)
	m := preferredMode([]drm.ModeInfo{first, drmtest.Mode(800, 600, 60)})
	require.NotNil(t, m)
	assert.Equal(t, "1024x768", m.ModeName())

	m = preferredMode([]drm.ModeInfo{first, drmtest.Preferred(drmtest.Mode(2560, 1440, 144))})
	require.NotNil(t, m)
	assert.Equal(t, "2560x1440", m.ModeName())
}
