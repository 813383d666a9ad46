package kms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bnema/scanout/internal/drm"
)

func TestProbeCapabilities(t *testing.T) {
	r := newRig()
	r.dev.Driver = "nvidia-drm"
	r.dev.Caps[drm.CapCursorWidth] = 256
	delete(r.dev.Caps, drm.CapCursorHeight)

	g := r.gpu(t, false)
	caps := g.Capabilities()
	assert.Equal(t, uint32(256), caps.CursorWidth)
	assert.Equal(t, uint32(defaultCursorSize), caps.CursorHeight)
	assert.Equal(t, ClockMonotonic, caps.PresentationClock)
	assert.True(t, caps.AddFB2Modifiers)
	assert.True(t, caps.ProprietaryDriver)

	r.dev.Caps[drm.CapTimestampMonotonic] = 0
	g = r.gpu(t, false, func(o *Options) { o.DisableModifiers = true })
	assert.Equal(t, ClockRealtime, g.PresentationClock())
	assert.False(t, g.Capabilities().AddFB2Modifiers)
}

func TestAtomicFallsBackWithoutPlanes(t *testing.T) {
	r := newRig()
	r.crtc()
	r.connector(drm.ConnectorHDMIA, 0b1)

	g := NewGPU(r.dev, "card0", Options{Session: r.session})
	assert.False(t, g.EnableAtomicMode())
	assert.False(t, g.AtomicModeSetting())

	require.NoError(t, g.RescanOutputs())
	require.Len(t, g.Outputs(), 1)
	assert.Nil(t, g.Outputs()[0].PrimaryPlane())
	assert.Len(t, r.dev.LegacyModesets(), 1, "output should come up through SetCrtc")
	assert.Empty(t, r.dev.Commits())
}

func TestAtomicRefusedByKernel(t *testing.T) {
	r := newRig()
	r.dev.AtomicSupported = false
	r.crtc()
	r.primary(0b1)

	g := NewGPU(r.dev, "card0", Options{})
	assert.False(t, g.EnableAtomicMode())
	assert.Empty(t, g.Planes())
}

func TestRescanBringsUpOutputBlank(t *testing.T) {
	r, g, o := single(t, true)

	assert.Equal(t, "HDMI-A-1", o.Name())
	assert.Equal(t, 1920, o.Mode().Width())
	assert.Equal(t, uint32(60000), o.RefreshRate())
	assert.Equal(t, []string{"HDMI-A-1"}, r.listener.added)
	assert.True(t, o.HasHardwareCursor())
	assert.False(t, g.SoftwareCursorForced())

	commits := r.dev.Commits()
	require.Len(t, commits, 1)
	blank := commits[0]
	assert.NotZero(t, blank.Flags&drm.AtomicAllowModeset)
	assert.Zero(t, blank.Flags&drm.PageFlipEvent, "blanking must not request an event")
	v, ok := blank.Value(r.dev, r.connectors[0], "CRTC_ID")
	require.True(t, ok)
	assert.Equal(t, uint64(r.crtcs[0]), v)
	v, _ = blank.Value(r.dev, r.crtcs[0], "ACTIVE")
	assert.Equal(t, uint64(1), v)
	assert.Equal(t, 0, r.dev.PendingEvents())
	assert.GreaterOrEqual(t, r.dev.TestCommits(), 2, "matching and blanking both test first")
}

func TestRescanSkipsNonDesktopAndDisconnected(t *testing.T) {
	r := newRig()
	r.crtc()
	r.crtc()
	r.primary(0b11)
	r.primary(0b11)
	hmd := r.connector(drm.ConnectorHDMIA, 0b11)
	r.dev.SetNonDesktop(hmd)
	r.dev.AddConnector(drm.ConnectorDisplayPort, nil)

	g := r.gpu(t, true)
	require.NoError(t, g.RescanOutputs())
	assert.Empty(t, g.Outputs())
}

func TestRescanRemovesDisconnectedOutput(t *testing.T) {
	r, g, o := single(t, true)
	require.Empty(t, g.UnusedPlanes())

	r.dev.SetConnected(r.connectors[0], false)
	require.NoError(t, g.RescanOutputs())

	assert.Empty(t, g.Outputs())
	assert.True(t, o.IsDeleted())
	assert.Equal(t, []string{"HDMI-A-1"}, r.listener.removed)
	assert.Len(t, g.UnusedPlanes(), 1)

	// reconnecting gets a fresh output on the same hardware
	r.dev.SetConnected(r.connectors[0], true, o.Mode().ModeInfo)
	require.NoError(t, g.RescanOutputs())
	require.Len(t, g.Outputs(), 1)
	assert.NotSame(t, o, g.Outputs()[0])
}

func TestTeardownWaitsForPendingFlip(t *testing.T) {
	r, g, o := single(t, true)
	r.dev.DeferFlipEvent = true

	require.NoError(t, o.Present(g.NewDumbBuffer(1920, 1080)))
	r.dev.SetConnected(r.connectors[0], false)
	require.NoError(t, g.RescanOutputs())

	assert.Empty(t, g.Outputs())
	assert.Empty(t, g.UnusedPlanes(), "plane stays reserved while the flip is in flight")
	assert.False(t, o.finalized)

	r.dev.ReleaseFlips()
	require.NoError(t, g.DispatchEvents())
	assert.True(t, o.finalized)
	assert.Len(t, g.UnusedPlanes(), 1)
	assert.Zero(t, o.RenderLoop().Frames(), "removed outputs report no frames")
}

func TestOnReleasedWaitsForPendingFlip(t *testing.T) {
	r, g, o := single(t, true)
	r.dev.DeferFlipEvent = true

	released := 0
	var removedFirst bool
	r.listener.onRemoved = func(*Output) {
		o.OnReleased(func() { released++ })
		removedFirst = released == 0
	}

	require.NoError(t, o.Present(g.NewDumbBuffer(1920, 1080)))
	r.dev.SetConnected(r.connectors[0], false)
	require.NoError(t, g.RescanOutputs())
	assert.True(t, removedFirst)
	assert.Zero(t, released, "buffers are still scanned out")

	r.dev.ReleaseFlips()
	require.NoError(t, g.DispatchEvents())
	assert.Equal(t, 1, released)
}

func TestOnReleasedRunsAtOnceWhenIdle(t *testing.T) {
	r, g, o := single(t, true)

	r.dev.SetConnected(r.connectors[0], false)
	require.NoError(t, g.RescanOutputs())
	require.True(t, o.finalized)

	released := 0
	o.OnReleased(func() { released++ })
	assert.Equal(t, 1, released)
}

func TestInitFailureRejectsPair(t *testing.T) {
	r := newRig()
	crtc0 := r.crtc()
	crtc1 := r.crtc()
	r.connector(drm.ConnectorHDMIA, 0b11)
	r.dev.SetCrtcCheck = func(crtcID, fbID uint32, connectors []uint32) error {
		if crtcID == crtc0 {
			return unix.EINVAL
		}
		return nil
	}

	g := r.gpu(t, false)
	require.NoError(t, g.RescanOutputs())
	require.Len(t, g.Outputs(), 1)
	assert.Equal(t, crtc1, g.Outputs()[0].Crtc().ID())
}

func TestDispatchEventsCompletesFrame(t *testing.T) {
	r, g, o := single(t, true)

	var flippedBeforeRequest []bool
	o.RenderLoop().OnFrameRequested(func() {
		flippedBeforeRequest = append(flippedBeforeRequest, !o.PageFlipPending())
	})

	require.NoError(t, o.Present(g.NewDumbBuffer(1920, 1080)))
	assert.True(t, o.PageFlipPending())
	require.Equal(t, 1, r.dev.PendingEvents())

	require.NoError(t, g.DispatchEvents())
	assert.False(t, o.PageFlipPending())
	assert.Equal(t, []bool{true}, flippedBeforeRequest, "next frame must be requested after the flip is booked")
	assert.Equal(t, uint64(1), o.RenderLoop().Frames())
	assert.Equal(t, time.Second, o.RenderLoop().LastPresentation())
}

func TestDispatchEventsIgnoredWhileInactive(t *testing.T) {
	r, g, o := single(t, true)
	require.NoError(t, o.Present(g.NewDumbBuffer(1920, 1080)))

	r.session.active = false
	require.NoError(t, g.DispatchEvents())
	assert.True(t, o.PageFlipPending())
	assert.Equal(t, 1, r.dev.PendingEvents())
}

func TestWaitIdle(t *testing.T) {
	t.Run("drains events even when inactive", func(t *testing.T) {
		r, g, o := single(t, true)
		require.NoError(t, o.Present(g.NewDumbBuffer(1920, 1080)))
		r.session.active = false

		require.NoError(t, g.WaitIdle())
		assert.False(t, o.PageFlipPending())
	})

	t.Run("times out", func(t *testing.T) {
		r, g, o := single(t, true)
		r.dev.DeferFlipEvent = true
		require.NoError(t, o.Present(g.NewDumbBuffer(1920, 1080)))

		assert.ErrorIs(t, g.WaitIdle(), ErrIdleTimeout)
		assert.True(t, o.PageFlipPending())
	})

	t.Run("idle returns at once", func(t *testing.T) {
		_, g, _ := single(t, true)
		assert.NoError(t, g.WaitIdle())
	})
}

func TestSessionSwitchForcesModeset(t *testing.T) {
	r, g, o := single(t, true)

	r.session.active = false
	g.SetSessionActive(false)
	assert.True(t, o.RenderLoop().IsInhibited())
	assert.ErrorIs(t, o.Present(g.NewDumbBuffer(1920, 1080)), ErrSessionInactive)

	requested := 0
	o.RenderLoop().OnFrameRequested(func() { requested++ })
	r.session.active = true
	g.SetSessionActive(true)
	assert.False(t, o.RenderLoop().IsInhibited())
	assert.Equal(t, 1, requested)

	require.NoError(t, o.Present(g.NewDumbBuffer(1920, 1080)))
	commits := r.dev.Commits()
	last := commits[len(commits)-1]
	assert.NotZero(t, last.Flags&drm.AtomicAllowModeset)
	assert.NotZero(t, last.Flags&drm.PageFlipEvent)
}

func TestCloseReleasesEverything(t *testing.T) {
	r, g, o := single(t, true)
	require.NoError(t, o.Present(g.NewDumbBuffer(1920, 1080)))

	require.NoError(t, g.Close())
	assert.True(t, r.dev.Closed())
	assert.True(t, o.finalized)
	assert.Empty(t, g.Outputs())
	assert.Equal(t, []string{"HDMI-A-1"}, r.listener.removed)
	assert.Zero(t, r.dev.Blobs(), "mode blobs must be destroyed")

	require.NoError(t, g.Close(), "closing twice is harmless")
}
