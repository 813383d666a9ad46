package kms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bnema/scanout/internal/drm"
	"github.com/bnema/scanout/internal/drm/drmtest"
)

func TestMatcherFindsBijection(t *testing.T) {
	for _, atomic := range []bool{true, false} {
		name := "legacy"
		if atomic {
			name = "atomic"
		}
		t.Run(name, func(t *testing.T) {
			r := newRig()
			crtc0 := r.crtc()
			crtc1 := r.crtc()
			r.primary(0b11)
			r.primary(0b11)
			// a greedy pick gives the flexible connector crtc0 and starves the other
			flexible := r.connector(drm.ConnectorDisplayPort, 0b11)
			fixed := r.connector(drm.ConnectorHDMIA, 0b01)

			g := r.gpu(t, atomic)
			require.NoError(t, g.RescanOutputs())
			require.Len(t, g.Outputs(), 2)

			assert.Equal(t, crtc1, outputFor(g, flexible).Crtc().ID())
			assert.Equal(t, crtc0, outputFor(g, fixed).Crtc().ID())
		})
	}
}

func TestMatcherNeverDoubleBooks(t *testing.T) {
	r := newRig()
	r.crtc()
	r.crtc()
	r.primary(0b11)
	r.primary(0b11)
	r.connector(drm.ConnectorHDMIA, 0b11)
	r.connector(drm.ConnectorHDMIA, 0b11)
	r.connector(drm.ConnectorDisplayPort, 0b11)

	g := r.gpu(t, true)
	require.NoError(t, g.RescanOutputs())
	require.Len(t, g.Outputs(), 2)

	crtcs := map[uint32]bool{}
	planes := map[uint32]bool{}
	for _, o := range g.Outputs() {
		assert.False(t, crtcs[o.Crtc().ID()], "crtc %d used twice", o.Crtc().ID())
		assert.False(t, planes[o.PrimaryPlane().ID()], "plane %d used twice", o.PrimaryPlane().ID())
		crtcs[o.Crtc().ID()] = true
		planes[o.PrimaryPlane().ID()] = true
	}
	assert.Empty(t, g.UnusedPlanes())
}

func TestMatcherOneCrtcTwoConnectors(t *testing.T) {
	r := newRig()
	r.crtc()
	r.primary(0b1)
	first := r.connector(drm.ConnectorHDMIA, 0b1)
	r.connector(drm.ConnectorHDMIA, 0b1)

	g := r.gpu(t, true)
	require.NoError(t, g.RescanOutputs())
	require.Len(t, g.Outputs(), 1)
	assert.Equal(t, first, g.Outputs()[0].Connector().ID())
}

func TestMatcherSkipsPlanesRejectedByTest(t *testing.T) {
	r := newRig()
	r.crtc()
	bad := r.primary(0b1)
	good := r.primary(0b1)
	r.connector(drm.ConnectorHDMIA, 0b1)

	r.dev.AtomicCheck = func(req *drm.AtomicRequest, flags uint32) error {
		if _, ok := req.Lookup(bad, r.dev.PropertyID("FB_ID")); ok {
			return unix.EINVAL
		}
		return nil
	}

	g := r.gpu(t, true)
	require.NoError(t, g.RescanOutputs())
	require.Len(t, g.Outputs(), 1)
	assert.Equal(t, good, g.Outputs()[0].PrimaryPlane().ID())
}

func TestMatcherLeavesUnmatchableConnectorOut(t *testing.T) {
	r := newRig()
	r.crtc()
	r.primary(0b1)
	// encoder points at a pipe that does not exist
	r.connector(drm.ConnectorVGA, 0b100)
	second := r.connector(drm.ConnectorHDMIA, 0b1)

	g := r.gpu(t, true)
	require.NoError(t, g.RescanOutputs())
	require.Len(t, g.Outputs(), 1)
	assert.Equal(t, second, g.Outputs()[0].Connector().ID())
}

func TestShuffleRebindsOutputs(t *testing.T) {
	r := newRig()
	crtc0 := r.crtc()
	crtc1 := r.crtc()
	r.primary(0b11)
	r.primary(0b11)
	flexible := r.connector(drm.ConnectorDisplayPort, 0b11)
	fixed := r.connector(drm.ConnectorHDMIA, 0b01)
	r.dev.SetConnected(fixed, false)

	g := r.gpu(t, true)
	require.NoError(t, g.RescanOutputs())
	require.Len(t, g.Outputs(), 1)
	require.Equal(t, crtc0, g.Outputs()[0].Crtc().ID())

	r.dev.SetConnected(fixed, true, drmtest.Mode(1280, 1024, 60))
	require.NoError(t, g.RescanOutputs())
	require.Len(t, g.Outputs(), 2)

	assert.Equal(t, crtc1, outputFor(g, flexible).Crtc().ID())
	assert.Equal(t, crtc0, outputFor(g, fixed).Crtc().ID())
	assert.Empty(t, g.UnusedPlanes())
	assert.Equal(t, []string{"DP-1", "HDMI-A-1"}, r.listener.added)
}

func TestShuffleRevertsWhenExistingOutputWouldBeLost(t *testing.T) {
	r := newRig()
	crtc := r.crtc()
	r.primary(0b1)
	existing := r.connector(drm.ConnectorDisplayPort, 0b1)
	late := r.connector(drm.ConnectorHDMIA, 0b1)
	r.dev.SetConnected(late, false)

	g := r.gpu(t, true)
	require.NoError(t, g.RescanOutputs())
	require.Len(t, g.Outputs(), 1)
	o := g.Outputs()[0]
	before := o.Pipeline()

	r.dev.SetConnected(late, true, drmtest.Mode(1920, 1080, 60))
	require.NoError(t, g.RescanOutputs())

	require.Len(t, g.Outputs(), 1)
	assert.Same(t, o, g.Outputs()[0])
	assert.Same(t, before, o.Pipeline(), "binding must survive a failed reshuffle")
	assert.Equal(t, existing, o.Connector().ID())
	assert.Equal(t, crtc, o.Crtc().ID())
	assert.True(t, o.Pipeline().Enabled())
}

func TestShufflePolicies(t *testing.T) {
	// three connectors, two CRTCs: only a relaxed policy accepts a partial win
	build := func(t *testing.T, policy ShufflePolicy) (*rig, *GPU, uint32) {
		r := newRig()
		r.crtc()
		r.crtc()
		r.primary(0b11)
		r.primary(0b11)
		r.connector(drm.ConnectorDisplayPort, 0b11)
		onlyZero := r.connector(drm.ConnectorHDMIA, 0b01)
		other := r.connector(drm.ConnectorHDMIA, 0b01)
		r.dev.SetConnected(onlyZero, false)
		r.dev.SetConnected(other, false)
		g := r.gpu(t, true, func(o *Options) { o.ShufflePolicy = policy })
		require.NoError(t, g.RescanOutputs())
		require.Len(t, g.Outputs(), 1)

		r.dev.SetConnected(onlyZero, true, drmtest.Mode(1920, 1080, 60))
		r.dev.SetConnected(other, true, drmtest.Mode(1920, 1080, 60))
		require.NoError(t, g.RescanOutputs())
		return r, g, onlyZero
	}

	t.Run("strict", func(t *testing.T) {
		_, g, onlyZero := build(t, ShuffleStrict)
		assert.Len(t, g.Outputs(), 1)
		assert.Nil(t, outputFor(g, onlyZero))
	})
	t.Run("relaxed", func(t *testing.T) {
		_, g, onlyZero := build(t, ShuffleRelaxed)
		assert.Len(t, g.Outputs(), 2)
		assert.NotNil(t, outputFor(g, onlyZero))
	})
}

func TestParseShufflePolicy(t *testing.T) {
	p, err := ParseShufflePolicy("Relaxed")
	require.NoError(t, err)
	assert.Equal(t, ShuffleRelaxed, p)

	p, err = ParseShufflePolicy("")
	require.NoError(t, err)
	assert.Equal(t, ShuffleStrict, p)

	_, err = ParseShufflePolicy("greedy")
	assert.Error(t, err)
}
