package kms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bnema/scanout/internal/drm"
	"github.com/bnema/scanout/internal/drm/drmtest"
)

type fakeSession struct{ active bool }

func (s *fakeSession) IsActive() bool { return s.active }

type fakeClock map[ClockID]time.Duration

func (c fakeClock) read(id ClockID) time.Duration { return c[id] }

type recordingListener struct {
	added, removed []string
	onRemoved      func(*Output)
}

func (l *recordingListener) OutputAdded(o *Output) { l.added = append(l.added, o.Name()) }

func (l *recordingListener) OutputRemoved(o *Output) {
	l.removed = append(l.removed, o.Name())
	if l.onRemoved != nil {
		l.onRemoved(o)
	}
}

// rig is a fake card plus the ids a test needs to poke at it.
type rig struct {
	dev        *drmtest.FakeDevice
	crtcs      []uint32
	connectors []uint32
	planes     []uint32
	session    *fakeSession
	listener   *recordingListener
	clock      fakeClock
}

func newRig() *rig {
	return &rig{
		dev:      drmtest.NewFakeDevice(),
		session:  &fakeSession{active: true},
		listener: &recordingListener{},
		clock:    fakeClock{ClockMonotonic: 10 * time.Second, ClockRealtime: 1000 * time.Second},
	}
}

func (r *rig) crtc() uint32 {
	id := r.dev.AddCrtc()
	r.crtcs = append(r.crtcs, id)
	return id
}

func (r *rig) primary(mask uint32) uint32 {
	id := r.dev.AddPlane(drmtest.PlanePrimary, mask)
	r.planes = append(r.planes, id)
	return id
}

// connector adds a connector with its own encoder limited to crtcMask.
func (r *rig) connector(typ, crtcMask uint32, modes ...drm.ModeInfo) uint32 {
	if len(modes) == 0 {
		modes = []drm.ModeInfo{drmtest.Preferred(drmtest.Mode(1920, 1080, 60))}
	}
	enc := r.dev.AddEncoder(crtcMask)
	id := r.dev.AddConnector(typ, []uint32{enc}, modes...)
	r.connectors = append(r.connectors, id)
	return id
}

func (r *rig) gpu(t *testing.T, atomic bool, tweak ...func(*Options)) *GPU {
	t.Helper()
	opts := Options{
		Session:     r.session,
		Listener:    r.listener,
		Clock:       r.clock.read,
		IdleTimeout: 10 * time.Millisecond,
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	g := NewGPU(r.dev, "/dev/dri/card0", opts)
	if atomic {
		require.True(t, g.EnableAtomicMode(), "atomic mode should come up on %s", r.dev)
	}
	return g
}

// single builds one HDMI connector, one CRTC and one primary plane and
// brings the output up.
func single(t *testing.T, atomic bool) (*rig, *GPU, *Output) {
	t.Helper()
	r := newRig()
	r.crtc()
	r.primary(0b1)
	r.connector(drm.ConnectorHDMIA, 0b1)
	g := r.gpu(t, atomic)
	require.NoError(t, g.RescanOutputs())
	require.Len(t, g.Outputs(), 1)
	return r, g, g.Outputs()[0]
}

func outputFor(g *GPU, connectorID uint32) *Output {
	for _, o := range g.Outputs() {
		if o.Connector().ID() == connectorID {
			return o
		}
	}
	return nil
}

func countCalls(calls []string, name string) int {
	n := 0
	for _, c := range calls {
		if c == name {
			n++
		}
	}
	return n
}
