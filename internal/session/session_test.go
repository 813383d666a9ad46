package session

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeBus answers logind method calls from a table and records them.
type fakeBus struct {
	mu      sync.Mutex
	calls   []string
	args    [][]interface{}
	replies map[string][]interface{}
	errs    map[string]error
	active  bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{replies: map[string][]interface{}{}, errs: map[string]error{}, active: true}
}

func (b *fakeBus) Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, method)
	b.args = append(b.args, args)
	return &dbus.Call{Method: method, Args: args, Body: b.replies[method], Err: b.errs[method]}
}

func (b *fakeBus) GetProperty(p string) (dbus.Variant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "get "+p)
	return dbus.MakeVariant(b.active), nil
}

func (b *fakeBus) called(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c == method {
			n++
		}
	}
	return n
}

const testPath = dbus.ObjectPath("/org/freedesktop/login1/session/_31")

func TestDirectOpenRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "card0")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	d := NewDirect()
	assert.True(t, d.IsActive())

	fd, err := d.Open(path)
	require.NoError(t, err)
	require.NoError(t, d.Release(fd))
	assert.Error(t, d.Release(fd), "double release")

	_, err = d.Open(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, err = d.Open(path)
	require.NoError(t, err)
	assert.NoError(t, d.Close())
	assert.Empty(t, d.fds)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New("seatd")
	assert.Error(t, err)

	s, err := New("direct")
	require.NoError(t, err)
	assert.IsType(t, &Direct{}, s)
}

func TestLogindTakeAndReleaseDevice(t *testing.T) {
	fd, err := unix.Open("/dev/null", unix.O_RDWR|unix.O_CLOEXEC, 0)
	require.NoError(t, err)

	bus := newFakeBus()
	bus.replies[login1Session+".TakeDevice"] = []interface{}{dbus.UnixFD(fd), false}
	l := newLogind(bus, testPath)

	got, err := l.Open("/dev/null")
	require.NoError(t, err)
	assert.Equal(t, fd, got)
	assert.False(t, l.Paused(got))

	var st unix.Stat_t
	require.NoError(t, unix.Stat("/dev/null", &st))
	assert.Equal(t, []interface{}{unix.Major(uint64(st.Rdev)), unix.Minor(uint64(st.Rdev))}, bus.args[0])

	require.NoError(t, l.Release(got))
	assert.Equal(t, 1, bus.called(login1Session+".ReleaseDevice"))
	assert.Error(t, l.Release(got))
}

func TestLogindTakeDeviceRefused(t *testing.T) {
	bus := newFakeBus()
	bus.errs[login1Session+".TakeDevice"] = errors.New("access denied")
	l := newLogind(bus, testPath)

	_, err := l.Open("/dev/null")
	assert.ErrorContains(t, err, "access denied")
}

func TestLogindActiveProperty(t *testing.T) {
	bus := newFakeBus()
	l := newLogind(bus, testPath)

	var seen []bool
	l.OnActiveChanged(func(active bool) { seen = append(seen, active) })

	changed := func(props map[string]dbus.Variant, invalidated ...string) *dbus.Signal {
		return &dbus.Signal{
			Path: testPath,
			Name: dbusPropertiesIntf + ".PropertiesChanged",
			Body: []interface{}{login1Session, props, invalidated},
		}
	}

	l.handleSignal(changed(map[string]dbus.Variant{"Active": dbus.MakeVariant(false)}))
	assert.False(t, l.IsActive())

	// unchanged value is not reported twice
	l.handleSignal(changed(map[string]dbus.Variant{"Active": dbus.MakeVariant(false)}))

	bus.active = true
	l.handleSignal(changed(map[string]dbus.Variant{}, "Active"))
	assert.True(t, l.IsActive())
	assert.Equal(t, []bool{false, true}, seen)

	other := changed(map[string]dbus.Variant{"Active": dbus.MakeVariant(false)})
	other.Path = "/org/freedesktop/login1/session/_32"
	l.handleSignal(other)
	assert.True(t, l.IsActive(), "signals for other sessions are ignored")
}

func TestLogindPauseResume(t *testing.T) {
	fd, err := unix.Open("/dev/null", unix.O_RDWR|unix.O_CLOEXEC, 0)
	require.NoError(t, err)

	bus := newFakeBus()
	bus.replies[login1Session+".TakeDevice"] = []interface{}{dbus.UnixFD(fd), false}
	l := newLogind(bus, testPath)
	got, err := l.Open("/dev/null")
	require.NoError(t, err)

	var st unix.Stat_t
	require.NoError(t, unix.Stat("/dev/null", &st))
	major, minor := unix.Major(uint64(st.Rdev)), unix.Minor(uint64(st.Rdev))

	pause := func(kind string) *dbus.Signal {
		return &dbus.Signal{Path: testPath, Name: login1Session + ".PauseDevice", Body: []interface{}{major, minor, kind}}
	}

	l.handleSignal(pause("force"))
	assert.True(t, l.Paused(got))
	assert.Zero(t, bus.called(login1Session+".PauseDeviceComplete"))

	l.handleSignal(pause("pause"))
	assert.Equal(t, 1, bus.called(login1Session+".PauseDeviceComplete"))

	dup, err := unix.Dup(fd)
	require.NoError(t, err)
	l.handleSignal(&dbus.Signal{
		Path: testPath,
		Name: login1Session + ".ResumeDevice",
		Body: []interface{}{major, minor, dbus.UnixFD(dup)},
	})
	assert.False(t, l.Paused(got))

	require.NoError(t, l.Close())
	assert.Equal(t, 1, bus.called(login1Session+".ReleaseControl"))
	assert.Equal(t, 1, bus.called(login1Session+".ReleaseDevice"))
	assert.NoError(t, l.Close())
}
