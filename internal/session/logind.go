package session

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/bnema/scanout/internal/logger"
)

const (
	login1Bus          = "org.freedesktop.login1"
	login1Path         = "/org/freedesktop/login1"
	login1Manager      = "org.freedesktop.login1.Manager"
	login1Session      = "org.freedesktop.login1.Session"
	dbusPropertiesIntf = "org.freedesktop.DBus.Properties"
)

// busObject is the part of dbus.BusObject the session calls.
type busObject interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
	GetProperty(p string) (dbus.Variant, error)
}

type device struct {
	major, minor uint32
	paused       bool
}

// Logind takes control of the caller's logind session and receives device
// descriptors through TakeDevice, so no root access to /dev/dri is needed.
type Logind struct {
	conn    *dbus.Conn
	session busObject
	path    dbus.ObjectPath
	signals chan *dbus.Signal

	mu        sync.Mutex
	active    bool
	devices   map[int]*device
	listeners []func(bool)
	done      chan struct{}
}

// NewLogind connects to the system bus, finds the session this process
// belongs to and takes control of it.
func NewLogind() (*Logind, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	path, err := findSession(conn.Object(login1Bus, login1Path))
	if err != nil {
		conn.Close()
		return nil, err
	}
	l := newLogind(conn.Object(login1Bus, path), path)
	l.conn = conn

	if err := l.session.Call(login1Session+".TakeControl", 0, false).Err; err != nil {
		conn.Close()
		return nil, fmt.Errorf("take control of %s: %w", path, err)
	}
	if err := l.refreshActive(); err != nil {
		logger.Warn("could not read session state, assuming active", "err", err)
	}

	for _, member := range []string{"PauseDevice", "ResumeDevice"} {
		if err := conn.AddMatchSignal(
			dbus.WithMatchObjectPath(path),
			dbus.WithMatchInterface(login1Session),
			dbus.WithMatchMember(member),
		); err != nil {
			l.Close()
			return nil, fmt.Errorf("subscribe to %s: %w", member, err)
		}
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(dbusPropertiesIntf),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		l.Close()
		return nil, fmt.Errorf("subscribe to property changes: %w", err)
	}

	l.signals = make(chan *dbus.Signal, 16)
	conn.Signal(l.signals)
	go l.watch()

	logger.Info("using logind session", "path", path, "active", l.IsActive())
	return l, nil
}

func newLogind(obj busObject, path dbus.ObjectPath) *Logind {
	return &Logind{
		session: obj,
		path:    path,
		active:  true,
		devices: make(map[int]*device),
		done:    make(chan struct{}),
	}
}

func findSession(manager busObject) (dbus.ObjectPath, error) {
	var path dbus.ObjectPath
	err := manager.Call(login1Manager+".GetSessionByPID", 0, uint32(os.Getpid())).Store(&path)
	if err == nil {
		return path, nil
	}
	if id := os.Getenv("XDG_SESSION_ID"); id != "" {
		if err := manager.Call(login1Manager+".GetSession", 0, id).Store(&path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no logind session for pid %d: %w", os.Getpid(), err)
}

func (l *Logind) refreshActive() error {
	v, err := l.session.GetProperty(login1Session + ".Active")
	if err != nil {
		return err
	}
	active, ok := v.Value().(bool)
	if !ok {
		return fmt.Errorf("unexpected Active type %s", v.Signature())
	}
	l.setActive(active)
	return nil
}

// Open asks logind for the device behind path.
func (l *Logind) Open(path string) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return -1, fmt.Errorf("stat %s: %w", path, err)
	}
	major, minor := unix.Major(uint64(st.Rdev)), unix.Minor(uint64(st.Rdev))

	var fd dbus.UnixFD
	var inactive bool
	if err := l.session.Call(login1Session+".TakeDevice", 0, major, minor).Store(&fd, &inactive); err != nil {
		return -1, fmt.Errorf("take device %s: %w", path, err)
	}
	if err := unix.SetNonblock(int(fd), true); err != nil {
		logger.Debug("could not make device non-blocking", "path", path, "err", err)
	}

	l.mu.Lock()
	l.devices[int(fd)] = &device{major: major, minor: minor, paused: inactive}
	l.mu.Unlock()
	logger.Debug("took device", "path", path, "major", major, "minor", minor, "fd", int(fd))
	return int(fd), nil
}

func (l *Logind) Release(fd int) error {
	l.mu.Lock()
	dev, ok := l.devices[fd]
	delete(l.devices, fd)
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("fd %d was not taken from logind", fd)
	}
	err := l.session.Call(login1Session+".ReleaseDevice", 0, dev.major, dev.minor).Err
	return errors.Join(err, unix.Close(fd))
}

func (l *Logind) IsActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *Logind) OnActiveChanged(fn func(bool)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

func (l *Logind) setActive(active bool) {
	l.mu.Lock()
	if l.active == active {
		l.mu.Unlock()
		return
	}
	l.active = active
	listeners := append([]func(bool){}, l.listeners...)
	l.mu.Unlock()

	logger.Info("session state changed", "active", active)
	for _, fn := range listeners {
		fn(active)
	}
}

func (l *Logind) watch() {
	for {
		select {
		case <-l.done:
			return
		case sig, ok := <-l.signals:
			if !ok {
				return
			}
			l.handleSignal(sig)
		}
	}
}

func (l *Logind) handleSignal(sig *dbus.Signal) {
	if sig.Path != l.path {
		return
	}
	switch sig.Name {
	case login1Session + ".PauseDevice":
		var major, minor uint32
		var kind string
		if err := dbus.Store(sig.Body, &major, &minor, &kind); err != nil {
			logger.Warn("malformed PauseDevice", "err", err)
			return
		}
		l.pauseDevice(major, minor, kind)
	case login1Session + ".ResumeDevice":
		var major, minor uint32
		var fd dbus.UnixFD
		if err := dbus.Store(sig.Body, &major, &minor, &fd); err != nil {
			logger.Warn("malformed ResumeDevice", "err", err)
			return
		}
		l.resumeDevice(major, minor, int(fd))
	case dbusPropertiesIntf + ".PropertiesChanged":
		var iface string
		var changed map[string]dbus.Variant
		var invalidated []string
		if err := dbus.Store(sig.Body, &iface, &changed, &invalidated); err != nil || iface != login1Session {
			return
		}
		if v, ok := changed["Active"]; ok {
			if active, ok := v.Value().(bool); ok {
				l.setActive(active)
			}
			return
		}
		for _, name := range invalidated {
			if name == "Active" {
				if err := l.refreshActive(); err != nil {
					logger.Warn("could not refresh session state", "err", err)
				}
			}
		}
	}
}

func (l *Logind) pauseDevice(major, minor uint32, kind string) {
	l.mu.Lock()
	for _, dev := range l.devices {
		if dev.major == major && dev.minor == minor {
			dev.paused = true
		}
	}
	l.mu.Unlock()
	logger.Debug("device paused", "major", major, "minor", minor, "type", kind)

	// "force" and "gone" are not acknowledged
	if kind == "pause" {
		if err := l.session.Call(login1Session+".PauseDeviceComplete", 0, major, minor).Err; err != nil {
			logger.Warn("PauseDeviceComplete failed", "major", major, "minor", minor, "err", err)
		}
	}
}

func (l *Logind) resumeDevice(major, minor uint32, fd int) {
	l.mu.Lock()
	for _, dev := range l.devices {
		if dev.major == major && dev.minor == minor {
			dev.paused = false
		}
	}
	l.mu.Unlock()
	logger.Debug("device resumed", "major", major, "minor", minor)

	// DRM nodes keep their original descriptor, the new one is a duplicate
	if fd >= 0 {
		_ = unix.Close(fd)
	}
}

// Paused reports whether logind paused the device behind fd.
func (l *Logind) Paused(fd int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	dev, ok := l.devices[fd]
	return ok && dev.paused
}

// Close releases every device and drops control of the session.
func (l *Logind) Close() error {
	select {
	case <-l.done:
		return nil
	default:
		close(l.done)
	}

	l.mu.Lock()
	fds := make([]int, 0, len(l.devices))
	for fd := range l.devices {
		fds = append(fds, fd)
	}
	l.mu.Unlock()

	var errs []error
	for _, fd := range fds {
		errs = append(errs, l.Release(fd))
	}
	if err := l.session.Call(login1Session+".ReleaseControl", 0).Err; err != nil {
		errs = append(errs, err)
	}
	if l.conn != nil {
		if l.signals != nil {
			l.conn.RemoveSignal(l.signals)
		}
		errs = append(errs, l.conn.Close())
	}
	return errors.Join(errs...)
}
