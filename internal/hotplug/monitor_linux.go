package hotplug

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/bnema/scanout/internal/logger"
)

// kernel uevent multicast group
const ueventGroupKernel = 1

// Monitor listens on the kernel uevent netlink socket. It never blocks:
// callers poll Fd and call Read when it is readable.
type Monitor struct {
	fd  int
	buf []byte
}

func NewMonitor() (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("uevent socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: ueventGroupKernel}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind uevent socket: %w", err)
	}
	return &Monitor{fd: fd, buf: make([]byte, 8192)}, nil
}

func (m *Monitor) Fd() int { return m.fd }

// Read drains every queued message and returns the kernel's uevents.
func (m *Monitor) Read() ([]Event, error) {
	var events []Event
	for {
		n, from, err := unix.Recvfrom(m.fd, m.buf, 0)
		if errors.Is(err, unix.EAGAIN) {
			return events, nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return events, fmt.Errorf("read uevent: %w", err)
		}
		// only the kernel (port 0) is trusted
		if nl, ok := from.(*unix.SockaddrNetlink); !ok || nl.Pid != 0 {
			continue
		}
		ev, ok := ParseUevent(m.buf[:n])
		if !ok {
			continue
		}
		logger.Debug("uevent", "action", ev.Action, "subsystem", ev.Subsystem, "devname", ev.DevName, "hotplug", ev.Hotplug)
		events = append(events, ev)
	}
}

func (m *Monitor) Close() error {
	if m.fd < 0 {
		return nil
	}
	err := unix.Close(m.fd)
	m.fd = -1
	return err
}
