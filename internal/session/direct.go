package session

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Direct opens device nodes itself. It needs permission on the node and
// never loses the seat.
type Direct struct {
	mu  sync.Mutex
	fds map[int]string
}

func NewDirect() *Direct {
	return &Direct{fds: make(map[int]string)}
}

func (d *Direct) Open(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", path, err)
	}
	d.mu.Lock()
	d.fds[fd] = path
	d.mu.Unlock()
	return fd, nil
}

func (d *Direct) Release(fd int) error {
	d.mu.Lock()
	_, ok := d.fds[fd]
	delete(d.fds, fd)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("fd %d was not opened by this session", fd)
	}
	return unix.Close(fd)
}

func (d *Direct) IsActive() bool             { return true }
func (d *Direct) OnActiveChanged(func(bool)) {}

// Close releases every descriptor still open.
func (d *Direct) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for fd := range d.fds {
		if err := unix.Close(fd); err != nil && first == nil {
			first = err
		}
		delete(d.fds, fd)
	}
	return first
}
