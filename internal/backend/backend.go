// Package backend drives every card on the seat from one event loop: it
// opens devices through the session, dispatches page-flip completions,
// rescans on hotplug and asks a Painter for frames.
package backend

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bnema/scanout/internal/drm"
	"github.com/bnema/scanout/internal/hotplug"
	"github.com/bnema/scanout/internal/kms"
	"github.com/bnema/scanout/internal/logger"
	"github.com/bnema/scanout/internal/session"
)

// Painter renders and presents one frame on an output. It is called from
// the event loop whenever the output's render loop asked for a frame.
type Painter interface {
	Paint(o *kms.Output) error
	// Forget drops per-output state once the output is gone.
	Forget(o *kms.Output)
}

// Options configure device discovery and mode setting.
type Options struct {
	// Paths lists card nodes to drive. Empty means every card in CardDir.
	Paths   []string
	CardDir string
	// DisableAtomic keeps every card on the legacy API.
	DisableAtomic bool
	// GPU is the template for each card; Session and Listener are set by
	// the backend.
	GPU kms.Options
	// Hotplug listens for connector changes and cards coming and going.
	Hotplug bool
	// OnFrame observes every completed frame with its normalised time.
	OnFrame func(o *kms.Output, ts time.Duration)
}

// cardSettleDelay is how long a new card node is left alone before opening.
var cardSettleDelay = 100 * time.Millisecond

type card struct {
	path string
	fd   int
	gpu  *kms.GPU
}

// Backend owns the cards of one seat.
type Backend struct {
	session  session.Session
	opts     Options
	cards    []*card
	outputs  []*kms.Output
	listener kms.Listener
	painter  Painter
	due      map[*kms.Output]bool

	monitor *hotplug.Monitor
	watcher *hotplug.CardWatcher

	wake   int
	mu     sync.Mutex
	posted []func()
	closed bool
}

// New creates a backend on sess. Devices are opened by Start or AddDevice.
func New(sess session.Session, opts Options) (*Backend, error) {
	if opts.CardDir == "" {
		opts.CardDir = hotplug.DefaultCardDir
	}
	wake, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("create wake eventfd: %w", err)
	}
	b := &Backend{
		session: sess,
		opts:    opts,
		due:     make(map[*kms.Output]bool),
		wake:    wake,
	}
	sess.OnActiveChanged(func(active bool) {
		b.post(func() { b.setSessionActive(active) })
	})
	return b, nil
}

func (b *Backend) SetListener(l kms.Listener) { b.listener = l }
func (b *Backend) SetPainter(p Painter)       { b.painter = p }

// Outputs returns every live output, sorted by connector id.
func (b *Backend) Outputs() []*kms.Output {
	return append([]*kms.Output(nil), b.outputs...)
}

// GPUs returns the driven cards in the order they were opened.
func (b *Backend) GPUs() []*kms.GPU {
	gpus := make([]*kms.GPU, 0, len(b.cards))
	for _, c := range b.cards {
		gpus = append(gpus, c.gpu)
	}
	return gpus
}

// Start opens the configured cards and, if asked to, starts listening for
// hotplug. It fails only when no card could be driven.
func (b *Backend) Start() error {
	paths := b.opts.Paths
	if len(paths) == 0 {
		found, err := hotplug.ListCards(b.opts.CardDir)
		if err != nil {
			return fmt.Errorf("list cards in %s: %w", b.opts.CardDir, err)
		}
		paths = found
	}

	var errs []error
	for _, path := range paths {
		if err := b.openCard(path); err != nil {
			logger.Warn("skipping card", "path", path, "err", err)
			errs = append(errs, err)
		}
	}
	if len(b.cards) == 0 {
		if len(errs) == 0 {
			return fmt.Errorf("no DRM cards found in %s", b.opts.CardDir)
		}
		return fmt.Errorf("no usable DRM card: %w", errors.Join(errs...))
	}

	if b.opts.Hotplug {
		b.startHotplug()
	}
	return nil
}

func (b *Backend) startHotplug() {
	m, err := hotplug.NewMonitor()
	if err != nil {
		logger.Warn("connector hotplug disabled", "err", err)
	} else {
		b.monitor = m
	}

	w, err := hotplug.NewCardWatcher(b.opts.CardDir)
	if err != nil {
		logger.Warn("card hotplug disabled", "err", err)
		return
	}
	b.watcher = w
	go func() {
		for ev := range w.Events() {
			ev := ev
			b.post(func() { b.cardChanged(ev) })
		}
	}()
}

func (b *Backend) openCard(path string) error {
	if b.findCard(path) != nil {
		return nil
	}
	fd, err := b.session.Open(path)
	if err != nil {
		return err
	}
	dev := drm.NewCard(fd, path)
	if err := checkKMS(dev); err != nil {
		_ = b.session.Release(fd)
		return err
	}
	gpu, err := b.AddDevice(dev, path)
	if err != nil {
		_ = b.session.Release(fd)
		return err
	}
	b.cards[len(b.cards)-1].fd = fd
	logger.Info("opened card", "gpu", gpu.String(), "outputs", len(gpu.Outputs()))
	return nil
}

// checkKMS rejects render-only devices.
func checkKMS(dev drm.Device) error {
	res, err := dev.Resources()
	if err != nil {
		return fmt.Errorf("not a KMS device: %w", err)
	}
	if len(res.Crtcs) == 0 || len(res.Connectors) == 0 {
		return errors.New("not a KMS device: no CRTCs or connectors")
	}
	return nil
}

// AddDevice drives an already opened device. The backend does not own its
// descriptor unless it came from Start.
func (b *Backend) AddDevice(dev drm.Device, path string) (*kms.GPU, error) {
	opts := b.opts.GPU
	opts.Session = b.session
	opts.Listener = b
	gpu := kms.NewGPU(dev, path, opts)
	if !b.opts.DisableAtomic && !gpu.EnableAtomicMode() {
		logger.Info("using legacy mode setting", "device", path)
	}
	b.cards = append(b.cards, &card{path: path, fd: -1, gpu: gpu})
	if err := gpu.RescanOutputs(); err != nil {
		b.cards = b.cards[:len(b.cards)-1]
		_ = gpu.Close()
		return nil, fmt.Errorf("scan outputs on %s: %w", path, err)
	}
	return gpu, nil
}

func (b *Backend) findCard(path string) *card {
	for _, c := range b.cards {
		if c.path == path {
			return c
		}
	}
	return nil
}

// OutputAdded implements kms.Listener for every card.
func (b *Backend) OutputAdded(o *kms.Output) {
	i := sort.Search(len(b.outputs), func(i int) bool {
		return b.outputs[i].Connector().ID() >= o.Connector().ID()
	})
	b.outputs = append(b.outputs, nil)
	copy(b.outputs[i+1:], b.outputs[i:])
	b.outputs[i] = o

	loop := o.RenderLoop()
	loop.OnFrameRequested(func() { b.due[o] = true })
	loop.OnFrameCompleted(func(ts time.Duration) {
		logger.Debug("frame presented", "output", o.Name(), "ts", ts)
		if b.opts.OnFrame != nil {
			b.opts.OnFrame(o, ts)
		}
	})
	if b.listener != nil {
		b.listener.OutputAdded(o)
	}
	loop.ScheduleRepaint()
}

func (b *Backend) OutputRemoved(o *kms.Output) {
	for i, other := range b.outputs {
		if other == o {
			b.outputs = append(b.outputs[:i], b.outputs[i+1:]...)
			break
		}
	}
	delete(b.due, o)
	if p := b.painter; p != nil {
		// the frame in flight may still scan out of the painter's buffers
		o.OnReleased(func() { p.Forget(o) })
	}
	if b.listener != nil {
		b.listener.OutputRemoved(o)
	}
}

// post queues fn for the event loop goroutine and wakes it. Work posted
// after Close is dropped.
func (b *Backend) post(fn func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.posted = append(b.posted, fn)
	b.mu.Unlock()
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(b.wake, one[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		logger.Debug("waking event loop failed", "err", err)
	}
}

func (b *Backend) runPosted() {
	var buf [8]byte
	_, _ = unix.Read(b.wake, buf[:])

	b.mu.Lock()
	posted := b.posted
	b.posted = nil
	b.mu.Unlock()
	for _, fn := range posted {
		fn()
	}
}

func (b *Backend) setSessionActive(active bool) {
	logger.Info("seat session changed", "active", active)
	for _, c := range b.cards {
		c.gpu.SetSessionActive(active)
	}
	if active {
		// connectors may have changed while we were away
		b.rescanAll()
	}
}

func (b *Backend) rescanAll() {
	for _, c := range b.cards {
		if err := c.gpu.RescanOutputs(); err != nil {
			logger.Warn("rescan failed", "gpu", c.gpu.String(), "err", err)
		}
	}
}

// handleUevent rescans the card a DRM hotplug event names, or every card
// when the name does not match one.
func (b *Backend) handleUevent(ev hotplug.Event) {
	if !ev.IsDRMHotplug() || !b.session.IsActive() {
		return
	}
	name := filepath.Base(ev.DevName)
	for _, c := range b.cards {
		if filepath.Base(c.path) == name {
			logger.Debug("connector hotplug", "card", c.path)
			if err := c.gpu.RescanOutputs(); err != nil {
				logger.Warn("rescan failed", "gpu", c.gpu.String(), "err", err)
			}
			return
		}
	}
	b.rescanAll()
}

func (b *Backend) cardChanged(ev hotplug.CardEvent) {
	if ev.Removed {
		b.removeCard(ev.Path)
		return
	}
	if len(b.opts.Paths) > 0 {
		return
	}
	// udev may still be fixing permissions; give it a moment without
	// holding up the loop
	path := ev.Path
	time.AfterFunc(cardSettleDelay, func() {
		b.post(func() {
			if err := b.openCard(path); err != nil {
				logger.Warn("new card not usable", "path", path, "err", err)
			}
		})
	})
}

func (b *Backend) removeCard(path string) {
	for i, c := range b.cards {
		if c.path != path {
			continue
		}
		b.cards = append(b.cards[:i], b.cards[i+1:]...)
		b.closeCard(c)
		logger.Info("card removed", "path", path)
		return
	}
}

func (b *Backend) closeCard(c *card) error {
	err := c.gpu.Close()
	if c.fd >= 0 {
		err = errors.Join(err, b.session.Release(c.fd))
	}
	return err
}

// paint runs the painter for every output that asked for a frame.
func (b *Backend) paint() {
	if b.painter == nil || len(b.due) == 0 {
		return
	}
	for _, o := range b.Outputs() {
		if !b.due[o] {
			continue
		}
		delete(b.due, o)
		if err := b.painter.Paint(o); err != nil {
			switch {
			case errors.Is(err, kms.ErrSessionInactive), errors.Is(err, kms.ErrOutputDisabled):
				logger.Debug("frame skipped", "output", o.Name(), "err", err)
			default:
				logger.Warn("painting frame failed", "output", o.Name(), "err", err)
			}
		}
	}
}

// pollSet lists the descriptors the loop waits on. Card descriptors are left
// out while the session is inactive since their events are not read then.
func (b *Backend) pollSet() ([]unix.PollFd, []*card) {
	fds := []unix.PollFd{{Fd: int32(b.wake), Events: unix.POLLIN}}
	if b.monitor != nil {
		fds = append(fds, unix.PollFd{Fd: int32(b.monitor.Fd()), Events: unix.POLLIN})
	}
	var cards []*card
	if b.session.IsActive() {
		for _, c := range b.cards {
			fd := c.gpu.Device().Fd()
			if fd < 0 {
				continue
			}
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
			cards = append(cards, c)
		}
	}
	return fds, cards
}

// Run is the event loop. It returns when ctx is done or a descriptor fails.
func (b *Backend) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { b.post(func() {}) })
	defer stop()

	b.paint()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		fds, cards := b.pollSet()
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}

		if fds[0].Revents&unix.POLLIN != 0 {
			b.runPosted()
		}
		next := 1
		if b.monitor != nil {
			if fds[next].Revents&unix.POLLIN != 0 {
				events, err := b.monitor.Read()
				if err != nil {
					logger.Warn("reading uevents failed", "err", err)
				}
				for _, ev := range events {
					b.handleUevent(ev)
				}
			}
			next++
		}
		for i, c := range cards {
			pfd := fds[next+i]
			if pfd.Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
				logger.Warn("card descriptor failed", "card", c.path)
				b.removeCard(c.path)
				continue
			}
			if pfd.Revents&unix.POLLIN != 0 {
				if err := c.gpu.DispatchEvents(); err != nil {
					logger.Warn("dispatching events failed", "gpu", c.gpu.String(), "err", err)
				}
			}
		}
		b.paint()
	}
}

// Close waits for every card to go idle and releases it.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	var errs []error
	if b.watcher != nil {
		errs = append(errs, b.watcher.Close())
	}
	if b.monitor != nil {
		errs = append(errs, b.monitor.Close())
	}
	for _, c := range b.cards {
		errs = append(errs, b.closeCard(c))
	}
	b.cards = nil
	errs = append(errs, unix.Close(b.wake))
	return errors.Join(errs...)
}
