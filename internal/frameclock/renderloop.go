// Package frameclock schedules repaints from page-flip completions.
package frameclock

import (
	"sync"
	"time"
)

const defaultRefreshRate = 60000

// RenderLoop tracks presentation timing for one output and asks its owner
// for the next frame once the previous one reached the screen.
type RenderLoop struct {
	mu sync.Mutex

	refreshRate      uint32
	inhibitCount     int
	lastPresentation time.Duration
	frames           uint64

	frameRequested func()
	frameCompleted func(ts time.Duration)
}

// New returns a loop assuming 60 Hz until told otherwise.
func New() *RenderLoop {
	return &RenderLoop{refreshRate: defaultRefreshRate}
}

// OnFrameRequested registers the callback asked to render and present the
// next frame. It runs on the goroutine that reported the completion.
func (l *RenderLoop) OnFrameRequested(fn func()) {
	l.mu.Lock()
	l.frameRequested = fn
	l.mu.Unlock()
}

// OnFrameCompleted registers an observer of normalised completion times.
func (l *RenderLoop) OnFrameCompleted(fn func(ts time.Duration)) {
	l.mu.Lock()
	l.frameCompleted = fn
	l.mu.Unlock()
}

// SetRefreshRate sets the expected refresh rate in mHz. Zero is ignored.
func (l *RenderLoop) SetRefreshRate(mHz uint32) {
	if mHz == 0 {
		return
	}
	l.mu.Lock()
	l.refreshRate = mHz
	l.mu.Unlock()
}

func (l *RenderLoop) RefreshRate() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshRate
}

// Interval is the duration of one refresh cycle.
func (l *RenderLoop) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return interval(l.refreshRate)
}

func interval(mHz uint32) time.Duration {
	return time.Duration(uint64(time.Second) * 1000 / uint64(mHz))
}

// Inhibit stops frame requests until a matching Uninhibit.
func (l *RenderLoop) Inhibit() {
	l.mu.Lock()
	l.inhibitCount++
	l.mu.Unlock()
}

// Uninhibit releases one Inhibit. Releasing the last one requests a frame
// so the output gets repainted.
func (l *RenderLoop) Uninhibit() {
	l.mu.Lock()
	if l.inhibitCount == 0 {
		l.mu.Unlock()
		return
	}
	l.inhibitCount--
	fire := l.inhibitCount == 0
	l.mu.Unlock()
	if fire {
		l.ScheduleRepaint()
	}
}

func (l *RenderLoop) IsInhibited() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inhibitCount > 0
}

// ScheduleRepaint requests a frame unless inhibited.
func (l *RenderLoop) ScheduleRepaint() {
	l.mu.Lock()
	fn := l.frameRequested
	run := l.inhibitCount == 0 && fn != nil
	l.mu.Unlock()
	if run {
		fn()
	}
}

// NotifyFrameCompleted records the monotonic time at which the last frame
// was shown and requests the next one.
func (l *RenderLoop) NotifyFrameCompleted(ts time.Duration) {
	l.mu.Lock()
	if ts > l.lastPresentation {
		l.lastPresentation = ts
	}
	l.frames++
	completed := l.frameCompleted
	l.mu.Unlock()

	if completed != nil {
		completed(ts)
	}
	l.ScheduleRepaint()
}

// LastPresentation is the latest completion time seen.
func (l *RenderLoop) LastPresentation() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastPresentation
}

// NextPresentation estimates when the next vblank after now happens.
func (l *RenderLoop) NextPresentation(now time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	step := interval(l.refreshRate)
	next := l.lastPresentation + step
	if next > now {
		return next
	}
	missed := (now - l.lastPresentation) / step
	return l.lastPresentation + (missed+1)*step
}

// Frames counts completed frames.
func (l *RenderLoop) Frames() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}
