package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func update(t *testing.T, m *WatchModel, msg tea.Msg) tea.Cmd {
	t.Helper()
	model, cmd := m.Update(msg)
	require.Same(t, m, model)
	return cmd
}

func TestWatchModelFrames(t *testing.T) {
	m := NewWatchModel("/dev/dri/card0", 0)
	update(t, m, OutputsMsg{Monitors: testMonitors()})

	update(t, m, FrameMsg{Output: "HDMI-A-1", Timestamp: 10 * time.Second})
	assert.Equal(t, uint64(1), m.Frames("HDMI-A-1"))
	assert.Zero(t, m.MeasuredRate("HDMI-A-1"), "one frame gives no interval")

	update(t, m, FrameMsg{Output: "HDMI-A-1", Timestamp: 10*time.Second + 20*time.Millisecond})
	assert.Equal(t, uint64(2), m.Frames("HDMI-A-1"))
	assert.InDelta(t, 50.0, m.MeasuredRate("HDMI-A-1"), 0.001)

	// a timestamp going backwards keeps the previous interval
	update(t, m, FrameMsg{Output: "HDMI-A-1", Timestamp: time.Second})
	assert.InDelta(t, 50.0, m.MeasuredRate("HDMI-A-1"), 0.001)

	view := m.View()
	assert.Contains(t, view, "/dev/dri/card0")
	assert.Contains(t, view, "2 output(s)")
	assert.Contains(t, view, "measured 50.00 Hz")
	assert.Contains(t, view, "[q] Quit")
}

func TestWatchModelHotplugDropsStats(t *testing.T) {
	m := NewWatchModel("card0", 0)
	update(t, m, OutputsMsg{Monitors: testMonitors()})
	update(t, m, FrameMsg{Output: "eDP-1", Timestamp: time.Second})
	update(t, m, FrameMsg{Output: "HDMI-A-1", Timestamp: time.Second})

	update(t, m, OutputsMsg{Monitors: testMonitors()[:1]})
	assert.Equal(t, uint64(1), m.Frames("eDP-1"))
	assert.Zero(t, m.Frames("HDMI-A-1"))
	assert.NotContains(t, m.View(), "HDMI-A-1")
}

func TestWatchModelSessionAndLogs(t *testing.T) {
	m := NewWatchModel("card0", 10)
	update(t, m, OutputsMsg{Monitors: testMonitors()})
	update(t, m, FrameMsg{Output: "eDP-1", Timestamp: time.Second})

	update(t, m, SessionMsg{Active: false})
	view := m.View()
	assert.Contains(t, view, "session inactive")
	assert.Contains(t, view, "10%", "progress towards the frame target")

	for i := 0; i < 12; i++ {
		m.AddLogEntry(LogEntry{Timestamp: time.Now(), Level: "info", Message: fmt.Sprintf("line %d", i)})
	}
	update(t, m, LogMsg{Entry: LogEntry{Timestamp: time.Now(), Level: "warn", Message: "flip timeout"}})
	view = m.View()
	assert.NotContains(t, view, "line 4")
	assert.Contains(t, view, "line 11")
	assert.Contains(t, view, "WARN")
	assert.Contains(t, view, "flip timeout")
}

func TestWatchModelQuits(t *testing.T) {
	m := NewWatchModel("card0", 0)
	cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	boom := errors.New("card vanished")
	cmd = update(t, m, DoneMsg{Err: boom})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, boom, m.Err())
}

func TestProgramRunner(t *testing.T) {
	headless := []tea.ProgramOption{tea.WithInput(nil), tea.WithOutput(io.Discard), tea.WithoutSignalHandler()}

	t.Run("done message ends the program", func(t *testing.T) {
		r := NewProgramRunner(NewWatchModel("card0", 0), headless...)
		boom := errors.New("no outputs")
		go r.Send(DoneMsg{Err: boom})

		final, err := r.Run(context.Background())
		require.NoError(t, err)
		require.IsType(t, &WatchModel{}, final)
		assert.Equal(t, boom, final.(*WatchModel).Err())
	})

	t.Run("cancel quits", func(t *testing.T) {
		r := NewProgramRunner(NewWatchModel("card0", 0), headless...)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := r.Run(ctx)
		assert.NoError(t, err)
	})
}
