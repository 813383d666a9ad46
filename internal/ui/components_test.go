package ui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/scanout/internal/display"
)

func testMonitors() []*display.Monitor {
	return []*display.Monitor{
		{Name: "eDP-1", ConnectorID: 50, CrtcID: 41, PlaneID: 31, Width: 2560, Height: 1600, RefreshMHz: 120000, WidthMM: 344, HeightMM: 215, Internal: true, Primary: true},
		{Name: "HDMI-A-1", ConnectorID: 60, CrtcID: 42, PlaneID: 32, X: 2560, Width: 1920, Height: 1080, RefreshMHz: 59940},
	}
}

func TestStatusBar(t *testing.T) {
	bar := NewStatusBar("scanout")
	assert.NotNil(t, bar.Init())

	bar, _ = bar.Update(tea.WindowSizeMsg{Width: 60, Height: 10})
	assert.Equal(t, 60, bar.Width)

	bar.Status = "card0"
	bar.Active = true
	view := bar.View()
	assert.Contains(t, view, "scanout")
	assert.Contains(t, view, "card0")
	assert.Contains(t, view, "●")

	bar.Active = false
	assert.Contains(t, bar.View(), "○")
}

func TestMonitorTable(t *testing.T) {
	table := &MonitorTable{Monitors: testMonitors()}
	view := table.View()
	lines := strings.Split(view, "\n")
	require.Len(t, lines, 3)

	assert.Contains(t, lines[0], "OUTPUT")
	assert.NotContains(t, lines[0], "FRAMES")
	assert.Contains(t, lines[1], "eDP-1*", "primary is starred")
	assert.Contains(t, lines[1], "2560x1600")
	assert.Contains(t, lines[1], "120.00 Hz")
	assert.Contains(t, lines[1], "344x215mm")
	assert.Contains(t, lines[2], "HDMI-A-1")
	assert.Contains(t, lines[2], "59.94 Hz")
	assert.Contains(t, lines[2], "2560,0")

	table.Frames = map[string]uint64{"HDMI-A-1": 42}
	view = table.View()
	assert.Contains(t, view, "FRAMES")
	assert.Contains(t, strings.Split(view, "\n")[2], "42")

	empty := &MonitorTable{}
	assert.Contains(t, empty.View(), "No outputs lit")
}

func TestInfoPanel(t *testing.T) {
	panel := &InfoPanel{Title: "card0", Content: []string{FormatKV("driver", "i915"), FormatKV("atomic", "yes")}}
	view := panel.View()
	assert.Contains(t, view, "card0")
	assert.Contains(t, view, "i915")
	assert.Contains(t, view, "atomic")
}

func TestProgressIndicator(t *testing.T) {
	tests := []struct {
		name    string
		current int
		total   int
		want    string
	}{
		{name: "half", current: 5, total: 10, want: " 50%"},
		{name: "clamped", current: 12, total: 10, want: "100%"},
		{name: "no total", current: 3, total: 0, want: "  0%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &ProgressIndicator{Label: "frames", Current: tt.current, Total: tt.total, Width: 40, ShowPercentage: true}
			got := p.View()
			assert.Contains(t, got, "frames")
			assert.True(t, strings.HasSuffix(got, tt.want), got)
		})
	}
}

func TestControlsHelpAndMessage(t *testing.T) {
	help := &ControlsHelp{Controls: []Control{{Key: "q", Desc: "Quit"}, {Key: "r", Desc: "Rescan"}}}
	assert.Contains(t, help.View(), "[q] Quit")
	assert.Contains(t, help.View(), "[r] Rescan")

	for typ, icon := range map[MessageType]string{
		MessageInfo:    IconInfo,
		MessageSuccess: IconSuccess,
		MessageWarning: IconWarning,
		MessageError:   IconError,
	} {
		m := &Message{Type: typ, Content: "flip done"}
		assert.Contains(t, m.View(), icon+" flip done")
	}
}
