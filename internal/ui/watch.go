package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/scanout/internal/display"
)

// OutputsMsg replaces the monitor list after a hotplug.
type OutputsMsg struct{ Monitors []*display.Monitor }

// FrameMsg reports one completed page flip.
type FrameMsg struct {
	Output    string
	Timestamp time.Duration
}

type SessionMsg struct{ Active bool }

type LogMsg struct{ Entry LogEntry }

// DoneMsg ends the program, Err is shown when set.
type DoneMsg struct{ Err error }

// LogEntry represents a single log entry with timestamp and content
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

type frameStats struct {
	frames   uint64
	last     time.Duration
	interval time.Duration
}

// WatchModel is the live view of the presentation loop
type WatchModel struct {
	status      *StatusBar
	device      string
	monitors    []*display.Monitor
	stats       map[string]*frameStats
	target      uint64
	active      bool
	logBuffer   []LogEntry
	maxLogLines int
	width       int
	height      int
	err         error
}

// NewWatchModel creates the live view. target is the frame count the run
// stops at, zero for no limit.
func NewWatchModel(device string, target uint64) *WatchModel {
	return &WatchModel{
		status:      NewStatusBar("scanout"),
		device:      device,
		stats:       make(map[string]*frameStats),
		target:      target,
		active:      true,
		maxLogLines: 8,
		width:       80,
		height:      24,
	}
}

func (m *WatchModel) Init() tea.Cmd {
	return m.status.Init()
}

func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.status, cmd = m.status.Update(msg)

	case OutputsMsg:
		m.monitors = msg.Monitors
		live := make(map[string]bool, len(msg.Monitors))
		for _, mon := range msg.Monitors {
			live[mon.Name] = true
		}
		for name := range m.stats {
			if !live[name] {
				delete(m.stats, name)
			}
		}

	case FrameMsg:
		s := m.stats[msg.Output]
		if s == nil {
			s = &frameStats{}
			m.stats[msg.Output] = s
		}
		if s.frames > 0 && msg.Timestamp > s.last {
			s.interval = msg.Timestamp - s.last
		}
		s.last = msg.Timestamp
		s.frames++

	case SessionMsg:
		m.active = msg.Active

	case LogMsg:
		m.AddLogEntry(msg.Entry)

	case DoneMsg:
		m.err = msg.Err
		return m, tea.Quit

	default:
		m.status, cmd = m.status.Update(msg)
	}
	return m, cmd
}

// AddLogEntry keeps the last few log lines
func (m *WatchModel) AddLogEntry(entry LogEntry) {
	m.logBuffer = append(m.logBuffer, entry)
	if len(m.logBuffer) > m.maxLogLines {
		m.logBuffer = m.logBuffer[len(m.logBuffer)-m.maxLogLines:]
	}
}

// Frames returns the presented frame count of an output
func (m *WatchModel) Frames(output string) uint64 {
	if s, ok := m.stats[output]; ok {
		return s.frames
	}
	return 0
}

// MeasuredRate is the refresh rate in Hz derived from the last two
// timestamps, zero until two frames arrived.
func (m *WatchModel) MeasuredRate(output string) float64 {
	s, ok := m.stats[output]
	if !ok || s.interval <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.interval)
}

// Err is the error the run ended with
func (m *WatchModel) Err() error {
	return m.err
}

func (m *WatchModel) View() string {
	var b strings.Builder

	m.status.Width = m.width
	m.status.Active = m.active
	if m.active {
		m.status.Status = fmt.Sprintf("%s │ %d output(s)", m.device, len(m.monitors))
	} else {
		m.status.Status = "session inactive"
	}
	b.WriteString(m.status.View())
	b.WriteString("\n\n")

	frames := make(map[string]uint64, len(m.stats))
	for name, s := range m.stats {
		frames[name] = s.frames
	}
	table := &MonitorTable{Monitors: m.monitors, Frames: frames}
	b.WriteString(table.View())
	b.WriteString("\n\n")

	for _, mon := range m.monitors {
		s, ok := m.stats[mon.Name]
		if !ok {
			continue
		}
		line := fmt.Sprintf("%-10s last %s", mon.Name, s.last)
		if rate := m.MeasuredRate(mon.Name); rate > 0 {
			line += fmt.Sprintf("  measured %.2f Hz", rate)
		}
		if m.target > 0 {
			progress := &ProgressIndicator{Current: int(s.frames), Total: int(m.target), Width: 30, ShowPercentage: true}
			line += "  " + progress.View()
		}
		b.WriteString(SubtleStyle.Render(line))
		b.WriteString("\n")
	}

	if len(m.logBuffer) > 0 {
		b.WriteString("\n")
		for _, entry := range m.logBuffer {
			b.WriteString(formatLogEntry(entry))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	help := &ControlsHelp{Controls: []Control{{Key: "q", Desc: "Quit"}}}
	b.WriteString(help.View())
	return b.String()
}

// formatLogEntry formats a single log entry with colors
func formatLogEntry(entry LogEntry) string {
	timeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

	var levelStyle lipgloss.Style
	switch strings.ToUpper(entry.Level) {
	case "ERROR", "FATAL":
		levelStyle = ErrorStyle.Bold(true)
	case "WARN", "WARNING":
		levelStyle = WarningStyle.Bold(true)
	case "INFO":
		levelStyle = SuccessStyle
	case "DEBUG":
		levelStyle = MutedStyle
	default:
		levelStyle = SubtleStyle
	}

	return fmt.Sprintf("%s %s %s",
		timeStyle.Render(entry.Timestamp.Format("15:04:05")),
		levelStyle.Render(fmt.Sprintf("%-5s", strings.ToUpper(entry.Level))),
		TextStyle.Render(entry.Message))
}
