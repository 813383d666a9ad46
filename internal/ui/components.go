package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/scanout/internal/display"
)

// StatusBar represents a reusable status bar component
type StatusBar struct {
	Width       int
	Title       string
	Status      string
	Active      bool
	ShowSpinner bool
	spinner     spinner.Model
}

// NewStatusBar creates a new status bar
func NewStatusBar(title string) *StatusBar {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: SpinnerDot,
		FPS:    time.Second / 10,
	}
	s.Style = SpinnerStyle

	return &StatusBar{
		Title:       title,
		ShowSpinner: true,
		spinner:     s,
	}
}

// Init implements tea.Model
func (s *StatusBar) Init() tea.Cmd {
	return s.spinner.Tick
}

// Update implements tea.Model
func (s *StatusBar) Update(msg tea.Msg) (*StatusBar, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		s.spinner, cmd = s.spinner.Update(msg)
		return s, cmd
	case tea.WindowSizeMsg:
		s.Width = msg.Width
	}
	return s, nil
}

// View renders the status bar
func (s *StatusBar) View() string {
	title := TitleStyle.Render(s.Title)

	status := s.Status
	if s.ShowSpinner && s.Active {
		status = s.spinner.View() + " " + s.Status
	}
	statusFormatted := FormatStatus(s.Active, status)

	gap := s.Width - lipgloss.Width(title) - lipgloss.Width(statusFormatted)
	if gap < 1 {
		gap = 1
	}
	return title + strings.Repeat(" ", gap) + statusFormatted
}

// InfoPanel represents a panel with information
type InfoPanel struct {
	Title   string
	Content []string
	Width   int
}

// View renders the info panel
func (p *InfoPanel) View() string {
	var b strings.Builder

	if p.Title != "" {
		b.WriteString(SubheaderStyle.Render(p.Title))
		b.WriteString("\n")
	}
	for i, line := range p.Content {
		b.WriteString(line)
		if i < len(p.Content)-1 {
			b.WriteString("\n")
		}
	}

	style := BoxStyle
	if p.Width > 0 {
		style = style.Width(p.Width)
	}
	return style.Render(b.String())
}

// MonitorTable renders one row per monitor
type MonitorTable struct {
	Monitors []*display.Monitor
	// Frames adds a frames column when set, keyed by monitor name.
	Frames map[string]uint64
}

// View renders the monitor table
func (t *MonitorTable) View() string {
	if len(t.Monitors) == 0 {
		return MutedStyle.Render("No outputs lit")
	}

	headers := []string{"", "OUTPUT", "MODE", "REFRESH", "CRTC", "PLANE", "POSITION", "SIZE"}
	if t.Frames != nil {
		headers = append(headers, "FRAMES")
	}
	rows := make([][]string, 0, len(t.Monitors))
	for _, m := range t.Monitors {
		name := m.Name
		if m.Primary {
			name += "*"
		}
		size := "-"
		if m.WidthMM > 0 && m.HeightMM > 0 {
			size = fmt.Sprintf("%dx%dmm", m.WidthMM, m.HeightMM)
		}
		row := []string{
			EnabledIndicator,
			name,
			fmt.Sprintf("%dx%d", m.Width, m.Height),
			m.Refresh(),
			fmt.Sprint(m.CrtcID),
			fmt.Sprint(m.PlaneID),
			fmt.Sprintf("%d,%d", m.X, m.Y),
			size,
		}
		if t.Frames != nil {
			row = append(row, fmt.Sprint(t.Frames[m.Name]))
		}
		rows = append(rows, row)
	}
	return renderTable(headers, rows)
}

// renderTable pads every column to its widest cell.
func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = TableCellStyle.Width(widths[i] + 2).Render(style.Render(cell))
		}
		return strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, parts...), " ")
	}

	lines := []string{line(headers, TableHeaderStyle)}
	for _, row := range rows {
		lines = append(lines, line(row, TextStyle))
	}
	return strings.Join(lines, "\n")
}

// ControlsHelp displays keyboard controls
type ControlsHelp struct {
	Controls []Control
}

// Control represents a keyboard control
type Control struct {
	Key  string
	Desc string
}

// View renders the controls help on one line
func (c *ControlsHelp) View() string {
	parts := make([]string, len(c.Controls))
	for i, ctrl := range c.Controls {
		parts[i] = "[" + ctrl.Key + "] " + ctrl.Desc
	}
	return MutedStyle.Render(strings.Join(parts, "  •  "))
}

// ProgressIndicator shows progress
type ProgressIndicator struct {
	Label          string
	Current        int
	Total          int
	Width          int
	ShowPercentage bool
}

// View renders the progress indicator
func (p *ProgressIndicator) View() string {
	percentage := 0.0
	if p.Total > 0 {
		percentage = float64(p.Current) / float64(p.Total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	barWidth := p.Width - len(p.Label) - 10 // Leave space for label and percentage
	if barWidth < 10 {
		barWidth = 10
	}

	filled := int(float64(barWidth) * percentage)
	empty := barWidth - filled

	bar := SuccessStyle.Render(strings.Repeat("█", filled)) +
		MutedStyle.Render(strings.Repeat("░", empty))

	if p.ShowPercentage {
		return fmt.Sprintf("%s %s %3.0f%%", TextStyle.Render(p.Label), bar, percentage*100)
	}
	return fmt.Sprintf("%s %s", TextStyle.Render(p.Label), bar)
}

// Message displays a styled message
type Message struct {
	Type    MessageType
	Content string
}

// MessageType represents the type of message
type MessageType int

const (
	MessageInfo MessageType = iota
	MessageSuccess
	MessageWarning
	MessageError
)

// View renders the message
func (m *Message) View() string {
	var style lipgloss.Style
	var prefix string

	switch m.Type {
	case MessageSuccess:
		style = SuccessStyle
		prefix = IconSuccess + " "
	case MessageWarning:
		style = WarningStyle
		prefix = IconWarning + " "
	case MessageError:
		style = ErrorStyle
		prefix = IconError + " "
	default:
		style = InfoStyle
		prefix = IconInfo + " "
	}

	return style.Render(prefix + m.Content)
}
