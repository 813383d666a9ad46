package ui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestFormatControl(t *testing.T) {
	tests := []struct {
		name string
		key  string
		desc string
	}{
		{name: "basic control", key: "q", desc: "Quit"},
		{name: "longer key", key: "ctrl+c", desc: "Stop presenting"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatControl(tt.key, tt.desc)
			assert.Contains(t, got, tt.key)
			assert.Contains(t, got, tt.desc)
		})
	}
}

func TestFormatStatus(t *testing.T) {
	tests := []struct {
		name      string
		enabled   bool
		status    string
		indicator string
	}{
		{name: "enabled output", enabled: true, status: "HDMI-A-1 lit", indicator: "●"},
		{name: "disabled output", enabled: false, status: "session inactive", indicator: "○"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatStatus(tt.enabled, tt.status)
			assert.Contains(t, got, tt.status)
			assert.Contains(t, got, tt.indicator)
		})
	}
}

func TestFormatListItem(t *testing.T) {
	for _, active := range []bool{false, true} {
		got := FormatListItem("/dev/dri/card0", active)
		assert.Contains(t, got, "•")
		assert.Contains(t, got, "/dev/dri/card0")
	}
}

func TestFormatKV(t *testing.T) {
	got := FormatKV("driver", "i915")
	assert.Contains(t, got, "driver")
	assert.Contains(t, got, "i915")
	assert.GreaterOrEqual(t, lipgloss.Width(got), 14+len("i915"))
}

func TestFormatHeaderAndResult(t *testing.T) {
	header := FormatHeader("card0")
	assert.Contains(t, header, "card0")
	assert.Contains(t, header, strings.Repeat("─", 50))

	ok := FormatResult(true, "atomic", "")
	assert.Contains(t, ok, IconSuccess)
	assert.NotContains(t, ok, " - ")

	failed := FormatResult(false, "atomic", "test commit rejected")
	assert.Contains(t, failed, IconError)
	assert.Contains(t, failed, "test commit rejected")
}

func TestCenterAndRight(t *testing.T) {
	tests := []struct {
		name    string
		width   int
		content string
	}{
		{name: "short content", width: 20, content: "Test"},
		{name: "exact width", width: 4, content: "Test"},
		{name: "content longer than width", width: 2, content: "Test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, Center(tt.width, tt.content), tt.content)
			assert.Contains(t, Right(tt.width, tt.content), tt.content)
			assert.GreaterOrEqual(t, lipgloss.Width(Center(tt.width, tt.content)), len(tt.content))
		})
	}
}

func TestCreateSeparator(t *testing.T) {
	tests := []struct {
		name  string
		width int
		char  string
		want  string
	}{
		{name: "custom", width: 5, char: "=", want: "====="},
		{name: "defaults", width: 0, char: "", want: strings.Repeat("─", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CreateSeparator(tt.width, tt.char)
			assert.Contains(t, got, tt.want)
		})
	}
}
