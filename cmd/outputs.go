package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bnema/scanout/internal/backend"
	"github.com/bnema/scanout/internal/config"
	"github.com/bnema/scanout/internal/display"
	"github.com/bnema/scanout/internal/hotplug"
	"github.com/bnema/scanout/internal/session"
	"github.com/bnema/scanout/internal/ui"
)

// OutputsInfo is the --json document
type OutputsInfo struct {
	Outputs []OutputInfo `json:"outputs"`
	Error   string       `json:"error,omitempty"`
}

// OutputInfo represents one matched pipeline
type OutputInfo struct {
	Name        string `json:"name"`
	Model       string `json:"model,omitempty"`
	Card        string `json:"card"`
	ConnectorID uint32 `json:"connector_id"`
	CrtcID      uint32 `json:"crtc_id"`
	PlaneID     uint32 `json:"plane_id"`
	X           int32  `json:"x"`
	Y           int32  `json:"y"`
	Width       int32  `json:"width"`
	Height      int32  `json:"height"`
	RefreshMHz  uint32 `json:"refresh_mhz"`
	WidthMM     uint32 `json:"width_mm"`
	HeightMM    uint32 `json:"height_mm"`
	Transform   string `json:"transform"`
	Internal    bool   `json:"internal"`
	Primary     bool   `json:"primary"`
}

var (
	outputsJSON   bool
	outputsDevice string
)

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "Match connectors to CRTCs and planes and print the result",
	Long: `Run output discovery on every card and print the pipeline chosen for each
connected monitor: mode, refresh rate, CRTC, primary plane, physical size and
which monitor is primary. Discovery lights the outputs up.`,
	RunE: runOutputs,
}

func init() {
	outputsCmd.Flags().BoolVar(&outputsJSON, "json", false, "Output in JSON format")
	outputsCmd.Flags().StringVarP(&outputsDevice, "device", "d", "", "card node to use (default all)")
	rootCmd.AddCommand(outputsCmd)
}

func runOutputs(cmd *cobra.Command, args []string) error {
	layout, err := discoverOutputs(config.Get(), outputsDevice)
	if err != nil {
		if outputsJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(OutputsInfo{Outputs: []OutputInfo{}, Error: err.Error()})
		}
		return fmt.Errorf("failed to discover outputs: %w", err)
	}

	if outputsJSON {
		return writeOutputsJSON(cmd.OutOrStdout(), layout)
	}
	writeOutputs(cmd.OutOrStdout(), layout)
	return nil
}

// discoverOutputs brings up the backend once and summarizes what it lit.
func discoverOutputs(cfg *config.Config, device string) (*display.Layout, error) {
	paths, err := cardPaths(device, cfg, hotplug.DefaultCardDir, false)
	if err != nil {
		return nil, err
	}
	opts, err := backendOptions(cfg, paths, false)
	if err != nil {
		return nil, err
	}
	sess, err := session.New(cfg.Device.Session)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	b, err := backend.New(sess, opts)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	if err := b.Start(); err != nil {
		return nil, err
	}
	return display.FromOutputs(b.Outputs()), nil
}

func writeOutputsJSON(w io.Writer, layout *display.Layout) error {
	info := OutputsInfo{Outputs: make([]OutputInfo, 0, len(layout.GetMonitors()))}
	for _, m := range layout.GetMonitors() {
		info.Outputs = append(info.Outputs, OutputInfo{
			Name:        m.Name,
			Model:       m.Model,
			Card:        m.Card,
			ConnectorID: m.ConnectorID,
			CrtcID:      m.CrtcID,
			PlaneID:     m.PlaneID,
			X:           m.X,
			Y:           m.Y,
			Width:       m.Width,
			Height:      m.Height,
			RefreshMHz:  m.RefreshMHz,
			WidthMM:     m.WidthMM,
			HeightMM:    m.HeightMM,
			Transform:   m.Transform,
			Internal:    m.Internal,
			Primary:     m.Primary,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func writeOutputs(w io.Writer, layout *display.Layout) {
	monitors := layout.GetMonitors()
	if len(monitors) == 0 {
		fmt.Fprintln(w, "No connected outputs")
		return
	}

	fmt.Fprintln(w, ui.FormatHeader(fmt.Sprintf("Matched %d output(s)", len(monitors))))
	table := &ui.MonitorTable{Monitors: monitors}
	fmt.Fprintln(w, table.View())
	fmt.Fprintln(w)

	for _, m := range monitors {
		fb := uint64(m.Width) * uint64(m.Height) * 4
		line := m.Name
		if m.Model != "" {
			line += " (" + m.Model + ")"
		}
		line += fmt.Sprintf(" on %s, %s per buffer", m.Card, humanize.IBytes(fb))
		if d := m.DiagonalInches(); d > 0 {
			line += fmt.Sprintf(", %.1f\"", d)
		}
		fmt.Fprintln(w, ui.SubtleStyle.Render(line))
	}

	if len(monitors) > 1 {
		width, height := layout.Size()
		fmt.Fprintf(w, "\nTotal virtual screen: %dx%d\n", width, height)
	}
}
