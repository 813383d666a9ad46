package cmd

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bnema/scanout/internal/config"
	"github.com/bnema/scanout/internal/drm"
	"github.com/bnema/scanout/internal/hotplug"
	"github.com/bnema/scanout/internal/kms"
	"github.com/bnema/scanout/internal/logger"
	"github.com/bnema/scanout/internal/session"
	"github.com/bnema/scanout/internal/ui"
)

var probeDevice string

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Show capabilities and resources of each card",
	Long: `Open each DRM card and print what the driver reports: atomic support,
framebuffer modifiers, cursor size, the presentation clock and the number of
CRTCs, encoders, connectors and planes. Nothing is lit up.`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVarP(&probeDevice, "device", "d", "", "card node to probe (default all)")
	rootCmd.AddCommand(probeCmd)
}

// cardReport is what probe learns about one card.
type cardReport struct {
	Path       string
	Caps       kms.Capabilities
	Atomic     bool
	Crtcs      int
	Encoders   int
	Planes     int
	MaxWidth   uint32
	MaxHeight  uint32
	Connectors []connectorReport
}

type connectorReport struct {
	Name      string
	Connected bool
	Modes     int
	Preferred string
	// Bytes is the size of one XRGB8888 scanout buffer at the preferred mode.
	Bytes uint64
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	paths, err := cardPaths(probeDevice, cfg, hotplug.DefaultCardDir, false)
	if err != nil {
		return err
	}
	if paths == nil {
		if paths, err = hotplug.ListCards(hotplug.DefaultCardDir); err != nil {
			return err
		}
	}
	opts, err := gpuOptions(cfg)
	if err != nil {
		return err
	}

	sess, err := session.New(cfg.Device.Session)
	if err != nil {
		return err
	}
	defer sess.Close()
	opts.Session = sess

	for _, path := range paths {
		fd, err := sess.Open(path)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), ui.FormatResult(false, path, err.Error()))
			continue
		}
		report, err := probeCard(drm.NewCard(fd, path), path, opts, !cfg.KMS.DisableAtomic)
		if err := sess.Release(fd); err != nil {
			logger.Debug("releasing card failed", "card", path, "err", err)
		}
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), ui.FormatResult(false, path, err.Error()))
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), report.View())
	}
	return nil
}

// probeCard reads capabilities and resource counts without lighting any
// output.
func probeCard(dev drm.Device, path string, opts kms.Options, tryAtomic bool) (*cardReport, error) {
	res, err := dev.Resources()
	if err != nil {
		return nil, fmt.Errorf("not a KMS device: %w", err)
	}

	gpu := kms.NewGPU(dev, path, opts)
	defer gpu.Close()

	r := &cardReport{
		Path:      path,
		Crtcs:     len(res.Crtcs),
		Encoders:  len(res.Encoders),
		MaxWidth:  res.MaxWidth,
		MaxHeight: res.MaxHeight,
	}
	if tryAtomic {
		r.Atomic = gpu.EnableAtomicMode()
	}
	r.Caps = gpu.Capabilities()
	if planes, err := dev.PlaneResources(); err == nil {
		r.Planes = len(planes)
	}

	for _, id := range res.Connectors {
		info, err := dev.Connector(id)
		if err != nil {
			logger.Debug("skipping connector", "id", id, "err", err)
			continue
		}
		c := connectorReport{
			Name:      kms.ConnectorName(info.Type, info.TypeID),
			Connected: info.Connection == drm.Connected,
			Modes:     len(info.Modes),
		}
		if m := preferredMode(info.Modes); m != nil {
			c.Preferred = fmt.Sprintf("%s@%.2f", m.ModeName(), float64(kms.RefreshRate(m))/1000)
			c.Bytes = uint64(m.Hdisplay) * uint64(m.Vdisplay) * 4
		}
		r.Connectors = append(r.Connectors, c)
	}
	return r, nil
}

// preferredMode falls back to the first mode when none is flagged.
func preferredMode(modes []drm.ModeInfo) *drm.ModeInfo {
	for i := range modes {
		if modes[i].Type&drm.ModeTypePreferred != 0 {
			return &modes[i]
		}
	}
	if len(modes) > 0 {
		return &modes[0]
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// View renders the report as a panel
func (r *cardReport) View() string {
	lines := []string{
		ui.FormatKV("driver", r.Caps.Driver),
		ui.FormatKV("atomic", yesNo(r.Atomic)),
		ui.FormatKV("modifiers", yesNo(r.Caps.AddFB2Modifiers)),
		ui.FormatKV("dumb buffers", yesNo(r.Caps.DumbBuffers)),
		ui.FormatKV("cursor", fmt.Sprintf("%dx%d", r.Caps.CursorWidth, r.Caps.CursorHeight)),
		ui.FormatKV("clock", r.Caps.PresentationClock),
		ui.FormatKV("max size", fmt.Sprintf("%dx%d", r.MaxWidth, r.MaxHeight)),
		ui.FormatKV("resources", fmt.Sprintf("%d CRTCs, %d encoders, %d connectors, %d planes",
			r.Crtcs, r.Encoders, len(r.Connectors), r.Planes)),
	}
	if r.Caps.ProprietaryDriver {
		lines = append(lines, ui.WarningStyle.Render("proprietary driver detected"))
	}

	lines = append(lines, "")
	for _, c := range r.Connectors {
		if !c.Connected {
			lines = append(lines, ui.FormatStatus(false, ui.SubtleStyle.Render(c.Name+" disconnected")))
			continue
		}
		detail := fmt.Sprintf("%s  %d modes, preferred %s, %s per frame",
			c.Name, c.Modes, c.Preferred, humanize.IBytes(c.Bytes))
		lines = append(lines, ui.FormatStatus(true, detail))
	}

	panel := &ui.InfoPanel{Title: r.Path, Content: lines}
	return strings.TrimRight(panel.View(), "\n")
}
