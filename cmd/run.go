package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/scanout/internal/backend"
	"github.com/bnema/scanout/internal/config"
	"github.com/bnema/scanout/internal/display"
	"github.com/bnema/scanout/internal/hotplug"
	"github.com/bnema/scanout/internal/kms"
	"github.com/bnema/scanout/internal/logger"
	"github.com/bnema/scanout/internal/session"
	"github.com/bnema/scanout/internal/ui"
)

var (
	runDevice string
	runFrames uint64
	runWatch  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Light every monitor and present a test pattern",
	Long: `Bring up every connected monitor, present a moving test pattern with page
flips and follow hotplug events and seat switches until interrupted.

With --watch a live view shows each output and its measured refresh rate.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runDevice, "device", "d", "", "card node to drive (default all)")
	runCmd.Flags().Uint64VarP(&runFrames, "frames", "n", 0, "stop after this many frames per output (0 runs forever)")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "show a live view of the outputs")
	rootCmd.AddCommand(runCmd)
}

// outputsListener turns connector changes into layout snapshots.
type outputsListener struct {
	b      *backend.Backend
	notify func(*display.Layout)
}

func (l *outputsListener) OutputAdded(o *kms.Output) {
	logger.Info("output enabled", "name", o.Name(), "crtc", o.Crtc().ID(), "mode", o.Mode().String())
	l.notify(display.FromOutputs(l.b.Outputs()))
}

func (l *outputsListener) OutputRemoved(o *kms.Output) {
	logger.Info("output disabled", "name", o.Name())
	l.notify(display.FromOutputs(l.b.Outputs()))
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	paths, err := cardPaths(runDevice, cfg, hotplug.DefaultCardDir, stdinIsTerminal())
	if err != nil {
		return err
	}

	config.Watch(func(c *config.Config, err error) {
		if err != nil {
			logger.Warn("ignoring invalid configuration", "err", err)
			return
		}
		applyLogLevel(c)
		logger.Info("configuration reloaded")
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts, err := backendOptions(cfg, paths, true)
	if err != nil {
		return err
	}

	var runner *ui.ProgramRunner
	if runWatch {
		runner = ui.NewProgramRunner(ui.NewWatchModel(deviceLabel(paths), runFrames))
	}

	painter := backend.NewPatternPainter()
	painter.MaxFrames = runFrames
	defer painter.Close()

	opts.OnFrame = func(o *kms.Output, ts time.Duration) {
		if runner != nil {
			runner.Send(ui.FrameMsg{Output: o.Name(), Timestamp: ts})
		}
		if painter.Done() {
			logger.Info("frame target reached", "frames", runFrames)
			cancel()
		}
	}

	sess, err := session.New(cfg.Device.Session)
	if err != nil {
		return err
	}
	defer sess.Close()

	b, err := backend.New(sess, opts)
	if err != nil {
		return err
	}
	defer b.Close()
	b.SetPainter(painter)
	b.SetListener(&outputsListener{b: b, notify: func(layout *display.Layout) {
		if runner != nil {
			runner.Send(ui.OutputsMsg{Monitors: layout.GetMonitors()})
		}
	}})

	if runner == nil {
		if err := b.Start(); err != nil {
			return err
		}
		if len(b.Outputs()) == 0 {
			logger.Warn("no monitors lit, waiting for hotplug")
		}
		return b.Run(ctx)
	}
	return runWatched(ctx, cancel, runner, sess, b)
}

// runWatched runs the event loop next to the live view. Logs go to the view
// while it owns the terminal, and quitting the view stops the loop.
func runWatched(ctx context.Context, cancel context.CancelFunc, runner *ui.ProgramRunner, sess session.Session, b *backend.Backend) error {
	logger.SetUINotifier(func(level, message string) {
		runner.Send(ui.LogMsg{Entry: ui.LogEntry{Timestamp: time.Now(), Level: level, Message: message}})
	})
	defer logger.SetUINotifier(nil)

	sess.OnActiveChanged(func(active bool) {
		runner.Send(ui.SessionMsg{Active: active})
	})

	loopErr := make(chan error, 1)
	go func() {
		err := b.Start()
		if err == nil {
			err = b.Run(ctx)
		}
		runner.Send(ui.DoneMsg{Err: err})
		loopErr <- err
	}()

	model, err := runner.Run(ctx)
	cancel()
	if runErr := <-loopErr; runErr != nil {
		return runErr
	}
	if err != nil {
		return fmt.Errorf("live view failed: %w", err)
	}
	if m, ok := model.(*ui.WatchModel); ok {
		return m.Err()
	}
	return nil
}

func deviceLabel(paths []string) string {
	switch len(paths) {
	case 0:
		return "all cards"
	case 1:
		return paths[0]
	default:
		return fmt.Sprintf("%d cards", len(paths))
	}
}
