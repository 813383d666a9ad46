package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bnema/scanout/internal/config"
	"github.com/bnema/scanout/internal/logger"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage scanout configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

		fmt.Fprintf(w, "Config file:\t%s\n", config.GetConfigPath())
		fmt.Fprintln(w, "\n[device]")
		paths := "all /dev/dri/card*"
		if len(cfg.Device.Paths) > 0 {
			paths = strings.Join(cfg.Device.Paths, ", ")
		}
		fmt.Fprintf(w, "  paths\t%s\n", paths)
		fmt.Fprintf(w, "  session\t%s\n", cfg.Device.Session)

		fmt.Fprintln(w, "\n[kms]")
		fmt.Fprintf(w, "  disable_atomic\t%v\n", cfg.KMS.DisableAtomic)
		fmt.Fprintf(w, "  disable_modifiers\t%v\n", cfg.KMS.DisableModifiers)
		fmt.Fprintf(w, "  idle_timeout\t%s\n", cfg.KMS.IdleTimeout)
		fmt.Fprintf(w, "  software_cursor\t%v\n", cfg.KMS.SoftwareCursor)
		fmt.Fprintf(w, "  shuffle_policy\t%s\n", cfg.KMS.ShufflePolicy)

		fmt.Fprintln(w, "\n[logging]")
		level := cfg.Logging.LogLevel
		if level == "" {
			level = "(LOG_LEVEL)"
		}
		fmt.Fprintf(w, "  log_level\t%s\n", level)

		return w.Flush()
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save current configuration to file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Save(); err != nil {
			return err
		}
		logger.Infof("Configuration saved to: %s", config.GetConfigPath())
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.GetConfigPath())
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSaveCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}
