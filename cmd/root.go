package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bnema/scanout/internal/config"
	"github.com/bnema/scanout/internal/logger"
)

var (
	// Version is set during build
	Version = "0.1.0-dev"

	configFile string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "scanout",
		Short: "scanout - KMS display pipeline driver",
		Long: `scanout brings up every monitor attached to the DRM cards of the seat.
It matches connectors to CRTCs and planes, presents frames through page flips
and follows monitors as they are plugged and unplugged.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default /etc/scanout/scanout.toml or ~/.config/scanout/scanout.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// loadConfig reads the configuration before any command runs and applies
// its log level. The --log-level flag wins over the file.
func loadConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		config.SetConfigPath(configFile)
	}
	if err := config.Init(); err != nil {
		return err
	}
	applyLogLevel(config.Get())
	return nil
}

func applyLogLevel(c *config.Config) {
	switch {
	case logLevel != "":
		logger.SetLevel(logLevel)
	case c.Logging.LogLevel != "":
		logger.SetLevel(c.Logging.LogLevel)
	}
}
