// Package config handles configuration management using Viper
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Which cards to drive and how to open them
	Device DeviceConfig `mapstructure:"device"`

	// Mode-setting behaviour
	KMS KMSConfig `mapstructure:"kms"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// DeviceConfig selects card nodes and the session backend.
type DeviceConfig struct {
	Paths   []string `mapstructure:"paths"`   // Empty means every /dev/dri/card*
	Session string   `mapstructure:"session"` // auto, logind or direct
}

// KMSConfig contains the mode-setting escape hatches
type KMSConfig struct {
	DisableAtomic    bool          `mapstructure:"disable_atomic"`
	DisableModifiers bool          `mapstructure:"disable_modifiers"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	SoftwareCursor   bool          `mapstructure:"software_cursor"`
	ShufflePolicy    string        `mapstructure:"shuffle_policy"` // strict or relaxed
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

// Session backends accepted in device.session.
const (
	SessionAuto   = "auto"
	SessionLogind = "logind"
	SessionDirect = "direct"
)

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Device: DeviceConfig{
			Paths:   []string{},
			Session: SessionAuto,
		},
		KMS: KMSConfig{
			IdleTimeout:   30 * time.Second,
			ShufflePolicy: "strict",
		},
		Logging: LoggingConfig{
			LogLevel: "", // Empty means use LOG_LEVEL env var
		},
	}

	// Global config instance
	cfg   *Config
	cfgMu sync.RWMutex

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("scanout")
	viper.SetConfigType("toml")

	// If a specific path is set, use only that
	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		viper.AddConfigPath("/etc/scanout")

		// If running with sudo, try the real user's config
		if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
			viper.AddConfigPath(fmt.Sprintf("/home/%s/.config/scanout", sudoUser))
		} else if home := os.Getenv("HOME"); home != "" && home != "/root" {
			viper.AddConfigPath(filepath.Join(home, ".config", "scanout"))
		}

		viper.AddConfigPath(".")
	}

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("device.paths", DefaultConfig.Device.Paths)
	viper.SetDefault("device.session", DefaultConfig.Device.Session)

	viper.SetDefault("kms.disable_atomic", DefaultConfig.KMS.DisableAtomic)
	viper.SetDefault("kms.disable_modifiers", DefaultConfig.KMS.DisableModifiers)
	viper.SetDefault("kms.idle_timeout", DefaultConfig.KMS.IdleTimeout)
	viper.SetDefault("kms.software_cursor", DefaultConfig.KMS.SoftwareCursor)
	viper.SetDefault("kms.shuffle_policy", DefaultConfig.KMS.ShufflePolicy)

	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	// Escape hatches for broken drivers
	_ = viper.BindEnv("kms.disable_modifiers", "SCANOUT_NO_MODIFIERS")
	_ = viper.BindEnv("kms.disable_atomic", "SCANOUT_NO_AMS")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults
	}

	return reload()
}

func reload() error {
	c := &Config{}
	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	Set(c)
	return nil
}

// Validate rejects values the rest of the program cannot interpret.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Device.Session) {
	case "", SessionAuto, SessionLogind, SessionDirect:
	default:
		return fmt.Errorf("device.session: unknown backend %q", c.Device.Session)
	}
	switch strings.ToLower(c.KMS.ShufflePolicy) {
	case "", "strict", "relaxed":
	default:
		return fmt.Errorf("kms.shuffle_policy: unknown policy %q", c.KMS.ShufflePolicy)
	}
	if c.KMS.IdleTimeout < 0 {
		return fmt.Errorf("kms.idle_timeout must not be negative")
	}
	return nil
}

// Get returns the current configuration
func Get() *Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfgMu.Lock()
	cfg = c
	cfgMu.Unlock()
}

// Watch reloads the file whenever it changes on disk and hands the new
// configuration to fn. A file that no longer parses keeps the old values.
func Watch(fn func(*Config, error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		err := reload()
		fn(Get(), err)
	})
	viper.WatchConfig()
}

// Save saves the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		// If we can't create it (e.g., /etc/scanout needs sudo), provide helpful message
		if os.IsPermission(err) && strings.Contains(configPath, "/etc/") {
			return fmt.Errorf("failed to create config directory %s: permission denied. Try running with sudo", dir)
		}
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}

	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	// Root owns the seat on most systems that run this
	if os.Getuid() == 0 || os.Getenv("SUDO_USER") != "" {
		return "/etc/scanout/scanout.toml"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/scanout/scanout.toml"
	}

	return filepath.Join(home, ".config", "scanout", "scanout.toml")
}
