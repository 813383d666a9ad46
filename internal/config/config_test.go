package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir changes the working directory for the duration of the test,
// like testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func resetConfig(t *testing.T) {
	t.Helper()
	viper.Reset()
	Set(nil)
	configPathOverride = ""
	t.Cleanup(func() {
		viper.Reset()
		Set(nil)
		configPathOverride = ""
	})
}

func TestInit(t *testing.T) {
	t.Run("initializes with defaults when no config exists", func(t *testing.T) {
		resetConfig(t)
		chdir(t, t.TempDir())
		t.Setenv("HOME", t.TempDir())
		require.NoError(t, Init())

		config := Get()
		require.NotNil(t, config)
		assert.Equal(t, SessionAuto, config.Device.Session)
		assert.Equal(t, 30*time.Second, config.KMS.IdleTimeout)
		assert.Equal(t, "strict", config.KMS.ShufflePolicy)
		assert.False(t, config.KMS.DisableAtomic)
	})

	t.Run("reads every section", func(t *testing.T) {
		resetConfig(t)
		path := filepath.Join(t.TempDir(), "scanout.toml")
		content := `[device]
paths = ["/dev/dri/card1"]
session = "direct"

[kms]
disable_modifiers = true
idle_timeout = "5s"
shuffle_policy = "relaxed"
software_cursor = true

[logging]
log_level = "debug"
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		SetConfigPath(path)
		require.NoError(t, Init())

		c := Get()
		assert.Equal(t, []string{"/dev/dri/card1"}, c.Device.Paths)
		assert.Equal(t, SessionDirect, c.Device.Session)
		assert.True(t, c.KMS.DisableModifiers)
		assert.True(t, c.KMS.SoftwareCursor)
		assert.Equal(t, 5*time.Second, c.KMS.IdleTimeout)
		assert.Equal(t, "relaxed", c.KMS.ShufflePolicy)
		assert.Equal(t, "debug", c.Logging.LogLevel)
	})

	t.Run("handles invalid TOML gracefully", func(t *testing.T) {
		resetConfig(t)
		path := filepath.Join(t.TempDir(), "scanout.toml")
		require.NoError(t, os.WriteFile(path, []byte("[kms\nidle_timeout = 1"), 0644))
		SetConfigPath(path)

		err := Init()
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "reading config"), err.Error())
	})

	t.Run("rejects unknown policy", func(t *testing.T) {
		resetConfig(t)
		path := filepath.Join(t.TempDir(), "scanout.toml")
		require.NoError(t, os.WriteFile(path, []byte("[kms]\nshuffle_policy = \"greedy\"\n"), 0644))
		SetConfigPath(path)

		err := Init()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "shuffle_policy")
	})
}

func TestEnvironmentEscapeHatches(t *testing.T) {
	resetConfig(t)
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SCANOUT_NO_MODIFIERS", "1")
	t.Setenv("SCANOUT_NO_AMS", "true")

	require.NoError(t, Init())
	assert.True(t, Get().KMS.DisableModifiers)
	assert.True(t, Get().KMS.DisableAtomic)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"logind", func(c *Config) { c.Device.Session = "Logind" }, ""},
		{"bad session", func(c *Config) { c.Device.Session = "seatd" }, "device.session"},
		{"bad policy", func(c *Config) { c.KMS.ShufflePolicy = "greedy" }, "kms.shuffle_policy"},
		{"negative timeout", func(c *Config) { c.KMS.IdleTimeout = -time.Second }, "idle_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigPathResolution(t *testing.T) {
	tests := []struct {
		name         string
		setupEnv     func(t *testing.T)
		expectedPath string
	}{
		{
			name: "normal user",
			setupEnv: func(t *testing.T) {
				t.Setenv("HOME", "/home/testuser")
				t.Setenv("SUDO_USER", "")
			},
			expectedPath: "/home/testuser/.config/scanout/scanout.toml",
		},
		{
			name: "running with sudo",
			setupEnv: func(t *testing.T) {
				t.Setenv("SUDO_USER", "testuser")
			},
			expectedPath: "/etc/scanout/scanout.toml",
		},
		{
			name:         "override",
			setupEnv:     func(t *testing.T) { SetConfigPath("/tmp/custom.toml") },
			expectedPath: "/tmp/custom.toml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetConfig(t)
			tt.setupEnv(t)

			path := GetConfigPath()
			if tt.name == "normal user" && os.Getuid() == 0 {
				// root always resolves to the system file
				assert.Equal(t, "/etc/scanout/scanout.toml", path)
				return
			}
			assert.Equal(t, tt.expectedPath, path)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	resetConfig(t)
	path := filepath.Join(t.TempDir(), "nested", "scanout.toml")
	SetConfigPath(path)

	viper.Set("kms.shuffle_policy", "relaxed")
	require.NoError(t, Save())

	resetConfig(t)
	SetConfigPath(path)
	require.NoError(t, Init())
	assert.Equal(t, "relaxed", Get().KMS.ShufflePolicy)
	assert.Equal(t, 30*time.Second, Get().KMS.IdleTimeout)
}
