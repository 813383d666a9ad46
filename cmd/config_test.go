package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/scanout/internal/config"
)

// executeCommand runs the root command with args and returns what it printed.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	reset := func() {
		viper.Reset()
		config.Set(nil)
		config.SetConfigPath("")
		configFile = ""
		logLevel = ""
	}
	reset()
	t.Cleanup(reset)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scanout.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "scanout "+Version)
	assert.Contains(t, out, "commit: "+Commit)
}

func TestConfigShow(t *testing.T) {
	path := writeConfig(t, `[device]
paths = ["/dev/dri/card1"]
session = "direct"

[kms]
shuffle_policy = "relaxed"
idle_timeout = "10s"
`)

	out, err := executeCommand(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.Contains(t, out, "/dev/dri/card1")
	assert.Contains(t, out, "direct")
	assert.Contains(t, out, "relaxed")
	assert.Contains(t, out, "10s")
	assert.Contains(t, out, "(LOG_LEVEL)")
}

func TestConfigPath(t *testing.T) {
	path := writeConfig(t, "")

	out, err := executeCommand(t, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)
}

func TestConfigSave(t *testing.T) {
	path := writeConfig(t, "[kms]\nsoftware_cursor = true\n")

	_, err := executeCommand(t, "--config", path, "config", "save")
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "software_cursor = true")
	assert.Contains(t, string(content), "shuffle_policy")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	t.Run("bad TOML", func(t *testing.T) {
		path := writeConfig(t, "[kms\nidle_timeout = 1\n")
		_, err := executeCommand(t, "--config", path, "config", "show")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})

	t.Run("unknown session backend", func(t *testing.T) {
		path := writeConfig(t, "[device]\nsession = \"seatd\"\n")
		_, err := executeCommand(t, "--config", path, "config", "show")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "device.session")
	})
}
