package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/scanout/internal/config"
	"github.com/bnema/scanout/internal/kms"
)

func cardDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0600))
	}
	return dir
}

func TestCardPaths(t *testing.T) {
	twoCards := cardDir(t, "card0", "card1", "renderD128")

	tests := []struct {
		name     string
		device   string
		paths    []string
		dir      string
		expected []string
		wantErr  bool
	}{
		{
			name:     "device flag wins",
			device:   "/dev/dri/card7",
			paths:    []string{"/dev/dri/card1"},
			dir:      twoCards,
			expected: []string{"/dev/dri/card7"},
		},
		{
			name:     "configured paths",
			paths:    []string{"/dev/dri/card1", "/dev/dri/card2"},
			dir:      twoCards,
			expected: []string{"/dev/dri/card1", "/dev/dri/card2"},
		},
		{
			name: "single card drives everything",
			dir:  cardDir(t, "card0", "renderD128"),
		},
		{
			name: "several cards without a terminal",
			dir:  twoCards,
		},
		{
			name:    "no cards",
			dir:     cardDir(t, "renderD128", "by-path"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig
			cfg.Device.Paths = tt.paths

			paths, err := cardPaths(tt.device, &cfg, tt.dir, false)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, paths)
		})
	}
}

func TestGPUOptions(t *testing.T) {
	cfg := config.DefaultConfig
	cfg.KMS.DisableModifiers = true
	cfg.KMS.SoftwareCursor = true
	cfg.KMS.ShufflePolicy = "Relaxed"

	opts, err := gpuOptions(&cfg)
	require.NoError(t, err)
	assert.True(t, opts.DisableModifiers)
	assert.True(t, opts.SoftwareCursor)
	assert.Equal(t, 30*time.Second, opts.IdleTimeout)
	assert.Equal(t, kms.ShuffleRelaxed, opts.ShufflePolicy)

	cfg.KMS.ShufflePolicy = "chaotic"
	_, err = gpuOptions(&cfg)
	assert.Error(t, err)
}

func TestBackendOptions(t *testing.T) {
	cfg := config.DefaultConfig
	cfg.KMS.DisableAtomic = true

	opts, err := backendOptions(&cfg, []string{"/dev/dri/card1"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/dri/card1"}, opts.Paths)
	assert.Equal(t, "/dev/dri", opts.CardDir)
	assert.True(t, opts.DisableAtomic)
	assert.True(t, opts.Hotplug)
	assert.Equal(t, kms.ShuffleStrict, opts.GPU.ShufflePolicy)
}

func TestDeviceLabel(t *testing.T) {
	assert.Equal(t, "all cards", deviceLabel(nil))
	assert.Equal(t, "/dev/dri/card1", deviceLabel([]string{"/dev/dri/card1"}))
	assert.Equal(t, "2 cards", deviceLabel([]string{"/dev/dri/card0", "/dev/dri/card1"}))
}

func TestStdinIsTerminalFalseForPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})

	stdin := os.Stdin
	os.Stdin = r
	t.Cleanup(func() { os.Stdin = stdin })

	assert.False(t, stdinIsTerminal())
}
