package config

import (
	"context"
	"path/filepath"
	"testing"

	v1 "github.com/asus-linux/supergfxd/api/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("default values", func(t *testing.T) {
		cfg, err := DefaultConfig(ctx)
		require.NoError(t, err)

		assert.Equal(t, v1.DefaultLogoutTimeoutSeconds*1e9, cfg.LogoutTimeout.Duration.Nanoseconds())
		assert.Equal(t, v1.HotplugStd, cfg.HotplugType)
		assert.False(t, cfg.VfioEnable)
		assert.False(t, cfg.NoLogind)
	})

	t.Run("with options", func(t *testing.T) {
		cfg, err := DefaultConfig(ctx, WithVfioEnable(true))
		require.NoError(t, err)
		assert.True(t, cfg.VfioEnable)
	})

	t.Run("with custom data dir", func(t *testing.T) {
		tempDir := t.TempDir()
		customDir := filepath.Join(tempDir, "data-dir")

		dir, err := DefaultStateDir(WithDataDir(customDir))
		require.NoError(t, err)
		assert.Equal(t, customDir, dir)
	})
}

func TestDefaultStateFile(t *testing.T) {
	path, err := DefaultStateFile()
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.Contains(t, path, "supergfxd.db")
}
