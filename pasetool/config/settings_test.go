package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings(t *testing.T) {
	t.Parallel()

	t.Run("persisted", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		cfg := DefaultConfig("0.0.1")
		s := NewSettings(cfg, path)

		mark, err := s.MarkRequests()
		require.NoError(t, err)
		assert.False(t, mark)

		require.NoError(t, s.SetMarkRequests(true))
		mark, err = s.MarkRequests()
		require.NoError(t, err)
		assert.True(t, mark)

		loaded, err := Load(path)
		require.NoError(t, err)
		assert.True(t, loaded.MarkRequests)
	})

	t.Run("in_memory", func(t *testing.T) {
		s := NewSettings(&Config{MarkRequests: true}, "")
		mark, _ := s.MarkRequests()
		assert.True(t, mark)
		require.NoError(t, s.SetMarkRequests(false))
		mark, _ = s.MarkRequests()
		assert.False(t, mark)
	})

	t.Run("save_failure_keeps_previous", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "missing", "config.json")
		cfg := DefaultConfig("0.0.1")
		s := NewSettings(cfg, path)

		assert.Error(t, s.SetMarkRequests(true))
		mark, err := s.MarkRequests()
		require.NoError(t, err)
		assert.False(t, mark)
		assert.False(t, cfg.MarkRequests)
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("closed", func(t *testing.T) {
		s := NewSettings(&Config{MarkRequests: true}, "")
		s.Close()
		mark, err := s.MarkRequests()
		assert.ErrorIs(t, err, ErrSettingsClosed)
		assert.False(t, mark)
		assert.ErrorIs(t, s.SetMarkRequests(false), ErrSettingsClosed)
	})
}
