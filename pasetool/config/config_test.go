package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig("0.0.1")

	assert.Equal(t, "0.0.1", cfg.Version)
	assert.Equal(t, DefaultMCPPort, cfg.MCPPort)
	assert.Equal(t, DefaultProxyPort, cfg.ProxyPort)
	assert.Equal(t, DefaultMaxBodyBytes, cfg.MaxBodyBytes)
	assert.False(t, cfg.MarkRequests)
	assert.Zero(t, cfg.Pending.MaxEntries)
	assert.Zero(t, cfg.Pending.TTL)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Dial.Std())
	assert.False(t, cfg.InitializedAt.IsZero())
}

func TestLoadSaveRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	original := DefaultConfig("0.0.1")
	original.InitializedAt = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	original.MarkRequests = true
	original.Pending = PendingConfig{MaxEntries: 16, TTL: Duration(5 * time.Minute)}

	require.NoError(t, original.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ttl": "5m0s"`)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("not_exist", func(t *testing.T) {
		_, err := Load("/nonexistent/path/config.json")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("defaults_applied", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"version":"0.0.1","mark_requests":true}`), 0644))
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.True(t, cfg.MarkRequests)
		assert.Equal(t, DefaultMCPPort, cfg.MCPPort)
		assert.Equal(t, DefaultMaxBodyBytes, cfg.MaxBodyBytes)
	})

	t.Run("bad_duration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"pending":{"ttl":"soon"}}`), 0644))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("invalid_json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestLoadOrCreatePath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.json")
	created, err := LoadOrCreatePath(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, Version, created.Version)

	created.ProxyPort = 9000
	require.NoError(t, created.Save(path))
	loaded, err := LoadOrCreatePath(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, loaded.ProxyPort)
}

func TestDurationJSON(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"90s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())
	require.NoError(t, json.Unmarshal([]byte(`""`), &d))
	assert.Zero(t, d)
	assert.Error(t, json.Unmarshal([]byte(`"-1s"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`30`), &d))

	b, err := json.Marshal(Duration(0))
	require.NoError(t, err)
	assert.Equal(t, `""`, string(b))
}
