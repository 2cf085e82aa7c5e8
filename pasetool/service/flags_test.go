package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMCPServerFlags(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		flags, err := ParseMCPServerFlags(nil)
		require.NoError(t, err)
		assert.Equal(t, MCPServerFlags{LogLevel: "info"}, flags)
	})

	t.Run("overrides", func(t *testing.T) {
		flags, err := ParseMCPServerFlags([]string{"--port", "9300", "--proxy-port=8300", "--config", "/tmp/c.json", "--log-level", "DEBUG"})
		require.NoError(t, err)
		assert.Equal(t, 9300, flags.MCPPort)
		assert.Equal(t, 8300, flags.ProxyPort)
		assert.Equal(t, "/tmp/c.json", flags.ConfigPath)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, args := range [][]string{
			{"--port", "70000"},
			{"--proxy-port", "-1"},
			{"--log-level", "loud"},
			{"--nope"},
		} {
			_, err := ParseMCPServerFlags(args)
			assert.Error(t, err, args)
		}
	})
}
