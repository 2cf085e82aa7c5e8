package proxy

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertManager(t *testing.T) {
	t.Parallel()

	t.Run("generate_then_reload", func(t *testing.T) {
		dir := t.TempDir()
		first, err := NewCertManager(dir, zerolog.Nop())
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(dir, caCertFile))
		assert.FileExists(t, filepath.Join(dir, caKeyFile))

		second, err := NewCertManager(dir, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, first.CACert().Raw, second.CACert().Raw)
		assert.Contains(t, string(second.CACertPEM()), "BEGIN CERTIFICATE")
	})

	t.Run("leaf_chains_to_ca", func(t *testing.T) {
		m, err := NewCertManager(t.TempDir(), zerolog.Nop())
		require.NoError(t, err)

		for _, host := range []string{"api.test", "127.0.0.1"} {
			cert, err := m.GetCertificate(host)
			require.NoError(t, err)
			leaf, err := x509.ParseCertificate(cert.Certificate[0])
			require.NoError(t, err)

			roots := x509.NewCertPool()
			roots.AddCert(m.CACert())
			_, err = leaf.Verify(x509.VerifyOptions{DNSName: host, Roots: roots})
			assert.NoError(t, err, host)
		}
	})

	t.Run("leaf_cached", func(t *testing.T) {
		m, err := NewCertManager(t.TempDir(), zerolog.Nop())
		require.NoError(t, err)
		a, err := m.GetCertificate("c.test")
		require.NoError(t, err)
		b, err := m.GetCertificate("c.test")
		require.NoError(t, err)
		assert.Same(t, a, b)
	})

	t.Run("orphaned_key", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, caKeyFile), []byte("x"), 0600))
		_, err := NewCertManager(dir, zerolog.Nop())
		assert.Error(t, err)
	})
}
