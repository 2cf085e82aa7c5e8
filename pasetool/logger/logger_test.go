package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"debug": zerolog.DebugLevel,
		"WARN":  zerolog.WarnLevel,
		"bogus": zerolog.InfoLevel,
		"error": zerolog.ErrorLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewProduction(t *testing.T) {
	var buf bytes.Buffer
	log := NewProduction(&buf)
	log.Info().Str("component", "engine").Msg("edit armed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, "edit armed", line["message"])
	assert.Contains(t, line, "time")
}

func TestNewDevelopment(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewDevelopment(&buf)
	log.Warn().Msg("stale marker")
	assert.Contains(t, buf.String(), "WRN")
	assert.Contains(t, buf.String(), "stale marker")
}
