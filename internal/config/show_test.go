package config

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.TokenPath = "/custom/creds.json"

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(cfg, &buf))

	out := buf.String()
	assert.Contains(t, out, `server_url      = "http://localhost:8000"`)
	assert.Contains(t, out, `poll_interval   = "2s"`)
	assert.Contains(t, out, `token_path      = "/custom/creds.json"`)
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteDefault(&buf))

	// The starter file is all comments; loading it must yield pure defaults.
	path := writeConfig(t, buf.String())

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
