package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeYAML(t, `
upstream_addr: sim:9010
listen_addr: ":8080"
write_timeout: 5s
reconnect_attempts: 2
allowed_origins: ["viewer.example"]
`)

	cfg, err := load(path, env(map[string]string{
		"RELAY_LISTEN_ADDR":          ":9999",
		"RELAY_RECONNECT_ATTEMPTS":   "0",
		"RELAY_CLIENT_MESSAGE_LIMIT": "128",
		"RELAY_ALLOWED_ORIGINS":      "a.example, b.example,",
		"RELAY_LOG_FORMAT":           "console",
	}))
	require.NoError(t, err)

	assert.Equal(t, "sim:9010", cfg.UpstreamAddr)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 0, cfg.ReconnectAttempts)
	assert.Equal(t, int64(128), cfg.ClientMessageLimit)
	assert.Equal(t, []string{"a.example", "b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoad_UnknownFileKey(t *testing.T) {
	path := writeYAML(t, "upstream: sim:9010\n")
	_, err := load(path, env(nil))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), env(nil))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_BadEnvValues(t *testing.T) {
	_, err := load("", env(map[string]string{
		"RELAY_OUTBOX_SIZE":   "lots",
		"RELAY_WRITE_TIMEOUT": "3",
	}))
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.FrameBufferSize = 2
	cfg.ReconnectAttempts = -1
	cfg.ReconnectMax = time.Millisecond
	cfg.LogFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 4)
	assert.NoError(t, Default().Validate())
}
