package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ORDERCAST_JWT_SECRET", "a-test-secret-of-length")

	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "/ws", cfg.Websocket.Path)
	assert.Equal(t, 256, cfg.Websocket.QueueSize)
	assert.Equal(t, 30*time.Second, cfg.Websocket.PingInterval)
	assert.Equal(t, 24*time.Hour, cfg.Security.TokenTTL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "0.0.0.0:5000", cfg.ListenAddr())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv("ORDERCAST_JWT_SECRET", "a-test-secret-of-length")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  port: 9090
websocket:
  queue_size: 32
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 32, cfg.Websocket.QueueSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched fields keep their defaults.
	assert.Equal(t, "/ws", cfg.Websocket.Path)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("ORDERCAST_JWT_SECRET", "a-test-secret-of-length")
	t.Setenv("ORDERCAST_SERVER_PORT", "7777")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
}

func TestUnknownEnvVarsAreIgnored(t *testing.T) {
	t.Setenv("ORDERCAST_JWT_SECRET", "a-test-secret-of-length")
	t.Setenv("ORDERCAST_BOGUS_SETTING", "boom")

	_, err := LoadFile("")
	assert.NoError(t, err)
}

func TestValidation(t *testing.T) {
	t.Run("missing jwt secret fails", func(t *testing.T) {
		cfg := defaultConfig()
		assert.Error(t, cfg.Validate())
	})

	t.Run("short jwt secret fails", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Security.JWTSecret = "short"
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad log level fails", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Security.JWTSecret = "a-test-secret-of-length"
		cfg.Logging.Level = "loud"
		assert.Error(t, cfg.Validate())
	})

	t.Run("out of range port fails", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Security.JWTSecret = "a-test-secret-of-length"
		cfg.Server.Port = 70000
		assert.Error(t, cfg.Validate())
	})
}
