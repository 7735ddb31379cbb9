package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("FLEET_CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.Host)
	require.Equal(t, "9100", cfg.Port)
	require.Equal(t, 3, cfg.CallRetries)
	require.Equal(t, 10*time.Second, cfg.IdleTimeout())
	require.Equal(t, 5*time.Second, cfg.DeviceTimeout())
	require.Empty(t, cfg.StaticDeviceIPs)
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("PORT", "8080")
	t.Setenv("STATIC_DEVICE_IPS", "10.0.0.5, 10.0.0.6")
	t.Setenv("LIBRARY_WATCH", "false")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, []string{"10.0.0.5", "10.0.0.6"}, cfg.StaticDeviceIPs)
	require.False(t, cfg.LibraryWatch)
}

func TestFileOverlayWinsOverEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7000\"\nidle_timeout_ms: 2500\n"), 0o644))

	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("PORT", "8080")
	t.Setenv("FLEET_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "7000", cfg.Port)
	require.Equal(t, 2500*time.Millisecond, cfg.IdleTimeout())
}
