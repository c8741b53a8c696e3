package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.AuthTimeout)
	assert.Equal(t, 256, cfg.SendQueueSize)
	assert.Equal(t, 30, cfg.Limits.ActionsPerMinute)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	data := []byte("port: 9090\nmonster_delay: 250ms\nlimits:\n  chat_per_minute: 5\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.MonsterDelay)
	assert.Equal(t, 5, cfg.Limits.ChatPerMinute)
	// Untouched fields keep defaults.
	assert.Equal(t, 30*time.Second, cfg.DisconnectGrace)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\n"), 0o644))

	t.Setenv("PORT", "7000")
	t.Setenv("DATABASE_PATH", "postgres://env/db")
	t.Setenv("POCKET_ID_URL", "https://id.example.com")
	t.Setenv("SESSION_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "postgres://env/db", cfg.DatabaseURL)
	assert.Equal(t, "https://id.example.com", cfg.Auth.IssuerURL)
	assert.Equal(t, "s3cret", cfg.Auth.SessionSecret)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not a port\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("PORT", "99999")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestAddr(t *testing.T) {
	cfg := Default()
	cfg.BindAddress = "127.0.0.1"
	cfg.Port = 8081
	assert.Equal(t, "127.0.0.1:8081", cfg.Addr())
}
