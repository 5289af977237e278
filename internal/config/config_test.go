package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  host: "127.0.0.1"
  port: "9090"
auth:
  jwt_secret: "file-secret-long-enough!"
store:
  driver: "badger"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Address())
	assert.Equal(t, "file-secret-long-enough!", cfg.Auth.JWTSecret)
	assert.Equal(t, "badger", cfg.Store.Driver)

	// Fields absent from the file fall back to env defaults.
	assert.Equal(t, 3*time.Second, cfg.Stream.SnapshotTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Reconciler.Interval)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestMustLoadHonorsConfigPath(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: "7070"
`)
	t.Setenv("CONFIG_PATH", path)

	cfg := MustLoad()
	assert.Equal(t, "7070", cfg.Server.Port)
}
