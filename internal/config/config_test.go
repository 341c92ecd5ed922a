package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "native", cfg.Engine.Backend)
	assert.Equal(t, 30*24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 50.0, cfg.Detector.ThresholdPct)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
engine:
  backend: columnar
  workers: 4
detector:
  threshold_pct: 33
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "columnar", cfg.Engine.Backend)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 33.0, cfg.Detector.ThresholdPct)
	// Untouched sections keep defaults.
	assert.Equal(t, 500, cfg.Cache.LRUCapacity)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("STOCKLAB_DB_DSN", "postgres://env/db")
	t.Setenv("STOCKLAB_HTTP_PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Database.DSN)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestUnknownBackendRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  backend: pandas\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown engine backend")
}
