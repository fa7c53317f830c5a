package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 500*time.Millisecond, cfg.Editor.AutoFitInterval())
	assert.Equal(t, 80.0, cfg.Editor.ContainerPadding)
	assert.Equal(t, 2, cfg.Editor.GridColumns)
	assert.Equal(t, 80.0, cfg.Editor.GridPadding)
	assert.Equal(t, []string{"Unknown Subnet"}, cfg.Reconciler.Sentinels)
	assert.Equal(t, "memory", cfg.OutputStore.Driver)
	assert.Equal(t, "memory", cfg.Archive.Driver)
	assert.Equal(t, "memory", cfg.Feed.Driver)
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "canvas.yaml")
	content := []byte(`
server:
  address: ":9090"
catalog:
  driver: static
  static_path: catalog.json
logging:
  format: text
  output_paths: [stdout, logs/canvas.log]
feed:
  driver: redis
  redis:
    address: "localhost:6379"
    queue: runs
reconciler:
  chainable: [summarizer]
editor:
  grid_padding: 24
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, filepath.Join(dir, "catalog.json"), cfg.Catalog.StaticPath)
	assert.Equal(t, "stdout", cfg.Logging.OutputPaths[0])
	assert.Equal(t, filepath.Join(dir, "logs", "canvas.log"), cfg.Logging.OutputPaths[1])
	assert.Equal(t, "localhost:6379", cfg.Feed.Redis.Address)
	assert.Equal(t, "runs", cfg.Feed.Redis.Queue)
	assert.Equal(t, []string{"summarizer"}, cfg.Reconciler.Chainable)
	assert.Equal(t, 24.0, cfg.Editor.GridPadding)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Parse([]byte("server: [unclosed"))
	require.Error(t, err)
}
