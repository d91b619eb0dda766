package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/devrev/docmap/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
store:
  connection_string: "mongodb://localhost:27017"
  database: "app"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10_000, cfg.Cleaner.LowerBoundMillis)
	assert.Equal(t, 60_000, cfg.Cleaner.UpperBoundMillis)
	assert.Equal(t, 10, cfg.Cleaner.PartialCleanUpPercent)
	assert.Equal(t, "app", cfg.Store.Database)
}

func TestLoad_InvalidBounds(t *testing.T) {
	path := writeConfig(t, `
store:
  connection_string: "mongodb://localhost:27017"
  database: "app"
cleaner:
  lower_bound_ms: 5000
  upper_bound_ms: 1000
`)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoad_MissingConnectionString(t *testing.T) {
	path := writeConfig(t, `
store:
  database: "app"
`)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
store:
  connection_string: "mongodb://placeholder:27017"
  database: "app"
`)

	t.Setenv("DOCMAP_CONNECTION_STRING", "mongodb://real:27017")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mongodb://real:27017", cfg.Store.ConnectionString)
}
