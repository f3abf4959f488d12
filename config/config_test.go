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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.PostgresHost)
	assert.Equal(t, 8, cfg.GlobalConcurrency)
	assert.Equal(t, 3, cfg.PerSourceConcurrency)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit())
	assert.Equal(t, 20, cfg.MaxPhotos)
	assert.Empty(t, cfg.TargetAreas)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("GLOBAL_CONCURRENCY", "16")
	t.Setenv("FETCH_TIMEOUT", "5s")
	t.Setenv("TARGET_AREAS", "Znojmo, Brno-venkov")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.PostgresHost)
	assert.Equal(t, 16, cfg.GlobalConcurrency)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.Equal(t, []string{"Znojmo", "Brno-venkov"}, cfg.TargetAreas)
	assert.Contains(t, cfg.DSN(), "host=db.internal")
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvester.yaml")
	yaml := `
target_areas:
  - Znojmo
price_ceilings:
  house: 10000000
  land: 0
triggers:
  - name: incremental
    schedule: "*/30 * * * *"
    sources: [sreality, bezrealitky]
  - name: nightly-full
    schedule: "0 3 * * *"
    sources: [sreality]
    full_rescan: true
sources:
  - code: sreality
    name: Sreality
    base_url: https://www.sreality.cz
    kind: jsonfeed
    options:
      list_url: https://www.sreality.cz/api/list?page={page}
  - code: bezrealitky
    name: Bezrealitky
    base_url: https://www.bezrealitky.cz
    kind: html
    active: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"Znojmo"}, cfg.TargetAreas)
	assert.InDelta(t, 10000000, cfg.PriceCeilings["house"], 0.1)
	require.Len(t, cfg.Triggers, 2)
	assert.Equal(t, "nightly-full", cfg.Triggers[1].Name)
	assert.True(t, cfg.Triggers[1].FullRescan)
	assert.Equal(t, []string{"sreality", "bezrealitky"}, cfg.Triggers[0].Sources)

	require.Len(t, cfg.Sources, 2)
	assert.True(t, cfg.Sources[0].IsActive())
	assert.False(t, cfg.Sources[1].IsActive())
	assert.Equal(t, "https://www.sreality.cz/api/list?page={page}", cfg.Sources[0].Options["list_url"])
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Setenv("GLOBAL_CONCURRENCY", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "global_concurrency")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
