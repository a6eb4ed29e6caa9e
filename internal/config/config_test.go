package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "absent.yaml"))

	assert.Equal(t, "2.0", cfg.Generation)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 50, cfg.MinTables)
	assert.Equal(t, "metadata", cfg.MetadataDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Light)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rssx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"dbUrl: postgres://localhost/rss\n"+
			"inputDir: /data/ssurgo\n"+
			"state: NM\n"+
			"fiscalYear: 2025\n"+
			"light: true\n"+
			"workers: 8\n"), 0o644))

	cfg := Load(path)

	assert.Equal(t, "postgres://localhost/rss", cfg.DBURL)
	assert.Equal(t, "/data/ssurgo", cfg.InputDir)
	assert.Equal(t, "NM", cfg.State)
	assert.Equal(t, 2025, cfg.FiscalYear)
	assert.True(t, cfg.Light)
	assert.Equal(t, 8, cfg.Workers)
	// untouched keys keep their defaults
	assert.Equal(t, "2.0", cfg.Generation)
	assert.Equal(t, 50, cfg.MinTables)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rssx.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 8\ngeneration: \"1.0\"\n"), 0o644))

	t.Setenv("RSSX_WORKERS", "2")
	t.Setenv("RSSX_LIGHT", "yes")
	t.Setenv("RSSX_GENERATION", "")

	cfg := Load(path)

	assert.Equal(t, 2, cfg.Workers)
	assert.True(t, cfg.Light)
	assert.Equal(t, "1.0", cfg.Generation, "blank env var does not override")
}

func TestLoadBadEnvIntFallsBack(t *testing.T) {
	t.Setenv("RSSX_WORKERS", "lots")
	cfg := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Equal(t, 4, cfg.Workers)
}
