package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ".", cfg.Root)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
	assert.True(t, cfg.CacheOn())
	assert.True(t, cfg.TunerOn())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
root: /srv/corpora
logging:
  level: debug
search:
  default_max_candidates: 12
  per_file_cap: 2
cache:
  enabled: false
  ttl: 5m
embeddings:
  provider: static
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/corpora", cfg.Root)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 12, cfg.Search.DefaultMaxCandidates)
	assert.Equal(t, 2, cfg.Search.PerFileCap)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.False(t, cfg.CacheOn())
	assert.Equal(t, "static", cfg.Embed.Provider)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root: /from/yaml\n"), 0o644))
	t.Setenv("DOCSIFT_ROOT", "/from/env")
	t.Setenv("DOCSIFT_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.Root)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("search:\n  default_time_ms: -1\n"), 0o644))
	_, err := Load(bad)
	assert.Error(t, err)

	badProvider := filepath.Join(dir, "prov.yaml")
	require.NoError(t, os.WriteFile(badProvider, []byte("embeddings:\n  provider: cloud\n"), 0o644))
	_, err = Load(badProvider)
	assert.Error(t, err)

	notYAML := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(notYAML, []byte("{{{"), 0o644))
	_, err = Load(notYAML)
	assert.Error(t, err)
}
