package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load_DefaultsOnly(t *testing.T) {
	loader := NewLoader("")
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, int64(8), cfg.MaxConcurrentStreams)
}

func TestLoader_Load_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
max_concurrent_streams: 4
catalog:
  driver: memory
`), 0o644))

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, int64(4), cfg.MaxConcurrentStreams)
}

func TestLoader_Load_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`listen: ":9090"`), 0o644))

	loader := NewLoader(path)
	loader.lookupEnv = func(key string) (string, bool) {
		if key == "GWD_LISTEN" {
			return ":7070", true
		}
		return "", false
	}
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Listen)
}

func TestLoader_Load_UnknownFieldIsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not_a_real_field: true\n"), 0o644))

	loader := NewLoader(path)
	_, err := loader.Load()
	assert.Error(t, err)
}

func TestLoader_Load_InvalidConfigFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_concurrent_streams: -1\n"), 0o644))

	loader := NewLoader(path)
	_, err := loader.Load()
	assert.Error(t, err)
}

func TestValidate_RejectsPostgresDriverWithoutDSN(t *testing.T) {
	cfg := Defaults()
	cfg.Catalog = CatalogConfig{Driver: "postgres"}
	assert.Error(t, Validate(cfg))
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	assert.NoError(t, Validate(Defaults()))
}
