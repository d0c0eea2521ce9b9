package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolder_GetReturnsInitialSnapshot(t *testing.T) {
	h, err := NewHolder(NewLoader(""), zerolog.New(io.Discard))
	require.NoError(t, err)
	assert.Equal(t, ":8080", h.Get().Listen)
}

func TestHolder_ReloadAppliesFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`listen: ":9090"`), 0o644))

	h, err := NewHolder(NewLoader(path), zerolog.New(io.Discard))
	require.NoError(t, err)
	assert.Equal(t, ":9090", h.Get().Listen)

	require.NoError(t, os.WriteFile(path, []byte(`listen: ":9999"`), 0o644))
	h.Reload()
	assert.Equal(t, ":9999", h.Get().Listen)
}

func TestHolder_ReloadKeepsPriorSnapshotOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`listen: ":9090"`), 0o644))

	h, err := NewHolder(NewLoader(path), zerolog.New(io.Discard))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("max_concurrent_streams: -1\n"), 0o644))
	h.Reload()
	assert.Equal(t, ":9090", h.Get().Listen)
}

func TestHolder_WatchReloadsOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`listen: ":9090"`), 0o644))

	h, err := NewHolder(NewLoader(path), zerolog.New(io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.Watch(ctx))
	defer h.Close()

	require.NoError(t, os.WriteFile(path, []byte(`listen: ":6060"`), 0o644))

	require.Eventually(t, func() bool {
		return h.Get().Listen == ":6060"
	}, 3*time.Second, 20*time.Millisecond, "watcher should reload on file write")
}
