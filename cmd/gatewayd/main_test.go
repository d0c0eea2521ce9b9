package main

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewayd/internal/config"
	"gatewayd/internal/session"
)

func TestBuildCatalog_DefaultsToMemory(t *testing.T) {
	cat, closeFn, err := buildCatalog(context.Background(), config.CatalogConfig{Driver: "memory"}, zerolog.New(io.Discard))
	require.NoError(t, err)
	defer closeFn()
	assert.NotNil(t, cat)
}

func TestBuildAuditSink_NopWhenAuditPathUnset(t *testing.T) {
	sink, closeFn, err := buildAuditSink(config.CatalogConfig{Driver: "memory"})
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, session.NopAuditSink{}, sink)
}

func TestBuildAuditSink_OpensBadgerWhenAuditPathSet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	sink, closeFn, err := buildAuditSink(config.CatalogConfig{Driver: "memory", AuditPath: dir})
	require.NoError(t, err)
	defer closeFn()
	assert.NotNil(t, sink)
	assert.NotIsType(t, session.NopAuditSink{}, sink)
}

func TestBuildCaches_DefaultsToMemory(t *testing.T) {
	segCache, resCache, closeFn, err := buildCaches(config.CacheConfig{Driver: "memory"}, zerolog.New(io.Discard))
	require.NoError(t, err)
	defer closeFn()
	assert.NotNil(t, segCache)
	assert.NotNil(t, resCache)
}
