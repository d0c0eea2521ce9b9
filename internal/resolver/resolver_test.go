package resolver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewayd/internal/cache"
)

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360,CODECS="avc1.42e00a,mp4a.40.2"
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1280x720,CODECS="avc1.4d001f,mp4a.40.2"
mid/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=6000000,RESOLUTION=1920x1080,CODECS="avc1.640028,mp4a.40.2"
high/index.m3u8
`

const singleVariantPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=3000000,RESOLUTION=1280x720
only/index.m3u8
`

const encryptedMasterPlaylist = `#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="https://example.com/key"
#EXT-X-STREAM-INF:BANDWIDTH=2000000
variant/index.m3u8
`

func TestParseMasterPlaylist_VariantSelection(t *testing.T) {
	playlist, err := ParseMasterPlaylist(strings.NewReader(masterPlaylist))
	require.NoError(t, err)
	require.Len(t, playlist.Variants, 3)

	highest, err := selectVariant(playlist.Variants, QualityHighest)
	require.NoError(t, err)
	assert.Equal(t, 6000000, highest.Bandwidth)

	lowest, err := selectVariant(playlist.Variants, QualityLowest)
	require.NoError(t, err)
	assert.Equal(t, 800000, lowest.Bandwidth)

	medium, err := selectVariant(playlist.Variants, QualityMedium)
	require.NoError(t, err)
	assert.Equal(t, 2000000, medium.Bandwidth)
}

func TestParseMasterPlaylist_SingleVariantNeedsNoSelection(t *testing.T) {
	playlist, err := ParseMasterPlaylist(strings.NewReader(singleVariantPlaylist))
	require.NoError(t, err)
	require.Len(t, playlist.Variants, 1)

	v, err := selectVariant(playlist.Variants, QualityHighest)
	require.NoError(t, err)
	assert.Equal(t, 3000000, v.Bandwidth)
}

func TestParseMasterPlaylist_Encrypted(t *testing.T) {
	playlist, err := ParseMasterPlaylist(strings.NewReader(encryptedMasterPlaylist))
	require.NoError(t, err)
	assert.True(t, playlist.Encrypted)
	assert.Equal(t, "AES-128", playlist.KeyMethod)
}

func TestResolver_EncryptedMasterPassesThroughUnchanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, encryptedMasterPlaylist)
	}))
	defer srv.Close()

	r := New(srv.Client(), cache.NewMemoryCache(0), nil, time.Minute, zerolog.New(io.Discard))
	got, res, err := r.Resolve(context.Background(), srv.URL+"/master.m3u8", QualityHighest, false)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Encrypted)
	assert.Equal(t, srv.URL+"/master.m3u8", got)
}

func TestResolver_SelectsHighestVariantByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, masterPlaylist)
	}))
	defer srv.Close()

	r := New(srv.Client(), cache.NewMemoryCache(0), nil, time.Minute, zerolog.New(io.Discard))
	got, _, err := r.Resolve(context.Background(), srv.URL+"/master.m3u8", QualityHighest, false)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/high/index.m3u8", got)
}

func TestResolver_NonHLSURLPassesThrough(t *testing.T) {
	r := New(http.DefaultClient, cache.NewMemoryCache(0), nil, time.Minute, zerolog.New(io.Discard))
	got, res, err := r.Resolve(context.Background(), "http://example.com/live.ts", QualityHighest, false)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, "http://example.com/live.ts", got)
}
