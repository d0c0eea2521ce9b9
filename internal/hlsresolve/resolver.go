package hlsresolve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"gatewayd/internal/cache"
	"gatewayd/internal/gwerr"
	"gatewayd/internal/metrics"
)

// defaultTargetDuration is used when a playlist omits #EXT-X-TARGETDURATION.
const defaultTargetDuration = 6 * time.Second

// maxSegmentCacheTTL is the upper bound from §3 regardless of playlist
// target duration.
const maxSegmentCacheTTL = 30 * time.Second

// targetDurationMultiple is the TTL-per-target-duration factor from §3.
const targetDurationMultiple = 3

const maxSegmentFetchRetries = 5

const retryBaseBackoff = 250 * time.Millisecond

// Resolver maps a playlist URL + requested segment filename to the
// absolute upstream URL, and can optionally proxy the segment body with
// the retry policy from §4.3.
type Resolver struct {
	httpClient *http.Client
	cache      cache.Cache
	sf         singleflight.Group
	logger     zerolog.Logger
}

// New builds a segment Resolver. c should be bounded with
// cache.WithMaxEntries per §3 ("Bounded in entries; LRU eviction").
func New(httpClient *http.Client, c cache.Cache, logger zerolog.Logger) *Resolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Resolver{httpClient: httpClient, cache: c, logger: logger}
}

// ResolveSegment returns the absolute upstream URL for filename, given the
// already-resolved media playlistURL it belongs to. Results are cached
// under the {playlistURL, filename} fingerprint with a TTL derived from the
// playlist's #EXT-X-TARGETDURATION.
func (r *Resolver) ResolveSegment(ctx context.Context, playlistURL, filename string) (string, error) {
	fingerprint := playlistURL + "\x00" + filename

	if r.cache != nil {
		if v, ok := r.cache.Get(fingerprint); ok {
			if u, ok := v.(string); ok {
				metrics.SegmentCacheHits.Inc()
				return u, nil
			}
		}
		metrics.SegmentCacheMisses.Inc()
	}

	v, err, _ := r.sf.Do(fingerprint, func() (any, error) {
		return r.resolveAndCache(ctx, playlistURL, filename, fingerprint)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) resolveAndCache(ctx context.Context, playlistURL, filename, fingerprint string) (string, error) {
	base, playlist, err := r.fetchPlaylist(ctx, playlistURL)
	if err != nil {
		return "", err
	}

	var abs string
	if seg, ok := FindSegment(playlist, filename); ok {
		abs, err = resolveAbsolute(base, seg.URI)
		if err != nil {
			return "", gwerr.Wrap(gwerr.BadUpstream, "resolve segment url", err)
		}
	} else {
		// Legacy fallback: join the playlist's own directory with the
		// requested filename verbatim.
		abs, err = resolveAbsolute(base, filename)
		if err != nil {
			return "", gwerr.Wrap(gwerr.BadUpstream, "resolve fallback segment url", err)
		}
	}

	ttl := segmentCacheTTL(playlist.TargetDuration)
	if r.cache != nil {
		r.cache.Set(fingerprint, abs, ttl)
	}
	return abs, nil
}

func (r *Resolver) fetchPlaylist(ctx context.Context, playlistURL string) (*url.URL, *MediaPlaylist, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, nil, gwerr.Wrap(gwerr.UpstreamUnavailable, "fetch media playlist", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, nil, gwerr.New(gwerr.UpstreamUnavailable, fmt.Sprintf("media playlist status %d", resp.StatusCode))
	}

	finalURL := playlistURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	base, err := url.Parse(finalURL)
	if err != nil {
		return nil, nil, gwerr.Wrap(gwerr.BadUpstream, "parse media playlist base url", err)
	}

	playlist, err := ParseMediaPlaylist(resp.Body)
	if err != nil {
		return nil, nil, gwerr.Wrap(gwerr.BadUpstream, "parse media playlist", err)
	}
	return base, playlist, nil
}

func resolveAbsolute(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

func segmentCacheTTL(targetDurationSeconds int) time.Duration {
	td := defaultTargetDuration
	if targetDurationSeconds > 0 {
		td = time.Duration(targetDurationSeconds) * time.Second
	}
	ttl := td * targetDurationMultiple
	if ttl > maxSegmentCacheTTL {
		ttl = maxSegmentCacheTTL
	}
	return ttl
}

// FetchSegment proxies a segment body from segmentURL with the retry
// policy from §4.3: up to 5 retries with exponential backoff from 250 ms
// for network errors and 5xx, one retry for 404, none for 403.
func (r *Resolver) FetchSegment(ctx context.Context, segmentURL string) (io.ReadCloser, error) {
	backoff := retryBaseBackoff
	var lastErr error

	for attempt := 0; attempt <= maxSegmentFetchRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, segmentURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := r.httpClient.Do(req)
		if err != nil {
			lastErr = gwerr.Wrap(gwerr.UpstreamUnavailable, "fetch segment", err)
			if !r.sleepForRetry(ctx, &backoff) {
				break
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return nil, gwerr.New(gwerr.UpstreamUnavailable, "segment fetch forbidden (auth loss)")

		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			lastErr = gwerr.New(gwerr.NotFound, "segment not found")
			if attempt >= 1 {
				return nil, lastErr
			}
			if !r.sleepForRetry(ctx, &backoff) {
				return nil, lastErr
			}
			continue

		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = gwerr.New(gwerr.UpstreamUnavailable, fmt.Sprintf("segment fetch status %d", resp.StatusCode))
			if !r.sleepForRetry(ctx, &backoff) {
				return nil, lastErr
			}
			continue

		case resp.StatusCode >= 400:
			resp.Body.Close()
			return nil, gwerr.New(gwerr.BadUpstream, fmt.Sprintf("segment fetch status %d", resp.StatusCode))

		default:
			return resp.Body, nil
		}
	}
	if lastErr == nil {
		lastErr = gwerr.New(gwerr.UpstreamUnavailable, "segment fetch exhausted retries")
	}
	return nil, lastErr
}

func (r *Resolver) sleepForRetry(ctx context.Context, backoff *time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(*backoff):
		*backoff *= 2
		return true
	}
}
