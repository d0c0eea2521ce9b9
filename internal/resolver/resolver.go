// Package resolver implements the Upstream Resolver: it takes a Stream's
// configured URL and produces the concrete upstream to hand to the
// Subprocess Supervisor, unwrapping beacon/tracker redirects and selecting
// an HLS variant by quality preference.
package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"gatewayd/internal/cache"
	"gatewayd/internal/gwerr"
)

// Quality is the HLS variant selection preference.
type Quality string

const (
	QualityHighest Quality = "highest"
	QualityLowest  Quality = "lowest"
	QualityMedium  Quality = "medium"
)

// DefaultQuality is used when a request does not override preference.
const DefaultQuality = QualityHighest

// cacheTTLFraction makes the cache TTL 90% of the typical signed-URL expiry (default 25 min), so a
// cached selection is always refreshed before the underlying URL goes stale.
const cacheTTLFraction = 0.9

const maxRedirectHops = 5

// Variant is one #EXT-X-STREAM-INF entry from an HLS master playlist.
type Variant struct {
	Bandwidth  int
	Resolution string
	Codecs     string
	URI        string // as written by ParseMasterPlaylist; absolute once fetchAndParse resolves it
}

// Resolution is the cached outcome of resolving one master-playlist URL.
type Resolution struct {
	FinalURL  string // master URL after beacon unwrap + redirects
	Encrypted bool
	KeyMethod string
	Variants  []Variant
	ResolvedAt time.Time
}

// Resolver resolves a Stream URL to a concrete upstream URL.
type Resolver struct {
	httpClient   *http.Client
	cache        cache.Cache
	sf           singleflight.Group
	logger       zerolog.Logger
	beaconParams []string
	renewalTTL   time.Duration
}

// New builds a Resolver. beaconParams is the configurable list of query
// parameter names that mark a URL as a beacon/tracker redirect (e.g. "bcn",
// "redirect_url"). renewalTTL is the typical signed-URL expiry (default 25m);
// cache entries live for 90% of it.
func New(httpClient *http.Client, c cache.Cache, beaconParams []string, renewalTTL time.Duration, logger zerolog.Logger) *Resolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if renewalTTL <= 0 {
		renewalTTL = 25 * time.Minute
	}
	return &Resolver{
		httpClient:   httpClient,
		cache:        c,
		beaconParams: beaconParams,
		renewalTTL:   renewalTTL,
		logger:       logger,
	}
}

// Resolve produces the concrete upstream URL for streamURL under the given
// quality preference. bypassCache forces a fresh resolution (used by Layer-2
// resilience renewal).
func (r *Resolver) Resolve(ctx context.Context, streamURL string, pref Quality, bypassCache bool) (string, *Resolution, error) {
	target := r.unwrapBeacon(ctx, streamURL)

	if !looksLikeHLS(target) {
		return target, nil, nil
	}

	res, err := r.resolveMaster(ctx, target, bypassCache)
	if err != nil {
		// Network errors yield the original URL; the Supervisor surfaces
		// the real failure when it tries to use it.
		r.logger.Warn().Err(err).Str("url", sanitize(target)).Msg("master playlist resolution failed, falling back to original url")
		return target, nil, nil
	}

	if res.Encrypted {
		// Do not switch variants: pass the master URL through unchanged so
		// the subprocess handles key retrieval and decryption end-to-end.
		return res.FinalURL, res, nil
	}

	variant, err := selectVariant(res.Variants, pref)
	if err != nil {
		return res.FinalURL, res, nil
	}
	return variant.URI, res, nil
}

// unwrapBeacon follows up to maxRedirectHops 3xx hops via HEAD if rawURL's
// query carries a configured beacon parameter name. On any error it falls
// back to rawURL unchanged.
func (r *Resolver) unwrapBeacon(ctx context.Context, rawURL string) string {
	if !isBeaconURL(rawURL, r.beaconParams) {
		return rawURL
	}

	client := &http.Client{
		Timeout: r.httpClient.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirectHops {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return rawURL
	}
	resp, err := client.Do(req)
	if err != nil {
		return rawURL
	}
	defer resp.Body.Close()

	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String()
	}
	return rawURL
}

func isBeaconURL(rawURL string, beaconParams []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	q := u.Query()
	for _, name := range beaconParams {
		if q.Has(name) {
			return true
		}
	}
	return false
}

func looksLikeHLS(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.Contains(rawURL, ".m3u8")
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}

// resolveMaster fetches and parses the HLS master playlist at masterURL,
// coalescing concurrent callers for the same URL and consulting the cache
// unless bypassCache is set (used for Layer-2 renewal).
func (r *Resolver) resolveMaster(ctx context.Context, masterURL string, bypassCache bool) (*Resolution, error) {
	if !bypassCache && r.cache != nil {
		if v, ok := r.cache.Get(masterURL); ok {
			if res, ok := v.(*Resolution); ok {
				return res, nil
			}
		}
	}

	v, err, _ := r.sf.Do(masterURL, func() (any, error) {
		return r.fetchAndParse(ctx, masterURL)
	})
	if err != nil {
		return nil, err
	}
	res := v.(*Resolution)

	if r.cache != nil && !res.Encrypted {
		r.cache.Set(masterURL, res, time.Duration(float64(r.renewalTTL)*cacheTTLFraction))
	}
	return res, nil
}

func (r *Resolver) fetchAndParse(ctx context.Context, masterURL string) (*Resolution, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, masterURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamUnavailable, "fetch master playlist", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, gwerr.New(gwerr.UpstreamUnavailable, fmt.Sprintf("master playlist status %d", resp.StatusCode))
	}

	finalURL := masterURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	playlist, err := ParseMasterPlaylist(resp.Body)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.BadUpstream, "parse master playlist", err)
	}

	base, err := url.Parse(finalURL)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.BadUpstream, "parse master playlist base url", err)
	}

	variants := make([]Variant, 0, len(playlist.Variants))
	for _, v := range playlist.Variants {
		abs, err := resolveAbsolute(base, v.URI)
		if err != nil {
			continue
		}
		v.URI = abs
		variants = append(variants, v)
	}

	return &Resolution{
		FinalURL:   finalURL,
		Encrypted:  playlist.Encrypted,
		KeyMethod:  playlist.KeyMethod,
		Variants:   variants,
		ResolvedAt: time.Now(),
	}, nil
}

func resolveAbsolute(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

// selectVariant picks a Variant by bandwidth according to pref. An empty
// variant list, or a single-variant master, is handled without comparison.
func selectVariant(variants []Variant, pref Quality) (Variant, error) {
	if len(variants) == 0 {
		return Variant{}, fmt.Errorf("no variants")
	}
	if len(variants) == 1 {
		return variants[0], nil
	}

	sorted := make([]Variant, len(variants))
	copy(sorted, variants)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Bandwidth > sorted[j].Bandwidth; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}

	switch pref {
	case QualityLowest:
		return sorted[0], nil
	case QualityMedium:
		return sorted[len(sorted)/2], nil
	default: // highest
		return sorted[len(sorted)-1], nil
	}
}

func sanitize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
