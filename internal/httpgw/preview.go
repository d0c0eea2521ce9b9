package httpgw

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"gatewayd/internal/gwerr"
	"gatewayd/internal/session"
)

// HandlePreview implements GET /streams/preview/{stream_id} (§4.8): a
// capped, short-lived preview with no Session Registry involvement. The
// router applies no global CORS policy, so this handler sets the CORS
// header itself, since previews are commonly embedded cross-origin.
//
// Optional query params (§6): quality (low|medium|high), transcode
// (true|false, default true for browsers and false otherwise), timeout
// (ms, bounds the whole request). Response is video/mp4 for
// browser-classified clients, the upstream's own content-type otherwise.
func (s *Server) HandlePreview(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "stream_id")

	_, strm, err := s.resolveRef(r.Context(), streamID)
	if err != nil {
		writeError(w, err)
		return
	}

	class := classify(r, s.cfg.ClientClassRules)

	ctx := r.Context()
	if ms, convErr := strconv.Atoi(r.URL.Query().Get("timeout")); convErr == nil && ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	upstreamURL := strm.URL
	if s.resolver != nil {
		if resolved, _, err := s.resolver.Resolve(ctx, strm.URL, parseQuality(r), false); err == nil {
			upstreamURL = resolved
		}
	}

	transcode := class.Class == session.ClassWebBrowser
	if v := r.URL.Query().Get("transcode"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			transcode = parsed
		}
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")

	if !transcode {
		s.proxyDirect(ctx, w, upstreamURL)
		return
	}

	sess, err := s.preview.Start(ctx, upstreamURL)
	if err != nil {
		writeError(w, err)
		return
	}

	sub := sess.Subscribe()
	defer func() {
		sess.Unsubscribe(sub)
	}()

	w.Header().Set("Content-Type", "video/mp4")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for {
		select {
		case chunk, ok := <-sub.Chan:
			if !ok {
				return
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-ctx.Done():
			return
		}
	}
}

// proxyDirect streams upstreamURL's body straight through, carrying its
// own content-type (§6: "direct content-type for external players")
// instead of transcoding. Used when transcode=false or the client isn't
// classified as a browser.
func (s *Server) proxyDirect(ctx context.Context, w http.ResponseWriter, upstreamURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstreamURL, nil)
	if err != nil {
		writeError(w, gwerr.Wrap(gwerr.BadUpstream, "build upstream request", err))
		return
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		writeError(w, gwerr.Wrap(gwerr.UpstreamUnavailable, "fetch upstream", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		writeError(w, gwerr.New(gwerr.BadUpstream, "upstream preview fetch failed"))
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = StreamMediaType
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, resp.Body)
}
