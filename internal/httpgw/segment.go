package httpgw

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatewayd/internal/resolver"
)

// HandleSegment implements GET /stream/{channel_or_stream_id}/{segment}:
// the HLS segment proxy (§4.3). It never spawns a Supervisor or touches
// the Session Registry; every request independently resolves the current
// media playlist and fetches one segment body.
func (s *Server) HandleSegment(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	segment := chi.URLParam(r, "segment")

	_, strm, err := s.resolveRef(r.Context(), ref)
	if err != nil {
		writeError(w, err)
		return
	}

	playlistURL := strm.URL
	if s.resolver != nil {
		resolved, _, err := s.resolver.Resolve(r.Context(), strm.URL, resolver.DefaultQuality, false)
		if err != nil {
			writeError(w, err)
			return
		}
		playlistURL = resolved
	}

	segmentURL, err := s.hls.ResolveSegment(r.Context(), playlistURL, segment)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := s.hls.FetchSegment(r.Context(), segmentURL)
	if err != nil {
		writeError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "video/mp2t")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}
