package httpgw

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

// NewRouter builds the HTTP Surface's router with the canonical ingress
// middleware stack applied in the teacher's order: recover, request id,
// request logging, then a global rate limit. CORS is scoped to the
// preview route only (§4.8), not applied globally.
func NewRouter(s *Server) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(requestLogger(s))
	r.Use(httprate.LimitByIP(s.cfg.RateLimitRPS, time.Second))

	r.Get("/streams/active", s.HandleActive)
	r.Get("/streams/preview/{stream_id}", s.HandlePreview)
	r.Get("/stream/{ref}", s.HandleStream)
	r.Head("/stream/{ref}", s.HandleStream)
	r.Get("/stream/{ref}/{segment}", s.HandleSegment)

	return r
}

func requestLogger(s *Server) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			s.logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Str("request_id", chimw.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
