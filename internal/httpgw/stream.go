package httpgw

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"gatewayd/internal/catalog"
	"gatewayd/internal/fanout"
	"gatewayd/internal/gwerr"
	"gatewayd/internal/resolver"
	"gatewayd/internal/session"
	"gatewayd/internal/supervisor"
)

// StreamMediaType is the mandatory Content-Type on every tuner path
// response (spec.md §4.9).
const StreamMediaType = "video/mp2t"

// preemptiveRenewer is implemented by the Resilience Controller. It is
// asserted optionally off RecoveryHook so this package never imports the
// concrete controller type.
type preemptiveRenewer interface {
	RunPreemptiveRenewal(ctx context.Context, s *session.Session, interval time.Duration)
}

// parseQuality maps the optional ?quality= query param (§6) to a resolver
// preference, defaulting to resolver.DefaultQuality.
func parseQuality(r *http.Request) resolver.Quality {
	switch r.URL.Query().Get("quality") {
	case "low":
		return resolver.QualityLowest
	case "medium":
		return resolver.QualityMedium
	case "high":
		return resolver.QualityHighest
	default:
		return resolver.DefaultQuality
	}
}

// HandleStream implements GET/HEAD /stream/{channel_or_stream_id}.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	ch, strm, err := s.resolveRef(r.Context(), ref)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.Method == http.MethodHead {
		// A HEAD probe never creates a Session or counts toward
		// subscriber count (§5).
		w.Header().Set("Content-Type", StreamMediaType)
		w.WriteHeader(http.StatusOK)
		return
	}

	if !s.streamSem.TryAcquire(1) {
		writeError(w, gwerr.New(gwerr.CapacityExhausted, "stream concurrency cap reached"))
		return
	}
	defer s.streamSem.Release(1)

	class := classify(r, s.cfg.ClientClassRules)
	client := session.ClientInfo{
		Identity:   clientIdentity(r),
		ConsumerID: r.URL.Query().Get("consumer_id"),
		Class:      class.Class,
	}

	// §4.5 startup ordering: resolve upstream -> create Fan-out Hub ->
	// spawn Supervisor. quality honors the per-request override (§6).
	upstreamURL := strm.URL
	if s.resolver != nil {
		resolved, _, err := s.resolver.Resolve(r.Context(), strm.URL, parseQuality(r), false)
		if err != nil {
			writeError(w, gwerr.Wrap(gwerr.UpstreamUnavailable, "upstream resolve failed", err))
			return
		}
		upstreamURL = resolved
	}

	id, err := s.registry.Open(r.Context(), ch.ID, upstreamURL, client, s.prober)
	if err != nil {
		writeError(w, err)
		return
	}

	hook := s.hook
	if !class.Resilience {
		hook = nil
	}

	hub := fanout.New(int(s.cfg.RingBufferBytes))
	sess := session.New(id, s.registry, hub, hook, s.logger,
		s.cfg.StartupDeadline, s.cfg.StallDeadline, s.cfg.IdleGrace)
	s.trackSession(id, sess)

	argTemplate := s.templateFor(class.Template)
	handle, err := supervisor.Start(r.Context(), s.logger, s.cfg.Transcode.BinaryPath, argTemplate, upstreamURL)
	if err != nil {
		s.untrackSession(id)
		s.registry.Close(r.Context(), id, "spawn_failed")
		writeError(w, gwerr.Wrap(gwerr.UpstreamUnavailable, "supervisor failed to start", err))
		return
	}
	sess.Start(handle)

	if hook != nil {
		if pr, ok := hook.(preemptiveRenewer); ok {
			go pr.RunPreemptiveRenewal(r.Context(), sess, s.cfg.PreemptiveRenewal)
		}
	}

	sub, err := sess.Subscribe(r.Context(), fanout.JoinReplay)
	if err != nil {
		writeError(w, gwerr.Wrap(gwerr.UpstreamUnavailable, "session never became active", err))
		return
	}
	defer func() {
		sess.Unsubscribe(sub)
		s.untrackSession(id)
	}()

	w.Header().Set("Content-Type", StreamMediaType)
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
		case <-r.Context().Done():
			sess.Close()
			return
		}
	}
}

// resolveRef resolves the {channel_or_stream_id} path parameter: tries a
// channel id, then a numeric channel number, then falls back to treating
// ref as a direct stream id.
func (s *Server) resolveRef(ctx context.Context, ref string) (*catalog.Channel, *catalog.Stream, error) {
	if ch, err := s.catalog.GetChannelByID(ctx, ref); err == nil {
		strm, err := s.catalog.GetStreamForChannel(ctx, ch.ID)
		if err != nil {
			return nil, nil, err
		}
		return ch, strm, nil
	}
	if n, convErr := strconv.Atoi(ref); convErr == nil {
		if ch, err := s.catalog.GetChannelByNumber(ctx, n); err == nil {
			strm, err := s.catalog.GetStreamForChannel(ctx, ch.ID)
			if err != nil {
				return nil, nil, err
			}
			return ch, strm, nil
		}
	}
	strm, err := s.catalog.GetStreamByID(ctx, ref)
	if err != nil {
		return nil, nil, gwerr.New(gwerr.NotFound, "no channel or stream matches "+ref)
	}
	ch, err := s.catalog.GetChannelByID(ctx, strm.ChannelID)
	if err != nil {
		return nil, nil, err
	}
	return ch, strm, nil
}

func (s *Server) templateFor(name string) []string {
	switch name {
	case "mpegts_reencode":
		return s.cfg.Transcode.MpegTSReencode
	case "preview_mp4":
		return s.cfg.Transcode.PreviewMP4
	default:
		return s.cfg.Transcode.MpegTSCopy
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch gwerr.KindOf(err) {
	case gwerr.NotFound:
		status = http.StatusNotFound
	case gwerr.SessionConflict:
		status = http.StatusConflict
	case gwerr.CapacityExhausted:
		status = http.StatusServiceUnavailable
	case gwerr.UpstreamUnavailable, gwerr.BadUpstream:
		status = http.StatusBadGateway
	case gwerr.ClientGone:
		status = 499
	}
	http.Error(w, http.StatusText(status), status)
}
