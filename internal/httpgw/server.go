// Package httpgw is the HTTP Surface (spec.md §4.9): the tuner stream
// endpoint, HLS segment proxy, preview endpoint, and active-session
// readout, plus client classification and header emission.
package httpgw

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"gatewayd/internal/catalog"
	"gatewayd/internal/config"
	"gatewayd/internal/hlsresolve"
	"gatewayd/internal/preview"
	"gatewayd/internal/resolver"
	"gatewayd/internal/session"
)

// HealthProber is satisfied by the Resilience Controller; kept as a local
// interface so this package doesn't force a concrete wiring.
type HealthProber = session.HealthProber

// RecoveryHook is satisfied by the Resilience Controller.
type RecoveryHook = session.RecoveryHook

// Server holds every dependency the HTTP Surface's handlers need.
type Server struct {
	catalog  catalog.Catalog
	registry *session.Registry
	resolver *resolver.Resolver
	hls      *hlsresolve.Resolver
	preview  *preview.Manager
	prober   HealthProber
	hook     RecoveryHook
	cfg      config.RuntimeSnapshot
	logger   zerolog.Logger

	// streamSem caps concurrent tuner Sessions at cfg.MaxConcurrentStreams
	// (§6), the same TryAcquire-or-reject pattern as preview.Manager's cap.
	streamSem  *semaphore.Weighted
	httpClient *http.Client

	mu       sync.Mutex
	sessions map[string]*session.Session // session_id -> live Session, outside the Registry's Record
}

// New wires a Server. hook/prober may be nil (no resilience wiring); in
// that case ladder escalation never runs and a stalled/errored Session
// stays in RECOVERING until the client disconnects and Close drains it.
func New(
	cat catalog.Catalog,
	registry *session.Registry,
	res *resolver.Resolver,
	hls *hlsresolve.Resolver,
	prev *preview.Manager,
	prober HealthProber,
	hook RecoveryHook,
	cfg config.RuntimeSnapshot,
	logger zerolog.Logger,
) *Server {
	maxStreams := cfg.MaxConcurrentStreams
	if maxStreams <= 0 {
		maxStreams = 8
	}
	return &Server{
		catalog:    cat,
		registry:   registry,
		resolver:   res,
		hls:        hls,
		preview:    prev,
		prober:     prober,
		hook:       hook,
		cfg:        cfg,
		logger:     logger,
		streamSem:  semaphore.NewWeighted(maxStreams),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		sessions:   make(map[string]*session.Session),
	}
}

func (s *Server) trackSession(id string, sess *session.Session) {
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
}

func (s *Server) untrackSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Server) lookupSession(idOrAlias string) (*session.Session, bool) {
	id, ok := s.registry.Resolve(idOrAlias)
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}
