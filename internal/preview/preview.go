// Package preview implements the Preview Transcoder (spec.md §4.8): a
// concurrency-capped, short-lived browser-playable stream for an
// arbitrary Stream. It reuses the Supervisor and Fan-out Hub but, unlike
// the tuner path, carries no Resilience Controller — a preview failure
// surfaces directly to the HTTP response.
package preview

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"gatewayd/internal/fanout"
	"gatewayd/internal/gwerr"
	"gatewayd/internal/metrics"
	"gatewayd/internal/supervisor"
)

const defaultIdleTimeout = 30 * time.Second

// Manager caps the number of concurrent preview sessions, grounded on
// the teacher's proxy.Server.streamLimiter (semaphore.Weighted,
// TryAcquire-or-reject).
type Manager struct {
	sem         *semaphore.Weighted
	binaryPath  string
	argTemplate []string
	idleTimeout time.Duration
	logger      zerolog.Logger
}

// New creates a Manager allowing at most maxConcurrent simultaneous
// preview sessions. idleTimeout <= 0 uses the spec default (30s).
func New(maxConcurrent int64, binaryPath string, argTemplate []string, idleTimeout time.Duration, logger zerolog.Logger) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &Manager{
		sem:         semaphore.NewWeighted(maxConcurrent),
		binaryPath:  binaryPath,
		argTemplate: argTemplate,
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

// Session is one running preview: a Supervisor writing into a Fan-out Hub,
// torn down when either the upstream context ends or idleTimeout elapses
// with zero subscribers.
type Session struct {
	hub    *fanout.Hub
	handle *supervisor.Handle
	logger zerolog.Logger

	mu       sync.Mutex
	closed   bool
	closeCh  chan struct{}
	closeErr error
}

// Start acquires a concurrency slot and spawns a preview Supervisor for
// upstreamURL. Returns gwerr.CapacityExhausted if the cap is already met.
func (m *Manager) Start(ctx context.Context, upstreamURL string) (*Session, error) {
	if !m.sem.TryAcquire(1) {
		return nil, gwerr.New(gwerr.CapacityExhausted, "preview concurrency cap reached")
	}

	h, err := supervisor.Start(ctx, m.logger, m.binaryPath, m.argTemplate, upstreamURL)
	if err != nil {
		m.sem.Release(1)
		return nil, gwerr.Wrap(gwerr.UpstreamUnavailable, "preview supervisor failed to start", err)
	}

	s := &Session{
		hub:     fanout.New(0),
		handle:  h,
		logger:  m.logger,
		closeCh: make(chan struct{}),
	}

	metrics.ActivePreviews.Inc()
	go s.pump()
	go s.idleWatchdog(m.idleTimeout, func() {
		m.sem.Release(1)
		metrics.ActivePreviews.Dec()
	})

	return s, nil
}

// pump is the session's stdout-owning goroutine (§5: exactly one reader
// task per subprocess), publishing every chunk to the Fan-out Hub until
// the process exits or errors.
func (s *Session) pump() {
	r := s.handle.StdoutReader()
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.hub.Publish(buf[:n])
		}
		if err != nil {
			s.mu.Lock()
			s.closeErr = err
			s.mu.Unlock()
			s.Close()
			return
		}
	}
}

// idleWatchdog closes the session once SubscriberCount reaches zero and
// stays there for idleTimeout, or immediately once the session is closed
// by another path; release runs exactly once, when the slot is freed.
func (s *Session) idleWatchdog(idleTimeout time.Duration, release func()) {
	defer release()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var idleSince time.Time
	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			if s.hub.SubscriberCount() == 0 {
				if idleSince.IsZero() {
					idleSince = time.Now()
				} else if time.Since(idleSince) > idleTimeout {
					s.Close()
					return
				}
			} else {
				idleSince = time.Time{}
			}
		}
	}
}

// Subscribe attaches a viewer to the preview's Fan-out Hub.
func (s *Session) Subscribe() *fanout.Subscription {
	return s.hub.Subscribe(fanout.JoinLive)
}

// Unsubscribe detaches a viewer.
func (s *Session) Unsubscribe(sub *fanout.Subscription) {
	s.hub.Unsubscribe(sub)
}

// Close tears down the Supervisor and Fan-out Hub. Safe to call more than
// once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.closeCh)
	s.hub.Close()
	_ = s.handle.Stop(5 * time.Second)
}
