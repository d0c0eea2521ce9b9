package session

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gatewayd/internal/fanout"
	"gatewayd/internal/metrics"
	"gatewayd/internal/supervisor"
)

// recoverableKinds are the ClassifiedError kinds that drive ACTIVE ->
// RECOVERING per §4.5.
var recoverableKinds = map[supervisor.ErrorKind]struct{}{
	supervisor.NetworkTimeout: {},
	supervisor.HTTP5xx:        {},
	supervisor.PeerReset:      {},
	supervisor.EOF:            {},
	supervisor.Decryption:     {},
}

// RecoveryHook is notified when a Session enters RECOVERING. The
// Resilience Controller implements this and drives the ladder, calling
// back into the Session's Recovered/Fail methods; Session depends only on
// this interface to avoid importing the controller.
type RecoveryHook interface {
	HandleRecovery(s *Session, cause Event, detail string)
}

// Session is the Streaming Session state machine (§4.5): it owns exactly
// one Supervisor at a time and a Fan-out Hub, and exposes the operations
// the HTTP surface needs.
type Session struct {
	ID       string
	registry *Registry
	hub      *fanout.Hub
	logger   zerolog.Logger

	startupDeadline time.Duration
	stallDeadline   time.Duration
	forceCloseGrace time.Duration
	hook            RecoveryHook

	mu         sync.Mutex
	state      State
	handle     *supervisor.Handle
	lastByteAt time.Time
	activeCh   chan struct{} // closed once on first Active transition
	byteSignal chan struct{} // closed on the current handle's first byte

	stopStall chan struct{}
}

// New creates a Session attached to registry's record id, not yet started.
func New(id string, registry *Registry, hub *fanout.Hub, hook RecoveryHook, logger zerolog.Logger, startupDeadline, stallDeadline, forceCloseGrace time.Duration) *Session {
	if startupDeadline <= 0 {
		startupDeadline = 10 * time.Second
	}
	if stallDeadline <= 0 {
		stallDeadline = 30 * time.Second
	}
	if forceCloseGrace <= 0 {
		forceCloseGrace = 15 * time.Second
	}
	return &Session{
		ID:              id,
		registry:        registry,
		hub:             hub,
		logger:          logger,
		startupDeadline: startupDeadline,
		stallDeadline:   stallDeadline,
		forceCloseGrace: forceCloseGrace,
		hook:            hook,
		state:           Starting,
		activeCh:        make(chan struct{}),
		stopStall:       make(chan struct{}),
	}
}

// AttachSupervisor installs h as the session's current Supervisor,
// replacing any previous one atomically (§3 invariant 1: at most one
// Supervisor attached at any instant). The caller is responsible for
// having already Stopped the previous handle.
func (s *Session) AttachSupervisor(h *supervisor.Handle) {
	s.mu.Lock()
	restart := s.handle != nil
	s.handle = h
	s.byteSignal = make(chan struct{})
	s.registry.Mutate(s.ID, func(r *Record) {
		r.LastSupervisorStartAt = time.Now()
		if restart {
			r.Counters.SupervisorRestarts++
		}
	})
	s.mu.Unlock()

	go s.runEventLoop(h)
}

// ByteSignal returns a channel closed when the current Supervisor handle
// produces its first stdout byte. Used by the Resilience Controller to
// know when a replacement Supervisor has come back up, since the
// Recovering -> Active transition is driven by Recovered(), not directly
// by stdout activity.
func (s *Session) ByteSignal() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byteSignal
}

// UpstreamURL returns the session's currently resolved upstream URL.
func (s *Session) UpstreamURL() string {
	snap, _ := s.registry.Get(s.ID)
	return snap.UpstreamURL
}

// SetUpstreamURL records a renewed upstream URL on the session's Record.
func (s *Session) SetUpstreamURL(url string) {
	s.registry.Mutate(s.ID, func(r *Record) {
		r.UpstreamURL = url
		r.LastUpstreamRenewalAt = time.Now()
	})
}

// Mutate grants brief, lock-held access to the session's Record via the
// owning Registry; see Registry.Mutate.
func (s *Session) Mutate(fn func(*Record)) bool {
	return s.registry.Mutate(s.ID, fn)
}

// Registry returns the Registry that owns this session's Record, for
// callers (the Resilience Controller) that need to probe session health.
func (s *Session) Registry() *Registry {
	return s.registry
}

// Start performs the startup-ordering sequence's Supervisor-facing half:
// it attaches h, begins consuming its events, and starts the stall
// watchdog. Upstream resolution and Fan-out Hub creation happen in the
// caller per §4.5 ("resolve upstream -> create Fan-out Hub -> spawn
// Supervisor -> ...").
func (s *Session) Start(h *supervisor.Handle) {
	s.AttachSupervisor(h)
	go s.stallWatchdog()
}

func (s *Session) runEventLoop(h *supervisor.Handle) {
	go s.copyStdout(h)
	go s.startupWatchdog()

	for ev := range h.Events {
		switch ev.Kind {
		case supervisor.EventClassifiedError:
			if _, recoverable := recoverableKinds[ev.ErrKind]; recoverable {
				s.apply(EvClassifiedError, string(ev.ErrKind))
			}
		case supervisor.EventExited:
			s.mu.Lock()
			wasStarting := s.state == Starting
			s.mu.Unlock()
			if wasStarting {
				s.apply(EvSpawnFailed, ev.Signal)
			} else if ev.ExitCode != 0 {
				s.apply(EvSupervisorExit, ev.Signal)
			}
		}
	}
}

// startupWatchdog forces ENDED if no first byte arrives within the
// startup deadline (§4.5: "STARTING -> ENDED on spawn failure or
// startup-deadline timeout").
func (s *Session) startupWatchdog() {
	select {
	case <-s.activeCh:
	case <-time.After(s.startupDeadline):
		s.apply(EvStartupTimeout, "no stdout byte within startup deadline")
	}
}

// copyStdout is the stdout-owning goroutine (§5: exactly one reader task
// per subprocess). The first successful read is the STARTING -> ACTIVE
// trigger per §4.5; the Supervisor's own Started event is only a spawn
// confirmation and carries no first-byte timing information.
func (s *Session) copyStdout(h *supervisor.Handle) {
	r := h.StdoutReader()
	buf := make([]byte, 64*1024)
	first := true
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.touchByte()
			if first {
				s.apply(EvFirstByte, "")
				s.mu.Lock()
				if s.handle == h {
					close(s.byteSignal)
				}
				s.mu.Unlock()
				first = false
			}
			var class ClientClass
			s.registry.Mutate(s.ID, func(rec *Record) {
				rec.Counters.BytesForwarded += int64(n)
				class = rec.ClientClass
			})
			metrics.BytesForwarded.WithLabelValues(string(class)).Add(float64(n))
			s.hub.Publish(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Debug().Err(err).Msg("stdout copy loop ended")
			}
			return
		}
	}
}

func (s *Session) touchByte() {
	s.mu.Lock()
	s.lastByteAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) stallWatchdog() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			last := s.lastByteAt
			state := s.state
			s.mu.Unlock()
			if state == Active && !last.IsZero() && time.Since(last) > s.stallDeadline {
				s.apply(EvStall, "no producer bytes within stall_deadline")
			}
			if state == Ended {
				return
			}
		case <-s.stopStall:
			return
		}
	}
}

// apply looks up the legal transition for (current state, ev) and, if
// found, moves the session and reacts to the destination state.
func (s *Session) apply(ev Event, detail string) {
	s.mu.Lock()
	from := s.state
	to, ok := transitionFor(from, ev)
	if !ok {
		s.mu.Unlock()
		return
	}
	s.state = to
	if to == Active && from != Active {
		select {
		case <-s.activeCh:
		default:
			close(s.activeCh)
		}
	}
	s.mu.Unlock()

	s.registry.setState(s.ID, to)
	s.logger.Info().Str("from", string(from)).Str("to", string(to)).Str("event", string(ev)).Str("detail", detail).Msg("session transition")

	switch to {
	case Recovering:
		if s.hook != nil {
			go s.hook.HandleRecovery(s, ev, detail)
		}
	case Ended:
		close(s.stopStall)
		s.hub.Close()
		if s.handle != nil {
			_ = s.handle.Stop(5 * time.Second)
		}
		s.registry.Close(context.Background(), s.ID, string(ev))
		metrics.SessionEnded.WithLabelValues(string(ev)).Inc()
	}
}

// Recovered is called by the Resilience Controller once a replacement
// Supervisor has produced bytes again.
func (s *Session) Recovered() {
	s.apply(EvRecovered, "")
}

// Fail is called by the Resilience Controller when the ladder is
// exhausted.
func (s *Session) Fail() {
	s.apply(EvLadderExhausted, "unrecoverable")
}

// Close requests graceful shutdown; the session transitions to DRAINING
// and then ENDED once subscribers have detached or forceCloseGrace
// elapses.
func (s *Session) Close() {
	s.apply(EvCloseRequested, "")
	go func() {
		deadline := time.After(s.forceCloseGrace)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if s.hub.SubscriberCount() == 0 {
					s.apply(EvSubscribersGone, "")
					return
				}
			case <-deadline:
				s.apply(EvForceCloseTimer, "")
				return
			}
		}
	}()
}

// Subscribe attaches out to the Fan-out Hub. If the session is still
// STARTING, it waits (bounded by the startup deadline) for the first
// Active transition so the subscriber joins mid-GOP with bounded latency.
func (s *Session) Subscribe(ctx context.Context, mode fanout.JoinMode) (*fanout.Subscription, error) {
	s.mu.Lock()
	state := s.state
	activeCh := s.activeCh
	s.mu.Unlock()

	if state == Starting {
		select {
		case <-activeCh:
		case <-time.After(s.startupDeadline):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.registry.TouchActivity(s.ID, ActivitySubscribed)
	return s.hub.Subscribe(mode), nil
}

// Unsubscribe detaches sub from the Fan-out Hub.
func (s *Session) Unsubscribe(sub *fanout.Subscription) {
	s.hub.Unsubscribe(sub)
}

// Status returns the session's current Snapshot.
func (s *Session) Status() (Snapshot, bool) {
	return s.registry.Get(s.ID)
}
